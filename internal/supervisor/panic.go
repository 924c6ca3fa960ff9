package supervisor

import "runtime/debug"

// debugStack wraps runtime/debug.Stack so panic.go is the only file in
// this package that imports it.
func debugStack() []byte {
	return debug.Stack()
}
