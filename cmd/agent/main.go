// ============================================================================
// Edge Agent CLI
// ============================================================================
//
// Package: cmd/agent
// File: main.go
// Purpose: Cobra-based entry point wiring every internal/* component into
//          a running agent, plus maintenance subcommands for the WAL,
//          health, and OTA surfaces.
//
// Grounded on internal/cli/cli.go's BuildCLI/buildRunCommand shape
// (persistent --config flag, one cobra.Command per subsystem action,
// RunE returning a wrapped error) generalized from the teacher's
// run/enqueue/status commands to this agent's run/wal/health/ota
// commands, and on its runControllerNode signal-handling loop
// (signal.Notify on SIGINT/SIGTERM, block, then graceful stop)
// extended with SIGQUIT for an emergency/non-graceful shutdown path
// per spec §4.11's "hard abort that bypasses graceful steps".
//
// Exit codes: 0 clean, 1 generic error, 2 config invalid, 3
// shutdown-by-signal, 4 panic.
// ============================================================================

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const (
	exitOK = iota
	exitGenericError
	exitConfigInvalid
	exitShutdownSignal
	exitPanic
)

var configPath string

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		log.Printf("agent: automaxprocs: %v", err)
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
		log.Printf("agent: automemlimit: %v", err)
	}

	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Vehicle-borne edge telemetry agent",
		Version:       "1.0.0",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/agent.toml", "config file path")

	root.AddCommand(buildRunCommand())
	root.AddCommand(buildWALCommand())
	root.AddCommand(buildHealthCommand())
	root.AddCommand(buildOTACommand())
	return root
}

// exitStatusError lets subcommands request a specific process exit code
// without cobra printing "Error: <code>" as if it were a message.
type exitStatusError struct {
	code int
	err  error
}

func (e *exitStatusError) Error() string { return e.err.Error() }
func (e *exitStatusError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitStatusError{code: code, err: err}
}

func exitCodeFor(err error) int {
	fmt.Fprintln(os.Stderr, "Error:", err)
	if se, ok := err.(*exitStatusError); ok {
		return se.code
	}
	return exitGenericError
}
