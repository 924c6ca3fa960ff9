package wal

import "errors"

// Sentinel errors returned from Append and friends. Callers are expected
// to errors.Is against these, matching error-kind taxonomy in spec §7.
var (
	// ErrClosed indicates the WAL has been closed; no further operations
	// are permitted on this instance.
	ErrClosed = errors.New("wal: closed")

	// ErrDiskFull is returned when the underlying store reports it cannot
	// accept more data, or when an fsync fails in a way that indicates the
	// disk is unusable. It fails the Appends of the affected flush only;
	// the writer stays open and keeps accepting Appends.
	ErrDiskFull = errors.New("wal: disk full")

	// ErrSerialization wraps failures encoding an Event to its stable
	// binary form. A Data-kind error per spec §7 — the offending item is
	// quarantined, the pipeline does not abort.
	ErrSerialization = errors.New("wal: serialization error")

	// ErrThrottled is the soft backpressure error surfaced to producers
	// when disk usage is above the high-watermark and the Adaptive
	// Controller has asserted throttle_writes (spec §4.2 "Throttle
	// signal"). Only non-critical appends are throttled.
	ErrThrottled = errors.New("wal: throttled")

	// ErrNotFound is returned when a lookup by event_id or seq misses.
	ErrNotFound = errors.New("wal: entry not found")

	// ErrCorrupt indicates a stored record failed its checksum on replay.
	// Replay counts and skips these; it never aborts (spec §4.3).
	ErrCorrupt = errors.New("wal: corrupt entry")

	// ErrIO wraps an underlying store I/O failure that isn't specifically
	// disk-full (e.g. a transient filesystem error).
	ErrIO = errors.New("wal: io error")
)
