// ============================================================================
// Acknowledger - Server Ack Correlation
// ============================================================================
//
// Package: internal/ack
// File: acknowledger.go
// Purpose: Correlate transport-level Acks back to pending events and the WAL.
//
// Design Philosophy (spec §4.7):
//   pending map[event_id]PendingEntry is the single source of truth for
//   "sent, not yet confirmed". On an Ack, each named event_id is marked
//   acked in both the pending map and the WAL's ack index. Missing ids are
//   logged, not errored — the server is allowed to report a superset.
//
// Concurrency:
//   - sync.Mutex protects the pending map, following the same
//     single-writer-discipline the teacher's JobManager uses for its jobs
//     map (one lock, simple read/write sections, no lock-free cleverness).
//
// Backpressure:
//   - A bounded pending map size signals the Streamer to stop pulling new
//     batches from the Batcher until server acks drain it back down.
// ============================================================================

package ack

import (
	"errors"
	"log"
	"sync"
	"time"
)

var ErrUnknownEventID = errors.New("ack: event id not pending")

// PendingEntry tracks one sent-but-unconfirmed event, per spec §4.7.
type PendingEntry struct {
	Seq     uint64
	SentAt  time.Time
	BatchID string
}

// WALMarker is the subset of *wal.Writer the Acknowledger needs; kept as an
// interface so tests can stub it without a real bbolt store.
type WALMarker interface {
	MarkAcked(seq uint64, eventID string) error
}

// Config bounds the pending map and wires the WAL correlation target.
type Config struct {
	MaxPending int // 0 disables the backpressure signal
	WAL        WALMarker
	Logger     *log.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Acknowledger owns the pending map (spec §3 Ownership: "the Acknowledger
// owns the pending map").
type Acknowledger struct {
	cfg Config

	mu      sync.Mutex
	pending map[string]PendingEntry
}

func New(cfg Config) *Acknowledger {
	return &Acknowledger{cfg: cfg.withDefaults(), pending: make(map[string]PendingEntry)}
}

// Track registers a sent event awaiting ack. Called once per event_id as
// soon as a batch containing it is handed to the transport.
func (a *Acknowledger) Track(eventID string, seq uint64, batchID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[eventID] = PendingEntry{Seq: seq, SentAt: time.Now(), BatchID: batchID}
}

// TrackBatch registers every (eventID, seq) pair belonging to one batch.
func (a *Acknowledger) TrackBatch(batchID string, entries map[string]uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for eventID, seq := range entries {
		a.pending[eventID] = PendingEntry{Seq: seq, SentAt: now, BatchID: batchID}
	}
}

// Confirm processes a server Ack naming which event_ids it accepted.
// Missing ids (present in an earlier batch, absent from this ack) are left
// pending for a later ack or the retry path to resolve; unexpected ids not
// currently pending are logged and skipped, not errors (spec §4.7: "server
// may report a superset").
func (a *Acknowledger) Confirm(batchID string, eventIDs []string) {
	for _, id := range eventIDs {
		a.mu.Lock()
		entry, ok := a.pending[id]
		if !ok {
			a.mu.Unlock()
			a.cfg.Logger.Printf("ack: confirm for unknown event_id=%s batch=%s (superset ack, ignoring)", id, batchID)
			continue
		}
		delete(a.pending, id)
		a.mu.Unlock()

		if a.cfg.WAL != nil {
			if err := a.cfg.WAL.MarkAcked(entry.Seq, id); err != nil {
				a.cfg.Logger.Printf("ack: failed to mark seq=%d event_id=%s acked in WAL: %v", entry.Seq, id, err)
			}
		}
	}
}

// Release drops an event from the pending map without acking the WAL, used
// by the retry path once a batch's retries are exhausted (spec §4.8: "remove
// from the pending map" while leaving acked=false in the WAL).
func (a *Acknowledger) Release(eventID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, eventID)
}

// ReleaseBatch releases every event_id belonging to batchID still pending,
// for bulk cleanup after a batch is abandoned.
func (a *Acknowledger) ReleaseBatch(batchID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, entry := range a.pending {
		if entry.BatchID == batchID {
			delete(a.pending, id)
		}
	}
}

// Lookup reports the PendingEntry for eventID, for tests and diagnostics.
func (a *Acknowledger) Lookup(eventID string) (PendingEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.pending[eventID]
	return e, ok
}

// Len reports the current pending count.
func (a *Acknowledger) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Backpressured reports whether the pending map holds MaxPending or more entries,
// the Streamer's signal to stop pulling from the Batcher (spec §4.7).
func (a *Acknowledger) Backpressured() bool {
	if a.cfg.MaxPending <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending) >= a.cfg.MaxPending
}
