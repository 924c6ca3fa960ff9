package wal

import (
	"errors"

	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// ReplayStats summarizes a replay pass, per spec §4.3.
type ReplayStats struct {
	LastSeq       uint64
	ReplayedCount int
	MalformedCount int
}

// ReplayHandler is invoked once per successfully decoded entry, in
// ascending seq order.
type ReplayHandler func(entry *Entry) error

// Replay iterates entries from startSeq upward, deserializing,
// decompressing and decrypting as needed. Malformed entries are counted,
// logged and skipped — replay never stops because of them (spec §4.3).
// A replay of an empty WAL yields zero events and LastSeq=0.
func (w *Writer) Replay(startSeq uint64, handler ReplayHandler) (ReplayStats, error) {
	var stats ReplayStats
	type quarantineCandidate struct {
		seq uint64
		raw []byte
	}
	var toQuarantine []quarantineCandidate

	err := w.store.forEachEntry(startSeq, func(seq uint64, se *storedEntry, raw []byte, decodeErr error) error {
		if decodeErr != nil {
			stats.MalformedCount++
			w.log.Printf("replay: skipping malformed entry at seq=%d: %v", seq, decodeErr)
			toQuarantine = append(toQuarantine, quarantineCandidate{seq, raw})
			return nil
		}

		entry, convErr := w.toEntry(se)
		if convErr != nil {
			stats.MalformedCount++
			w.log.Printf("replay: skipping undecodable entry at seq=%d: %v", seq, convErr)
			toQuarantine = append(toQuarantine, quarantineCandidate{seq, raw})
			return nil
		}

		stats.ReplayedCount++
		stats.LastSeq = seq
		return handler(entry)
	})
	if err != nil {
		return stats, err
	}

	// Quarantine after the read transaction has closed: bbolt holds a
	// single writer lock, and calling Update from inside a View callback
	// on the same goroutine would deadlock against it.
	for _, qc := range toQuarantine {
		if err := w.store.quarantine(qc.seq, qc.raw); err != nil {
			w.log.Printf("replay: failed to quarantine seq=%d: %v", qc.seq, err)
		}
	}
	return stats, nil
}

// toEntry reverses prepareEntry: decrypt, decompress, then decode the
// stable binary event form.
func (w *Writer) toEntry(se *storedEntry) (*Entry, error) {
	payload := se.EventBytes
	if se.Encryption.Algo != EncryptionNone {
		if w.cfg.Decrypt == nil {
			return nil, errors.New("wal: entry is encrypted but no Decrypt function configured")
		}
		pt, err := w.cfg.Decrypt(se.Encryption.KeyID, se.Encryption.Nonce, payload)
		if err != nil {
			return nil, err
		}
		payload = pt
	}
	if se.Compression.Algo == CompressionZstd {
		pt, err := zstdDecompress(payload)
		if err != nil {
			return nil, err
		}
		payload = pt
	}
	ev, err := decodeEvent(payload)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Seq:             se.Seq,
		Event:           ev,
		Compression:     se.Compression,
		Encryption:      se.Encryption,
		Acked:           se.Acked,
		RetentionPolicy: se.RetentionPolicy,
	}, nil
}

// LookupSeq resolves an event_id to its WAL seq via the event index
// populated unconditionally at append time, for the Streamer to correlate
// a just-sent event with the Acknowledger's pending map before it has ever
// been acked.
func (w *Writer) LookupSeq(eventID string) (uint64, bool) {
	return w.store.lookupEventIndex(eventID)
}

// GetByEventID looks up an entry by its event_id via the ack index. This
// requires the entry to have been acked at least once (the ack index is
// only populated on ack, per the Acknowledger's write path) — it exists
// mainly so tests and diagnostics can confirm a specific event survived.
func (w *Writer) GetByEventID(eventID string) (*Entry, error) {
	seq, ok := w.store.lookupAckIndex(eventID)
	if !ok {
		return nil, ErrNotFound
	}
	return w.GetBySeq(seq)
}

// GetBySeq fetches and fully decodes the entry at seq.
func (w *Writer) GetBySeq(seq uint64) (*Entry, error) {
	se, err := w.store.getEntry(seq)
	if err != nil {
		return nil, err
	}
	return w.toEntry(se)
}

// MarkAcked flips Acked=true for seq and records eventID in the ack index,
// satisfying the Acknowledger's contract (spec §4.7): "update the ack
// index key and flip acked=true".
func (w *Writer) MarkAcked(seq uint64, eventID string) error {
	if err := w.store.markAcked(seq); err != nil {
		return err
	}
	return w.store.putAckIndex(eventID, seq)
}

// ListUnacked returns entries with Acked=false starting at startSeq, in
// priority order (Critical first). No caller in the agent uses it to
// resend entries the Streamer released after exhausting its retries.
func (w *Writer) ListUnacked(startSeq uint64) ([]*Entry, error) {
	var out []*Entry
	err := w.store.forEachEntry(startSeq, func(seq uint64, se *storedEntry, raw []byte, decodeErr error) error {
		if decodeErr != nil || se.Acked {
			return nil
		}
		entry, convErr := w.toEntry(se)
		if convErr != nil {
			return nil
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByPriority(out)
	return out, nil
}

func sortByPriority(entries []*Entry) {
	// Simple insertion sort: these lists are bounded by in-flight WAL
	// depth, not expected to be large enough to justify sort.Slice's
	// reflection overhead on a constrained device.
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && priorityOf(entries[j]) < priorityOf(entries[j-1]) {
			entries[j], entries[j-1] = entries[j-1], entries[j]
			j--
		}
	}
}

func priorityOf(e *Entry) event.Priority {
	if e.Event == nil {
		return event.PriorityLow
	}
	return e.Event.Priority
}
