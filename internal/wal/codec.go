package wal

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/crc32"

	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// The teacher's storage/wal package serializes with encoding/json, one
// object per line. We generalize that choice to gob: still a stdlib
// codec (no corpus dependency covers "serialize an arbitrary tagged
// union of Go structs" more directly than Go's own encoding/gob, which is
// why this single concern stays on the standard library — see DESIGN.md),
// but one that gives every Event.Payload variant a stable, self-describing
// binary form without hand-rolling per-field binary.Write calls. Payload
// implementations are registered once at init so gob recognizes the
// concrete type behind the Payload interface on decode.
func init() {
	gob.Register(&event.SensorPayload{})
	gob.Register(&event.CameraMetaPayload{})
	gob.Register(&event.CameraBlobPayload{})
	gob.Register(&event.InferencePayload{})
	gob.Register(&event.HealthPayload{})
	gob.Register(&event.HeartbeatPayload{})
	gob.Register(&event.CheckpointPayload{})
	gob.Register(&event.CommandResponsePayload{})
	gob.Register(&event.AlertPayload{})
}

// encodeEvent turns an Event into its stable binary form. Each call uses
// its own encoder/decoder pair over a fresh buffer rather than a shared
// stream encoder, so entries remain independently decodable — required
// for the compactor, which rewrites individual entries without replaying
// the whole log.
func encodeEvent(e *event.Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

func decodeEvent(b []byte) (*event.Event, error) {
	var e event.Event
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &e, nil
}

// entryChecksum covers the fields that make a stored entry unique and
// immutable (seq, event bytes, acked flag) — not the whole gob stream, so
// that re-encoding after a field like Acked flips still lets the rest of
// the record be checksum-verified against what was actually written.
// This mirrors the teacher's storage/wal checksum.go, which checksums
// selected fields rather than a full serialized blob.
func entryChecksum(se *storedEntry) uint32 {
	h := crc32.NewIEEE()
	_, _ = h.Write(seqKey(se.Seq))
	_, _ = h.Write(se.EventBytes)
	if se.Acked {
		_, _ = h.Write([]byte{1})
	}
	return h.Sum32()
}

// encodeStoredEntry/decodeStoredEntry (de)serialize the on-disk record
// that lives in the bbolt "entries" bucket, including the checksum that
// guards against a torn write being replayed as if it were valid.
func encodeStoredEntry(se *storedEntry) ([]byte, error) {
	se.Checksum = entryChecksum(se)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(se); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

func decodeStoredEntry(b []byte) (*storedEntry, error) {
	var se storedEntry
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&se); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if entryChecksum(&se) != se.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch at seq=%d", ErrCorrupt, se.Seq)
	}
	return &se, nil
}

// seqKey encodes a sequence number as an 8-byte big-endian key, per spec
// §4.2 ("keys are big-endian seq").
func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(seq)
		seq >>= 8
	}
	return b
}

func seqFromKey(b []byte) uint64 {
	var seq uint64
	for _, c := range b {
		seq = seq<<8 | uint64(c)
	}
	return seq
}
