// Package wal implements the device's write-ahead log: the durable store
// that every Event passes through before it is ever allowed to leave the
// vehicle. Nothing is acknowledged to a producer until it is fsynced here;
// nothing is deleted until the server has acknowledged it or retention
// policy permits the loss.
//
// Storage layout mirrors spec §4.2: an embedded key-value store (bbolt)
// keyed by big-endian seq, plus a separate ack-index bucket (event_id ->
// seq) and a checkpoint-log bucket, plus a poison bucket into which replay
// moves an entry the first time it fails to decode; there is no retry
// count.
package wal

import (
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// CompressionAlgo names the compression applied to a stored entry's
// payload bytes. "none" is a valid, explicit value (spec §3).
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// Compression records what was done to the payload before it hit disk.
type Compression struct {
	Algo       CompressionAlgo
	Level      int
	Original   int
	Compressed int
}

// EncryptionAlgo names the AEAD used for at-rest encryption, if any.
type EncryptionAlgo string

const (
	EncryptionNone           EncryptionAlgo = "none"
	EncryptionChaCha20Poly1305 EncryptionAlgo = "chacha20poly1305"
)

// Encryption records the per-entry nonce and key identifier used, so a
// later reader knows which key from the ring to use to decrypt.
type Encryption struct {
	Algo  EncryptionAlgo
	KeyID string
	Nonce []byte
}

// RetentionKind tags which retention policy an entry was written under.
type RetentionKind string

const (
	RetentionTimeBased     RetentionKind = "time_based"
	RetentionSizeBased     RetentionKind = "size_based"
	RetentionPriorityBased RetentionKind = "priority_based"
)

// RetentionPolicy is a tagged union; exactly one of the three fields
// relevant to Kind is meaningful, matching spec §3's
// {TimeBased{max_age}, SizeBased{max_percent}, PriorityBased{min_priority}}.
type RetentionPolicy struct {
	Kind        RetentionKind
	MaxAge      time.Duration  // TimeBased
	MaxPercent  float64        // SizeBased: target disk usage fraction
	MinPriority event.Priority // PriorityBased: retain at or above this priority
}

// Entry is a WAL record: an Event plus the durability bookkeeping spec §3
// attaches to it. Seq is assigned by the writer at append time and is
// strictly monotone (invariant 1).
type Entry struct {
	Seq             uint64
	Event           *event.Event
	Compression     Compression
	Encryption      Encryption
	Acked           bool
	RetentionPolicy RetentionPolicy
}

// IsCritical reports whether this entry must never be evicted for disk
// pressure alone while unacked (spec §3 invariant 3).
func (e *Entry) IsCritical() bool {
	return e.Event != nil && e.Event.IsAlertPriority()
}

// storedEntry is the on-disk representation gob-encodes into the entries
// bucket. EventBytes holds the (possibly compressed, possibly encrypted)
// serialized Event; Checksum guards against torn writes, matching the
// teacher's storage/wal checksum discipline but computed over seq, the
// event bytes and the acked flag (see entryChecksum) rather than three
// string-concatenated fields.
type storedEntry struct {
	Seq             uint64
	EventBytes      []byte
	Compression     Compression
	Encryption      Encryption
	Acked           bool
	RetentionPolicy RetentionPolicy
	Checksum        uint32

	// Timestamp, Priority and EventID are denormalized copies of the
	// underlying Event's fields, carried alongside the (possibly
	// encrypted, compressed) payload so the compactor can make retention
	// decisions and the event index can be populated without decrypting
	// and decoding every entry.
	Timestamp time.Time
	Priority  event.Priority
	EventID   string
}
