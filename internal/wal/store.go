package wal

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries     = []byte("entries")
	bucketAckIndex    = []byte("ack_index")
	bucketCheckpoints = []byte("checkpoints")
	bucketPoison      = []byte("poison")
	bucketEventIndex  = []byte("event_index")
)

// store wraps the embedded key-value engine (bbolt) that backs the WAL's
// on-disk state, per spec §4.2's storage layout. It owns the bucket
// topology; everything above it (writer, reader, compactor) talks in
// terms of seq/event_id, never bucket names.
type store struct {
	db *bolt.DB
}

func openStore(path string) (*store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open bbolt store: %v", ErrIO, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntries, bucketAckIndex, bucketCheckpoints, bucketPoison, bucketEventIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init buckets: %v", ErrIO, err)
	}
	return &store{db: db}, nil
}

func (s *store) close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// putEntries performs one batched put across all given entries, followed
// implicitly by bbolt's own fsync-on-commit — this is the "batched put and
// a store-level fsync" spec §4.2 step 7 calls for.
func (s *store) putEntries(entries []*storedEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		ei := tx.Bucket(bucketEventIndex)
		for _, se := range entries {
			raw, err := encodeStoredEntry(se)
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(se.Seq), raw); err != nil {
				return err
			}
			// The ack index (event_id -> seq for acked entries) is written
			// lazily on ack, see markAcked/putAckIndex. The event index
			// below is unconditional and written at append time, so
			// callers needing an event's seq before it is ever acked (the
			// Streamer correlating a send to the Acknowledger) have
			// somewhere to look it up.
			if se.EventID != "" {
				if err := ei.Put([]byte(se.EventID), seqKey(se.Seq)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *store) getEntry(seq uint64) (*storedEntry, error) {
	var se *storedEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEntries).Get(seqKey(seq))
		if raw == nil {
			return ErrNotFound
		}
		decoded, err := decodeStoredEntry(raw)
		if err != nil {
			return err
		}
		se = decoded
		return nil
	})
	return se, err
}

func (s *store) deleteEntry(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete(seqKey(seq))
	})
}

// forEachEntry iterates entries in ascending seq order starting at
// startSeq, calling fn for each record; a record that fails to decode is
// passed with decodeErr set. fn returning any error aborts iteration.
func (s *store) forEachEntry(startSeq uint64, fn func(seq uint64, se *storedEntry, raw []byte, decodeErr error) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		start := seqKey(startSeq)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			seq := seqFromKey(k)
			se, err := decodeStoredEntry(v)
			raw := append([]byte(nil), v...)
			if cbErr := fn(seq, se, raw, err); cbErr != nil {
				return cbErr
			}
		}
		return nil
	})
}

func (s *store) maxSeq() (uint64, bool) {
	var max uint64
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		k, _ := c.Last()
		if k != nil {
			max = seqFromKey(k)
			found = true
		}
		return nil
	})
	return max, found
}

func (s *store) lookupEventIndex(eventID string) (uint64, bool) {
	var seq uint64
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEventIndex).Get([]byte(eventID))
		if raw != nil {
			seq = seqFromKey(raw)
			found = true
		}
		return nil
	})
	return seq, found
}

func (s *store) putAckIndex(eventID string, seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAckIndex).Put([]byte(eventID), seqKey(seq))
	})
}

func (s *store) lookupAckIndex(eventID string) (uint64, bool) {
	var seq uint64
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAckIndex).Get([]byte(eventID))
		if raw != nil {
			seq = seqFromKey(raw)
			found = true
		}
		return nil
	})
	return seq, found
}

func (s *store) deleteAckIndex(eventID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAckIndex).Delete([]byte(eventID))
	})
}

func (s *store) markAcked(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		raw := b.Get(seqKey(seq))
		if raw == nil {
			return ErrNotFound
		}
		se, err := decodeStoredEntry(raw)
		if err != nil {
			return err
		}
		se.Acked = true
		out, err := encodeStoredEntry(se)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), out)
	})
}

func (s *store) putCheckpoint(seq uint64, raw []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put(seqKey(seq), raw)
	})
}

func (s *store) quarantine(seq uint64, raw []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketPoison).Put(seqKey(seq), raw); err != nil {
			return err
		}
		return tx.Bucket(bucketEntries).Delete(seqKey(seq))
	})
}

// sizeBytes returns the bbolt file's on-disk size in bytes; it does not
// compute a usage fraction. Real disk-free sampling (for the
// high-watermark comparisons the writer also needs) lives in package
// health, which reads the filesystem directly via golang.org/x/sys/unix;
// this helper is specific to the WAL file's own footprint.
func (s *store) sizeBytes() (int64, error) {
	return statSize(s.db.Path())
}
