package ack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWAL struct {
	acked map[string]uint64
}

func newFakeWAL() *fakeWAL { return &fakeWAL{acked: make(map[string]uint64)} }

func (f *fakeWAL) MarkAcked(seq uint64, eventID string) error {
	f.acked[eventID] = seq
	return nil
}

func TestTrackThenConfirmMarksWALAcked(t *testing.T) {
	w := newFakeWAL()
	a := New(Config{WAL: w})

	a.Track("evt-1", 10, "batch-a")
	a.Confirm("batch-a", []string{"evt-1"})

	assert.Equal(t, uint64(10), w.acked["evt-1"])
	_, ok := a.Lookup("evt-1")
	assert.False(t, ok, "confirmed event should be removed from pending")
}

func TestConfirmWithUnknownIDIsIgnoredNotError(t *testing.T) {
	w := newFakeWAL()
	a := New(Config{WAL: w})

	a.Track("evt-1", 10, "batch-a")
	assert.NotPanics(t, func() {
		a.Confirm("batch-a", []string{"evt-1", "evt-ghost"})
	})
	assert.Equal(t, uint64(10), w.acked["evt-1"])
	_, ghostAcked := w.acked["evt-ghost"]
	assert.False(t, ghostAcked)
}

func TestConfirmSupersetDoesNotErrorOnMissingIDs(t *testing.T) {
	w := newFakeWAL()
	a := New(Config{WAL: w})

	a.TrackBatch("batch-a", map[string]uint64{"evt-1": 1, "evt-2": 2})
	a.Confirm("batch-a", []string{"evt-1", "evt-2", "evt-3"})

	assert.Equal(t, 0, a.Len())
}

func TestReleaseDropsPendingWithoutWALAck(t *testing.T) {
	w := newFakeWAL()
	a := New(Config{WAL: w})

	a.Track("evt-1", 5, "batch-a")
	a.Release("evt-1")

	_, ok := a.Lookup("evt-1")
	assert.False(t, ok)
	_, acked := w.acked["evt-1"]
	assert.False(t, acked, "release must not mark the WAL entry acked")
}

func TestReleaseBatchClearsOnlyThatBatch(t *testing.T) {
	a := New(Config{})
	a.TrackBatch("batch-a", map[string]uint64{"evt-1": 1, "evt-2": 2})
	a.Track("evt-3", 3, "batch-b")

	a.ReleaseBatch("batch-a")

	assert.Equal(t, 1, a.Len())
	_, ok := a.Lookup("evt-3")
	assert.True(t, ok)
}

func TestBackpressureTripsAtMaxPending(t *testing.T) {
	a := New(Config{MaxPending: 2})
	assert.False(t, a.Backpressured())

	a.Track("evt-1", 1, "batch-a")
	assert.False(t, a.Backpressured())

	a.Track("evt-2", 2, "batch-a")
	assert.True(t, a.Backpressured())
}

func TestBackpressureDisabledWhenMaxPendingZero(t *testing.T) {
	a := New(Config{MaxPending: 0})
	for i := 0; i < 1000; i++ {
		a.Track("evt", uint64(i), "batch-a")
	}
	assert.False(t, a.Backpressured())
}

func TestTrackBatchAssignsAllEntries(t *testing.T) {
	a := New(Config{})
	a.TrackBatch("batch-a", map[string]uint64{"evt-1": 1, "evt-2": 2, "evt-3": 3})
	require.Equal(t, 3, a.Len())

	entry, ok := a.Lookup("evt-2")
	require.True(t, ok)
	assert.Equal(t, uint64(2), entry.Seq)
	assert.Equal(t, "batch-a", entry.BatchID)
}
