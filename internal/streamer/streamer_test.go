package streamer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/ack"
	"github.com/ridgeline-iot/edge-agent/internal/batcher"
	"github.com/ridgeline-iot/edge-agent/internal/event"
	"github.com/ridgeline-iot/edge-agent/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSeqLookup struct {
	seqs map[string]uint64
}

func (f *fakeSeqLookup) LookupSeq(eventID string) (uint64, bool) {
	seq, ok := f.seqs[eventID]
	return seq, ok
}

type fakeSender struct {
	mu        sync.Mutex
	failTimes int
	calls     int
	sendErr   error
}

func (f *fakeSender) SendBatch(ctx context.Context, b batcher.Batch) (transport.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failTimes {
		return transport.Ack{}, errors.New("send failed")
	}
	ids := make([]string, 0, len(b.Events))
	for _, ev := range b.Events {
		ids = append(ids, ev.EventID)
	}
	return transport.Ack{BatchID: b.ID, EventIDs: ids}, nil
}

type fakeWAL struct {
	mu    sync.Mutex
	acked map[string]uint64
}

func newFakeWAL() *fakeWAL { return &fakeWAL{acked: make(map[string]uint64)} }

func (f *fakeWAL) MarkAcked(seq uint64, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[eventID] = seq
	return nil
}

func testBatchWith(ids ...string) batcher.Batch {
	events := make([]*event.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, &event.Event{EventID: id, Priority: event.PriorityMedium})
	}
	return batcher.Batch{ID: "batch-1", Events: events, Priority: event.PriorityMedium}
}

func noSleep(time.Duration) {}

func TestSuccessfulSendConfirmsAcker(t *testing.T) {
	w := newFakeWAL()
	acker := ack.New(ack.Config{WAL: w})
	seqs := &fakeSeqLookup{seqs: map[string]uint64{"evt-1": 1, "evt-2": 2}}
	sender := &fakeSender{}

	s := New(nil, sender, acker, seqs, Config{Sleep: noSleep})
	s.deliver(testBatchWith("evt-1", "evt-2"))

	assert.Equal(t, uint64(1), w.acked["evt-1"])
	assert.Equal(t, uint64(2), w.acked["evt-2"])
	assert.Equal(t, 0, acker.Len())
}

func TestRetriesOnFailureThenSucceeds(t *testing.T) {
	w := newFakeWAL()
	acker := ack.New(ack.Config{WAL: w})
	seqs := &fakeSeqLookup{seqs: map[string]uint64{"evt-1": 1}}
	sender := &fakeSender{failTimes: 2}

	s := New(nil, sender, acker, seqs, Config{Sleep: noSleep, MaxRetries: 5})
	s.deliver(testBatchWith("evt-1"))

	assert.Equal(t, 3, sender.calls)
	assert.Equal(t, uint64(1), w.acked["evt-1"])
}

func TestExhaustedRetriesReleasesPendingWithoutWALAck(t *testing.T) {
	w := newFakeWAL()
	acker := ack.New(ack.Config{WAL: w})
	seqs := &fakeSeqLookup{seqs: map[string]uint64{"evt-1": 1}}
	sender := &fakeSender{failTimes: 1000}

	s := New(nil, sender, acker, seqs, Config{Sleep: noSleep, MaxRetries: 3})
	s.deliver(testBatchWith("evt-1"))

	assert.Equal(t, 4, sender.calls) // initial + 3 retries
	_, acked := w.acked["evt-1"]
	assert.False(t, acked, "exhausted retries must leave the WAL entry unacked")
	assert.Equal(t, 0, acker.Len(), "pending entry must be released after exhaustion")
}

func TestBackoffDelayGrowsExponentiallyWithJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for retry := 0; retry < 5; retry++ {
		d := backoffDelay(base, retry)
		expMin := float64(base) * float64(int(1)<<uint(retry)) * 0.8
		expMax := float64(base) * float64(int(1)<<uint(retry)) * 1.2
		assert.GreaterOrEqual(t, float64(d), expMin)
		assert.LessOrEqual(t, float64(d), expMax)
	}
}

func TestMissingSeqLookupIsLoggedAndSkippedFromTracking(t *testing.T) {
	w := newFakeWAL()
	acker := ack.New(ack.Config{WAL: w})
	seqs := &fakeSeqLookup{seqs: map[string]uint64{}} // nothing resolvable
	sender := &fakeSender{}

	s := New(nil, sender, acker, seqs, Config{Sleep: noSleep})
	require.NotPanics(t, func() {
		s.deliver(testBatchWith("evt-unknown"))
	})
	_, acked := w.acked["evt-unknown"]
	assert.False(t, acked)
}
