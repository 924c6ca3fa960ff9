package batcher

import (
	"testing"
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sensorEv(seq uint64) *event.Event {
	return event.NewSensorEvent("truck-1", seq, event.SensorReading{
		GPS: &event.GPSReading{Latitude: 1, Longitude: 2},
	}, event.Metadata{})
}

func alertEv(seq uint64) *event.Event {
	return event.NewAlertEvent("truck-1", seq, event.AlertPayload{AlertType: "collision", Severity: "critical"}, event.Metadata{})
}

func TestCriticalEventTriggersImmediateAssembly(t *testing.T) {
	b := New(Config{})
	b.Submit(alertEv(1))

	select {
	case batch := <-b.Out():
		assert.Equal(t, event.PriorityCritical, batch.Priority)
		require.Len(t, batch.Events, 1)
	case <-time.After(time.Second):
		t.Fatal("expected immediate assembly for a critical event")
	}
}

func TestWaitTimerAssemblesNonCriticalBatch(t *testing.T) {
	b := New(Config{MaxWait: 30 * time.Millisecond})
	b.Start()
	defer b.Stop()

	b.Submit(sensorEv(1))
	b.Submit(sensorEv(2))

	select {
	case batch := <-b.Out():
		assert.Len(t, batch.Events, 2)
		assert.Equal(t, event.PriorityMedium, batch.Priority)
	case <-time.After(time.Second):
		t.Fatal("expected a batch after the wait timer fired")
	}
}

func TestBatchInheritsHighestPriorityMember(t *testing.T) {
	b := New(Config{MaxWait: 20 * time.Millisecond})
	b.Start()
	defer b.Stop()

	b.Submit(sensorEv(1))
	b.Submit(alertEv(2)) // triggers immediate assembly

	batch := <-b.Out()
	assert.Equal(t, event.PriorityCritical, batch.Priority)
}

func TestMaxEventsBound(t *testing.T) {
	b := New(Config{MaxEvents: 3, MaxWait: 20 * time.Millisecond})
	b.Start()
	defer b.Stop()

	for i := uint64(1); i <= 5; i++ {
		b.Submit(sensorEv(i))
	}

	batch := <-b.Out()
	assert.LessOrEqual(t, len(batch.Events), 3)
}

func TestOrderPreservedWithinPriority(t *testing.T) {
	b := New(Config{MaxWait: 20 * time.Millisecond})
	b.Start()
	defer b.Stop()

	b.Submit(sensorEv(1))
	b.Submit(sensorEv(2))
	b.Submit(sensorEv(3))

	batch := <-b.Out()
	require.Len(t, batch.Events, 3)
	assert.Equal(t, uint64(1), batch.Events[0].Metadata.SequenceNumber)
	assert.Equal(t, uint64(2), batch.Events[1].Metadata.SequenceNumber)
	assert.Equal(t, uint64(3), batch.Events[2].Metadata.SequenceNumber)
}

func TestFlushForcesAssemblyOfPartialQueue(t *testing.T) {
	b := New(Config{MaxWait: time.Hour})
	b.Submit(sensorEv(1))
	b.Flush()

	select {
	case batch := <-b.Out():
		assert.Len(t, batch.Events, 1)
	default:
		t.Fatal("expected Flush to force an assembly pass")
	}
}
