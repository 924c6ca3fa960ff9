package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/batcher"
	"github.com/ridgeline-iot/edge-agent/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	name      string
	connected bool
	sendErr   error
	sentQoS   event.QoS
	sendCount int
}

func (f *fakeTransport) Name() string      { return f.name }
func (f *fakeTransport) IsConnected() bool { return f.connected }
func (f *fakeTransport) SendBatch(ctx context.Context, b batcher.Batch, qos event.QoS) (Ack, error) {
	f.sendCount++
	f.sentQoS = qos
	if f.sendErr != nil {
		return Ack{}, &TransportError{Transport: f.name, Err: f.sendErr}
	}
	return Ack{BatchID: b.ID}, nil
}

func testBatch(prio event.Priority) batcher.Batch {
	return batcher.Batch{ID: "batch-1", Priority: prio}
}

func TestSelectsPrimaryWhenConnected(t *testing.T) {
	primary := &fakeTransport{name: "primary", connected: true}
	secondary := &fakeTransport{name: "secondary", connected: true}
	m := NewMultiplexer(primary, secondary, MultiplexerConfig{})

	_, err := m.SendBatch(context.Background(), testBatch(event.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, 1, primary.sendCount)
	assert.Equal(t, 0, secondary.sendCount)
}

func TestFallsBackToSecondaryWhenPrimaryDisconnected(t *testing.T) {
	primary := &fakeTransport{name: "primary", connected: false}
	secondary := &fakeTransport{name: "secondary", connected: true}
	m := NewMultiplexer(primary, secondary, MultiplexerConfig{})

	_, err := m.SendBatch(context.Background(), testBatch(event.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, 0, primary.sendCount)
	assert.Equal(t, 1, secondary.sendCount)
}

func TestDegradesPrimaryAfterConsecutiveFailures(t *testing.T) {
	primary := &fakeTransport{name: "primary", connected: true, sendErr: errors.New("boom")}
	secondary := &fakeTransport{name: "secondary", connected: true}
	m := NewMultiplexer(primary, secondary, MultiplexerConfig{FailureThreshold: 3, CoolOff: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := m.SendBatch(context.Background(), testBatch(event.PriorityMedium))
		assert.Error(t, err)
	}
	assert.True(t, m.PrimaryDegraded())

	// Next send should skip primary entirely and go to secondary.
	_, err := m.SendBatch(context.Background(), testBatch(event.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, 3, primary.sendCount, "primary should not be retried during cool-off")
	assert.Equal(t, 1, secondary.sendCount)
}

func TestQoSMappingForCriticalUsesExactlyOnceOnPrimary(t *testing.T) {
	primary := &fakeTransport{name: "primary", connected: true}
	secondary := &fakeTransport{name: "secondary", connected: true}
	m := NewMultiplexer(primary, secondary, MultiplexerConfig{})

	_, err := m.SendBatch(context.Background(), testBatch(event.PriorityCritical))
	require.NoError(t, err)
	assert.Equal(t, event.QoSExactlyOnce, primary.sentQoS)
}

func TestQoSMappingForLowUnderDiskPressureIsAtMostOnce(t *testing.T) {
	primary := &fakeTransport{name: "primary", connected: true}
	secondary := &fakeTransport{name: "secondary", connected: true}
	m := NewMultiplexer(primary, secondary, MultiplexerConfig{DiskPressureHigh: func() bool { return true }})

	_, err := m.SendBatch(context.Background(), testBatch(event.PriorityLow))
	require.NoError(t, err)
	assert.Equal(t, event.QoSAtMostOnce, primary.sentQoS)
}

func TestQoSMappingForMediumIsAtLeastOnce(t *testing.T) {
	primary := &fakeTransport{name: "primary", connected: true}
	secondary := &fakeTransport{name: "secondary", connected: true}
	m := NewMultiplexer(primary, secondary, MultiplexerConfig{})

	_, err := m.SendBatch(context.Background(), testBatch(event.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, event.QoSAtLeastOnce, primary.sentQoS)
}

func TestSecondaryFailureDoesNotAffectPrimaryFailureCount(t *testing.T) {
	primary := &fakeTransport{name: "primary", connected: false}
	secondary := &fakeTransport{name: "secondary", connected: true, sendErr: errors.New("timeout")}
	m := NewMultiplexer(primary, secondary, MultiplexerConfig{FailureThreshold: 1})

	_, err := m.SendBatch(context.Background(), testBatch(event.PriorityMedium))
	assert.Error(t, err)
	assert.False(t, m.PrimaryDegraded(), "secondary failures must not trip primary's degrade counter")
}
