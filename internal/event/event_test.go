package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsDefaultPriority(t *testing.T) {
	alert := NewAlertEvent("truck-1", 1, AlertPayload{AlertType: "thermal"}, Metadata{})
	assert.Equal(t, PriorityCritical, alert.Priority)

	inf := NewInferenceEvent("truck-1", 2, InferencePayload{ModelName: "lane"}, Metadata{})
	assert.Equal(t, PriorityHigh, inf.Priority)

	sensor := NewSensorEvent("truck-1", 3, SensorReading{}, Metadata{})
	assert.Equal(t, PriorityMedium, sensor.Priority)

	hb := NewHeartbeatEvent("truck-1", 4, HeartbeatPayload{TaskName: "wal"}, Metadata{})
	assert.Equal(t, PriorityLow, hb.Priority)
}

func TestInferenceAlertPromotesCritical(t *testing.T) {
	inf := NewInferenceEvent("truck-1", 5, InferencePayload{ModelName: "collision", IsAlert: true}, Metadata{})
	require.Equal(t, PriorityCritical, inf.Priority)
	assert.True(t, inf.IsAlertPriority())
}

func TestCameraBlobSizeHintUsesBufferLength(t *testing.T) {
	data := make([]byte, 4096)
	ev := NewCameraBlobEvent("truck-1", 6, CameraBlobPayload{Data: data}, Metadata{})
	assert.Equal(t, len(data), ev.SizeHintBytes)
}

func TestEventIDIsStablePerDevice(t *testing.T) {
	ev1 := NewSensorEvent("truck-42", 1, SensorReading{}, Metadata{})
	ev2 := NewSensorEvent("truck-42", 2, SensorReading{}, Metadata{})
	assert.Contains(t, ev1.EventID, "truck-42")
	assert.Contains(t, ev2.EventID, "truck-42")
	assert.NotEqual(t, ev1.EventID, ev2.EventID)
}

func TestGForceSubtractsGravityOffset(t *testing.T) {
	r := &IMUReading{AccelX: 0, AccelY: 0, AccelZ: 1.0}
	g := r.ComputeGForce()
	assert.InDelta(t, 0.0, g, 1e-3)

	r2 := &IMUReading{AccelX: 0, AccelY: 0, AccelZ: 1.8}
	g2 := r2.ComputeGForce()
	assert.InDelta(t, 0.8, g2, 1e-2)
}
