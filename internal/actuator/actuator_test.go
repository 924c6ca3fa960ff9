package actuator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPIOActuatorSolidPatternPulsesHighThenLow(t *testing.T) {
	pin := NewSimulatedPin()
	a := NewGPIOActuator(pin, 17, "buzzer")

	err := a.Trigger(context.Background(), Action{Parameters: map[string]any{
		"duration_ms": 1,
		"pattern":     "solid",
	}})
	require.NoError(t, err)
	assert.False(t, pin.IsHigh())
	assert.Equal(t, 2, pin.Toggles())
}

func TestGPIOActuatorBlinkPatternTogglesBlinkCountTimes(t *testing.T) {
	pin := NewSimulatedPin()
	a := NewGPIOActuator(pin, 17, "led")

	err := a.Trigger(context.Background(), Action{Parameters: map[string]any{
		"pattern":            "blink",
		"blink_count":        3,
		"blink_interval_ms":  1,
	}})
	require.NoError(t, err)
	assert.Equal(t, 6, pin.Toggles()) // 3 * (high, low)
}

func TestGPIOActuatorUnknownPatternErrors(t *testing.T) {
	pin := NewSimulatedPin()
	a := NewGPIOActuator(pin, 17, "led")
	err := a.Trigger(context.Background(), Action{Parameters: map[string]any{"pattern": "strobe"}})
	assert.Error(t, err)
}

func TestGPIOActuatorRespectsContextCancellation(t *testing.T) {
	pin := NewSimulatedPin()
	a := NewGPIOActuator(pin, 17, "led")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Trigger(ctx, Action{Parameters: map[string]any{"duration_ms": 1000, "pattern": "solid"}})
	assert.Error(t, err)
}

func TestRelayActuatorSetsOnThenOff(t *testing.T) {
	relay := NewSimulatedRelay()
	a := NewRelayActuator(relay, "horn")

	err := a.Trigger(context.Background(), Action{Parameters: map[string]any{"duration_ms": 1}})
	require.NoError(t, err)
	assert.False(t, relay.IsOn())
}

func TestCloneProducesIndependentTargetSharingUnderlyingHardware(t *testing.T) {
	pin := NewSimulatedPin()
	a := NewGPIOActuator(pin, 17, "led")
	clone := a.Clone()

	assert.Equal(t, a.TypeTag(), clone.TypeTag())
	assert.NotSame(t, a, clone)
}

func TestRegistryTriggerDispatchesByName(t *testing.T) {
	pin := NewSimulatedPin()
	reg := NewRegistry()
	reg.Register("buzzer", NewGPIOActuator(pin, 17, "buzzer"))

	err := reg.Trigger(context.Background(), "buzzer", Action{Parameters: map[string]any{"duration_ms": 1}})
	require.NoError(t, err)
}

func TestRegistryTriggerUnknownNameErrors(t *testing.T) {
	reg := NewRegistry()
	err := reg.Trigger(context.Background(), "nope", Action{})
	assert.Error(t, err)
}
