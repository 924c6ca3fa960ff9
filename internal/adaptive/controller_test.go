package adaptive

import (
	"testing"

	"github.com/ridgeline-iot/edge-agent/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthEventWith(cpu, mem, disk, temp, netLatency float64) health.HealthEvent {
	return health.HealthEvent{
		Resources: health.ResourceUsage{CPUPercent: cpu, MemoryPercent: mem, DiskPercent: disk, TemperatureC: temp},
		Network:   health.NetworkHealth{LatencyMS: netLatency},
	}
}

func TestNoActionsWhenEverythingBelowThresholds(t *testing.T) {
	c := New(Thresholds{})
	actions := c.Evaluate(healthEventWith(10, 10, 10, 10, 10))
	assert.Empty(t, actions)
}

func TestCPUOverThresholdThrottlesCameraAndDisablesModels(t *testing.T) {
	c := New(Thresholds{CPUHigh: 80, CameraFPSStep: 5, MLModelDisableOrder: []string{"heavy", "medium", "light"}})
	// 95 - 80 = 15 -> ceil(15/10) = 2 buckets
	actions := c.Evaluate(healthEventWith(95, 0, 0, 0, 0))

	require.NotEmpty(t, actions)
	var fpsAction *Action
	disabled := 0
	for i := range actions {
		if actions[i].Type == ActionThrottleCameraFPS {
			fpsAction = &actions[i]
		}
		if actions[i].Type == ActionDisableInferenceModel {
			disabled++
		}
	}
	require.NotNil(t, fpsAction)
	assert.Equal(t, 10, fpsAction.Parameters["reduction_fps"]) // 2 buckets * step 5
	assert.Equal(t, 2, disabled)
}

func TestMLModelDisableCountCappedAtConfiguredList(t *testing.T) {
	c := New(Thresholds{CPUHigh: 50, MLModelDisableOrder: []string{"only-one"}})
	// 95-50=45 -> ceil(45/10)=5 buckets, but only 1 model configured
	actions := c.Evaluate(healthEventWith(95, 0, 0, 0, 0))

	disabled := 0
	for _, a := range actions {
		if a.Type == ActionDisableInferenceModel {
			disabled++
		}
	}
	assert.Equal(t, 1, disabled)
}

func TestMemoryOverThresholdReducesSensorRate(t *testing.T) {
	c := New(Thresholds{MemHigh: 80, SensorRateStepPct: 10})
	actions := c.Evaluate(healthEventWith(0, 95, 0, 0, 0)) // bucket 2
	require.Len(t, actions, 1)
	assert.Equal(t, ActionReduceSensorRate, actions[0].Type)
	assert.Equal(t, 20, actions[0].Parameters["reduction_percent"])
}

func TestDiskHighRotatesWALAndReducesLogLevel(t *testing.T) {
	c := New(Thresholds{DiskHigh: 80, DiskDrop: 99})
	actions := c.Evaluate(healthEventWith(0, 0, 85, 0, 0))

	var types []ActionType
	for _, a := range actions {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, ActionRotateWALEarly)
	assert.Contains(t, types, ActionReduceLogLevel)
	assert.NotContains(t, types, ActionDropCameraFrames)
}

func TestDiskDropAlsoDropsCameraFrames(t *testing.T) {
	c := New(Thresholds{DiskHigh: 80, DiskDrop: 90})
	actions := c.Evaluate(healthEventWith(0, 0, 95, 0, 0))

	var types []ActionType
	for _, a := range actions {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, ActionDropCameraFrames)
}

func TestThermalShutdownTriggersReboot(t *testing.T) {
	c := New(Thresholds{ThermalShutdown: 90})
	actions := c.Evaluate(healthEventWith(0, 0, 0, 95, 0))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionRebootSystem, actions[0].Type)
}

func TestThermalThrottleBelowShutdownDisablesHeaviestModel(t *testing.T) {
	c := New(Thresholds{ThermalThrottle: 70, ThermalShutdown: 90, MLModelDisableOrder: []string{"heaviest", "other"}})
	actions := c.Evaluate(healthEventWith(0, 0, 0, 80, 0))

	var model string
	for _, a := range actions {
		if a.Type == ActionDisableInferenceModel {
			model = a.Parameters["model"].(string)
		}
	}
	assert.Equal(t, "heaviest", model)
}

func TestNetworkLatencyHighThrottlesBandwidthHeavyModel(t *testing.T) {
	c := New(Thresholds{NetLatencyHighMS: 300, BandwidthHeavyModel: "license_plate"})
	actions := c.Evaluate(healthEventWith(0, 0, 0, 0, 600))

	var model string
	for _, a := range actions {
		if a.Type == ActionDisableInferenceModel {
			model = a.Parameters["model"].(string)
		}
	}
	assert.Equal(t, "license_plate", model)
}

func TestHysteresisPreventsImmediateRetractionOnPartialImprovement(t *testing.T) {
	c := New(Thresholds{CPUHigh: 50, CameraFPSStep: 5, MLModelDisableOrder: []string{"a", "b", "c", "d", "e"}})

	// 95 -> bucket ceil(45/10) = 5
	first := c.Evaluate(healthEventWith(95, 0, 0, 0, 0))
	require.NotEmpty(t, first)

	// Tiny improvement to 94 is still bucket 5 (ceil(44/10)=5) - no change expected either way,
	// but a small dip to 91 is bucket ceil(41/10)=5 too; use 85 for bucket ceil(35/10)=4,
	// one full bucket down from 5, which IS allowed to reduce the action.
	second := c.Evaluate(healthEventWith(85, 0, 0, 0, 0))
	var fps int
	for _, a := range second {
		if a.Type == ActionThrottleCameraFPS {
			fps = a.Parameters["reduction_fps"].(int)
		}
	}
	assert.Equal(t, 20, fps) // bucket 4 * step 5
}

func TestActionIDsAreIdempotentForSameBucket(t *testing.T) {
	c := New(Thresholds{CPUHigh: 50, MLModelDisableOrder: []string{"a"}})
	first := c.Evaluate(healthEventWith(95, 0, 0, 0, 0))
	second := c.Evaluate(healthEventWith(95, 0, 0, 0, 0))

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ActionID, second[i].ActionID)
	}
}
