// ============================================================================
// Adaptive Controller
// ============================================================================
//
// Package: internal/adaptive
// File: controller.go
// Purpose: Pure function mapping the last HealthEvent plus configured
//          thresholds to a set of Actions (spec §4.10). An action is
//          retracted once its value is back at or below the threshold.
//
// Bucket arithmetic recovered from
// original_source/iot-truck-agent/src/health/adaptive_controller.rs:
// bucket = ceil((value - threshold) / 10), scaling both the FPS/sensor
// rate reduction step and the count of ML models disabled, capped at
// len(ml_model_disable_order).
//
// Grounded on internal/controller/controller.go's "evaluate state, emit a
// bounded list of follow-up work" shape (there: dispatch decisions from
// job state; here: degradation actions from resource state), kept as a
// pure, side-effect-free evaluation plus a separate tracked-state field
// for hysteresis, not unlike the teacher's JobManager tracking status
// transitions explicitly rather than re-deriving them each call.
// ============================================================================

package adaptive

import (
	"fmt"
	"math"
	"sync"

	"github.com/ridgeline-iot/edge-agent/internal/health"
)

// ActionType names the target/operation pair spec §4.10's table maps
// trigger conditions to.
type ActionType string

const (
	ActionThrottleCameraFPS    ActionType = "throttle_camera_fps"
	ActionDisableInferenceModel ActionType = "disable_inference_model"
	ActionReduceSensorRate     ActionType = "reduce_sensor_rate"
	ActionRotateWALEarly       ActionType = "rotate_wal_early"
	ActionReduceLogLevel       ActionType = "reduce_log_level"
	ActionDropCameraFrames     ActionType = "drop_camera_frames"
	ActionRebootSystem         ActionType = "reboot_system"
)

// Action is one degradation instruction fanned out to a Producer, the
// WAL, or the Streamer. ActionID is deterministic per (type, target,
// bucket) so reissuing the same action is a no-op for the target, per
// spec §4.10 ("Actions are idempotent and carry an action_id").
type Action struct {
	ActionID     string
	Type         ActionType
	TargetModule string
	Parameters   map[string]any
}

// Thresholds configures every trigger condition in spec §4.10's table.
type Thresholds struct {
	CPUHigh            float64
	MemHigh            float64
	DiskHigh           float64
	DiskDrop           float64
	ThermalThrottle    float64
	ThermalShutdown    float64
	NetLatencyHighMS   float64

	CameraFPSStep       int
	SensorRateStepPct   int
	MLModelDisableOrder []string // heaviest first
	BandwidthHeavyModel string
}

func (t Thresholds) withDefaults() Thresholds {
	if t.CPUHigh == 0 {
		t.CPUHigh = 85
	}
	if t.MemHigh == 0 {
		t.MemHigh = 85
	}
	if t.DiskHigh == 0 {
		t.DiskHigh = 85
	}
	if t.DiskDrop == 0 {
		t.DiskDrop = 95
	}
	if t.ThermalThrottle == 0 {
		t.ThermalThrottle = 75
	}
	if t.ThermalShutdown == 0 {
		t.ThermalShutdown = 90
	}
	if t.NetLatencyHighMS == 0 {
		t.NetLatencyHighMS = 500
	}
	if t.CameraFPSStep == 0 {
		t.CameraFPSStep = 5
	}
	if t.SensorRateStepPct == 0 {
		t.SensorRateStepPct = 10
	}
	return t
}

// Controller records the bucket of the last CPU and memory action per
// action type. An action is retracted as soon as its triggering value is
// back at or below the threshold; no extra improvement margin is applied
// before retraction.
type Controller struct {
	cfg Thresholds

	mu             sync.Mutex
	currentBuckets map[ActionType]int
}

func New(cfg Thresholds) *Controller {
	return &Controller{cfg: cfg.withDefaults(), currentBuckets: make(map[ActionType]int)}
}

// Evaluate maps one HealthEvent to the set of Actions it triggers,
// applying hysteresis against the Controller's tracked bucket state.
func (c *Controller) Evaluate(ev health.HealthEvent) []Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	var actions []Action

	if a, bucket := c.cpuActions(ev.Resources.CPUPercent); a != nil {
		actions = append(actions, a...)
		c.currentBuckets[ActionThrottleCameraFPS] = bucket
	} else {
		c.currentBuckets[ActionThrottleCameraFPS] = 0
	}

	if a, bucket := c.memActions(ev.Resources.MemoryPercent); a != nil {
		actions = append(actions, a...)
		c.currentBuckets[ActionReduceSensorRate] = bucket
	} else {
		c.currentBuckets[ActionReduceSensorRate] = 0
	}

	actions = append(actions, c.diskActions(ev.Resources.DiskPercent)...)
	actions = append(actions, c.thermalActions(ev.Resources.TemperatureC)...)
	actions = append(actions, c.networkActions(ev.Network.LatencyMS)...)

	return actions
}

func bucketOf(value, threshold float64) int {
	if value <= threshold {
		return 0
	}
	return int(math.Ceil((value - threshold) / 10))
}

// hysteresisGate returns the bucket to act on, which is newBucket in every
// case: a drop to bucket 0 retracts at once, and any lower non-zero bucket
// is already at least one whole bucket below the recorded one, so it is
// taken as is.
func (c *Controller) hysteresisGate(action ActionType, newBucket int) int {
	prev := c.currentBuckets[action]
	if newBucket == 0 && prev > 0 {
		// Retracting: bucket 0 means the value is at or below threshold.
		return 0
	}
	if newBucket > 0 && newBucket < prev {
		// Partial improvement while still over threshold: buckets are
		// integers, so a lower bucket is always a full step down and this
		// branch does not hold the previous bucket.
		if prev-newBucket < 1 {
			return prev
		}
	}
	return newBucket
}

func (c *Controller) cpuActions(cpuPercent float64) ([]Action, int) {
	bucket := bucketOf(cpuPercent, c.cfg.CPUHigh)
	bucket = c.hysteresisGate(ActionThrottleCameraFPS, bucket)
	if bucket == 0 {
		return nil, 0
	}

	fpsReduction := bucket * c.cfg.CameraFPSStep
	actions := []Action{{
		ActionID:     fmt.Sprintf("cpu-degrade-fps-%d", bucket),
		Type:         ActionThrottleCameraFPS,
		TargetModule: "camera",
		Parameters:   map[string]any{"reduction_fps": fpsReduction},
	}}

	disableCount := bucket
	if disableCount > len(c.cfg.MLModelDisableOrder) {
		disableCount = len(c.cfg.MLModelDisableOrder)
	}
	for i := 0; i < disableCount; i++ {
		model := c.cfg.MLModelDisableOrder[i]
		actions = append(actions, Action{
			ActionID:     fmt.Sprintf("cpu-disable-ml-%s", model),
			Type:         ActionDisableInferenceModel,
			TargetModule: "inference",
			Parameters:   map[string]any{"model": model},
		})
	}
	return actions, bucket
}

func (c *Controller) memActions(memPercent float64) ([]Action, int) {
	bucket := bucketOf(memPercent, c.cfg.MemHigh)
	bucket = c.hysteresisGate(ActionReduceSensorRate, bucket)
	if bucket == 0 {
		return nil, 0
	}
	pct := bucket * c.cfg.SensorRateStepPct
	return []Action{{
		ActionID:     fmt.Sprintf("mem-degrade-rate-%d", bucket),
		Type:         ActionReduceSensorRate,
		TargetModule: "sensors",
		Parameters:   map[string]any{"reduction_percent": pct},
	}}, bucket
}

func (c *Controller) diskActions(diskPercent float64) []Action {
	var actions []Action
	if diskPercent > c.cfg.DiskHigh {
		actions = append(actions,
			Action{ActionID: "disk-rotate-wal", Type: ActionRotateWALEarly, TargetModule: "wal", Parameters: nil},
			Action{ActionID: "disk-reduce-log-level", Type: ActionReduceLogLevel, TargetModule: "logging", Parameters: map[string]any{"level": "warn"}},
		)
	}
	if diskPercent > c.cfg.DiskDrop {
		actions = append(actions, Action{
			ActionID:     "disk-drop-camera-frames",
			Type:         ActionDropCameraFrames,
			TargetModule: "camera",
			Parameters:   map[string]any{"percent": 50},
		})
	}
	return actions
}

func (c *Controller) thermalActions(tempC float64) []Action {
	if tempC > c.cfg.ThermalShutdown {
		return []Action{{
			ActionID:     "thermal-reboot",
			Type:         ActionRebootSystem,
			TargetModule: "supervisor",
			Parameters:   nil,
		}}
	}
	if tempC > c.cfg.ThermalThrottle {
		heaviest := ""
		if len(c.cfg.MLModelDisableOrder) > 0 {
			heaviest = c.cfg.MLModelDisableOrder[0]
		}
		actions := []Action{{
			ActionID:     "thermal-throttle-fps",
			Type:         ActionThrottleCameraFPS,
			TargetModule: "camera",
			Parameters:   map[string]any{"reduction_percent": 50},
		}}
		if heaviest != "" {
			actions = append(actions, Action{
				ActionID:     fmt.Sprintf("thermal-disable-ml-%s", heaviest),
				Type:         ActionDisableInferenceModel,
				TargetModule: "inference",
				Parameters:   map[string]any{"model": heaviest},
			})
		}
		return actions
	}
	return nil
}

func (c *Controller) networkActions(latencyMS float64) []Action {
	if latencyMS <= c.cfg.NetLatencyHighMS {
		return nil
	}
	actions := []Action{{
		ActionID:     "net-throttle-fps",
		Type:         ActionThrottleCameraFPS,
		TargetModule: "camera",
		Parameters:   map[string]any{"reduction_percent": 50},
	}}
	if c.cfg.BandwidthHeavyModel != "" {
		actions = append(actions, Action{
			ActionID:     fmt.Sprintf("net-disable-ml-%s", c.cfg.BandwidthHeavyModel),
			Type:         ActionDisableInferenceModel,
			TargetModule: "inference",
			Parameters:   map[string]any{"model": c.cfg.BandwidthHeavyModel},
		})
	}
	return actions
}
