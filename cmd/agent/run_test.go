package main

import (
	"log"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline-iot/edge-agent/internal/adaptive"
	"github.com/ridgeline-iot/edge-agent/internal/event"
	"github.com/ridgeline-iot/edge-agent/internal/metrics"
	"github.com/ridgeline-iot/edge-agent/internal/producer"
	"github.com/ridgeline-iot/edge-agent/internal/wal"
)

func testProducerSet(t *testing.T) producerSet {
	t.Helper()
	camCh := make(chan *event.Event, 4)
	cam := producer.NewCameraProducer("dev-1", "truck-1", "forward", 640, 480, 1024, 10, camCh, nil)

	sensCh := make(chan *event.Event, 4)
	sens := producer.NewSensorProducer("dev-1", "truck-1", 0, 0, 5, sensCh, nil)

	infCh := make(chan *event.Event, 4)
	inf := producer.NewInferenceProducer("dev-1", "truck-1", producer.Model{Name: "object-detection", BandwidthHeavy: true}, 1, infCh, nil)

	return producerSet{
		cameras:      map[string]*producer.CameraProducer{"forward": cam},
		cameraBaseHz: map[string]float64{"forward": 10},
		sensors:      map[string]*producer.SensorProducer{"obd-gps-imu": sens},
		sensorBaseHz: map[string]float64{"obd-gps-imu": 5},
		inference:    map[string]*producer.InferenceProducer{"object-detection": inf},
	}
}

// testCollector gives each test its own Prometheus registry, since
// metrics.NewCollector registers against the process-wide default
// registerer and would otherwise panic on the second call in this suite.
func testCollector(t *testing.T) *metrics.Collector {
	t.Helper()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return metrics.NewCollector()
}

func testWAL(t *testing.T) *wal.Writer {
	t.Helper()
	w, err := wal.Open(wal.WriterConfig{Path: t.TempDir() + "/wal.db"})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestApplyAdaptiveActionsThrottlesCameraAndSensorRates(t *testing.T) {
	set := testProducerSet(t)
	w := testWAL(t)
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelInfo)

	actions := []adaptive.Action{
		{Type: adaptive.ActionThrottleCameraFPS, TargetModule: "camera", Parameters: map[string]any{"reduction_fps": 5}},
		{Type: adaptive.ActionReduceSensorRate, TargetModule: "sensors", Parameters: map[string]any{"reduction_percent": 40}},
	}

	applyAdaptiveActions(actions, set, w, logLevel, slog.LevelInfo, 0.1, testCollector(t), func(string) {}, log.Default())

	assert.Equal(t, 5.0, set.cameras["forward"].Rate())
	assert.Equal(t, 3.0, set.sensors["obd-gps-imu"].Rate())
	assert.Equal(t, slog.LevelInfo, logLevel.Level())
}

func TestApplyAdaptiveActionsDisablesNamedInferenceModel(t *testing.T) {
	set := testProducerSet(t)
	w := testWAL(t)
	logLevel := new(slog.LevelVar)

	actions := []adaptive.Action{
		{Type: adaptive.ActionDisableInferenceModel, TargetModule: "inference", Parameters: map[string]any{"model": "object-detection"}},
	}
	applyAdaptiveActions(actions, set, w, logLevel, slog.LevelInfo, 0.1, testCollector(t), func(string) {}, log.Default())
	assert.True(t, set.inference["object-detection"].Disabled())

	// A tick with no disable action must re-enable it: actions is always
	// the full desired state, not an incremental diff.
	applyAdaptiveActions(nil, set, w, logLevel, slog.LevelInfo, 0.1, testCollector(t), func(string) {}, log.Default())
	assert.False(t, set.inference["object-detection"].Disabled())
}

func TestApplyAdaptiveActionsReducesLogLevelAndRestoresBaseline(t *testing.T) {
	set := testProducerSet(t)
	w := testWAL(t)
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelInfo)

	actions := []adaptive.Action{
		{Type: adaptive.ActionReduceLogLevel, TargetModule: "logging", Parameters: map[string]any{"level": "warn"}},
	}
	applyAdaptiveActions(actions, set, w, logLevel, slog.LevelInfo, 0.1, testCollector(t), func(string) {}, log.Default())
	assert.Equal(t, slog.LevelWarn, logLevel.Level())

	applyAdaptiveActions(nil, set, w, logLevel, slog.LevelInfo, 0.1, testCollector(t), func(string) {}, log.Default())
	assert.Equal(t, slog.LevelInfo, logLevel.Level())
}

func TestApplyAdaptiveActionsRequestsEmergencyShutdownOnReboot(t *testing.T) {
	set := testProducerSet(t)
	w := testWAL(t)

	var gotReason string
	actions := []adaptive.Action{{Type: adaptive.ActionRebootSystem, TargetModule: "supervisor"}}
	applyAdaptiveActions(actions, set, w, new(slog.LevelVar), slog.LevelInfo, 0.1, testCollector(t), func(reason string) { gotReason = reason }, log.Default())

	assert.Equal(t, "thermal_shutdown", gotReason)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("info"))
}
