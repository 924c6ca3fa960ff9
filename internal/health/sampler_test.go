package health

import (
	"testing"
	"time"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
)

func TestStatusOrderingMatchesSpec(t *testing.T) {
	assert.True(t, StatusOk < StatusWarning)
	assert.True(t, StatusWarning < StatusCritical)
	assert.True(t, StatusCritical < StatusDegraded)
	assert.True(t, StatusDegraded < StatusShutdownPending)
}

func TestThresholdAlertsCPUCritical(t *testing.T) {
	th := Thresholds{}.withDefaults()
	r := ResourceUsage{CPUPercent: 95}
	alerts := thresholdAlerts(r, th)

	assert.Len(t, alerts, 1)
	assert.Equal(t, "cpu_critical", alerts[0].AlertType)
	assert.Equal(t, AlertCritical, alerts[0].Severity)
}

func TestThresholdAlertsCPUWarningNotCritical(t *testing.T) {
	th := Thresholds{}.withDefaults()
	r := ResourceUsage{CPUPercent: 75}
	alerts := thresholdAlerts(r, th)

	assert.Len(t, alerts, 1)
	assert.Equal(t, AlertWarning, alerts[0].Severity)
}

func TestThresholdAlertsNoneWhenHealthy(t *testing.T) {
	th := Thresholds{}.withDefaults()
	r := ResourceUsage{CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30, TemperatureC: 40}
	assert.Empty(t, thresholdAlerts(r, th))
}

func TestThresholdAlertsMultipleDimensionsAtOnce(t *testing.T) {
	th := Thresholds{}.withDefaults()
	r := ResourceUsage{CPUPercent: 95, MemoryPercent: 95, DiskPercent: 96, TemperatureC: 90}
	alerts := thresholdAlerts(r, th)
	assert.Len(t, alerts, 4)
	for _, a := range alerts {
		assert.Equal(t, AlertCritical, a.Severity)
	}
}

func TestOverallStatusEscalatesToCriticalOnAlert(t *testing.T) {
	s := &Sampler{cfg: Config{Thresholds: Thresholds{}.withDefaults()}}
	status := s.overallStatus(ResourceUsage{}, []Alert{{Severity: AlertCritical}})
	assert.Equal(t, StatusCritical, status)
}

func TestOverallStatusOkWithNoAlerts(t *testing.T) {
	s := &Sampler{cfg: Config{Thresholds: Thresholds{}.withDefaults()}}
	status := s.overallStatus(ResourceUsage{}, nil)
	assert.Equal(t, StatusOk, status)
}

func TestOverallStatusShutdownPendingOnExtremeTemp(t *testing.T) {
	cfg := Config{Thresholds: Thresholds{}.withDefaults()}
	s := &Sampler{cfg: cfg}
	status := s.overallStatus(ResourceUsage{TemperatureC: 200}, nil)
	assert.Equal(t, StatusShutdownPending, status)
}

func TestCPUPercentFirstSampleReturnsZero(t *testing.T) {
	s := &Sampler{}
	got := s.cpuPercent(procfs.Stat{})
	assert.Equal(t, float64(0), got)
	assert.True(t, s.haveStat)
}

func TestCPUPercentComputesDeltaBetweenSnapshots(t *testing.T) {
	s := &Sampler{}
	first := procfs.Stat{CPUTotal: procfs.CPUStat{User: 100, Idle: 900}}
	second := procfs.Stat{CPUTotal: procfs.CPUStat{User: 150, Idle: 950}}

	s.cpuPercent(first)
	pct := s.cpuPercent(second)

	// totalDelta = 100, idleDelta = 50 -> 50% busy
	assert.InDelta(t, 50, pct, 0.01)
}

type stubNetworkSource struct{ degraded bool }

func (s stubNetworkSource) PrimaryDegraded() bool { return s.degraded }

func TestCollectNetworkReflectsPrimaryDegraded(t *testing.T) {
	s := &Sampler{cfg: Config{Network: stubNetworkSource{degraded: true}}}
	nh := s.collectNetwork()
	assert.False(t, nh.PrimaryConnected)
}

func TestCollectNetworkDefaultsConnectedWithoutSource(t *testing.T) {
	s := &Sampler{cfg: Config{}}
	nh := s.collectNetwork()
	assert.True(t, nh.PrimaryConnected)
}

type stubTaskSource struct{ tasks []TaskStatus }

func (s stubTaskSource) TaskStatuses() []TaskStatus { return s.tasks }

func TestOverallStatusEscalatesOnCriticalAlertList(t *testing.T) {
	tasks := []TaskStatus{{Name: "camera", IsAlive: false, LastHeartbeat: time.Now().Add(-time.Hour)}}
	s := &Sampler{cfg: Config{Thresholds: Thresholds{}.withDefaults(), Tasks: stubTaskSource{tasks: tasks}}}
	alerts := []Alert{{AlertType: "task_dead", Severity: AlertCritical}}

	status := s.overallStatus(ResourceUsage{}, alerts)
	assert.Equal(t, StatusCritical, status)
}
