// Package health implements the periodic resource/network/task sampler
// described in spec §4.9: CPU/mem/disk/temperature/network readings
// rolled into a HealthEvent whose status is the maximum severity across
// every component it samples.
package health

import "time"

// Status orders overall device health. Lower values are defined first so
// the zero value is the healthiest state, matching spec §4.9's explicit
// ordering "Ok < Warning < Critical < Degraded < ShutdownPending".
type Status int

const (
	StatusOk Status = iota
	StatusWarning
	StatusCritical
	StatusDegraded
	StatusShutdownPending
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	case StatusDegraded:
		return "degraded"
	case StatusShutdownPending:
		return "shutdown_pending"
	default:
		return "unknown"
	}
}

// max returns the more severe of the two statuses.
func max(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// ResourceUsage mirrors the teacher-original Rust agent's ResourceUsage
// (recovered from original_source/iot-truck-agent/src/health/types.rs),
// carrying the same fields under Go naming.
type ResourceUsage struct {
	CPUPercent        float64
	CPUCores          int
	LoadAvg1          float64
	LoadAvg5          float64
	LoadAvg15         float64
	MemoryPercent     float64
	MemoryUsedMB      uint64
	MemoryTotalMB     uint64
	MemoryAvailableMB uint64
	SwapPercent       float64
	DiskPercent       float64
	DiskUsedGB        uint64
	DiskTotalGB       uint64
	DiskAvailableGB   uint64
	TemperatureC      float64
	ThermalThrottling bool
	UptimeSec         uint64
}

// NetworkHealth is the network part of a HealthEvent. The Sampler fills
// only PrimaryConnected (from its NetworkSource); SecondaryAvailable,
// LatencyMS, LossPercent and BandwidthKbps are left at their zero values.
type NetworkHealth struct {
	PrimaryConnected   bool
	SecondaryAvailable bool
	LatencyMS          float64
	LossPercent        float64
	BandwidthKbps      float64
}

// TaskStatus reports one Supervisor-registered task's liveness.
type TaskStatus struct {
	Name          string
	IsAlive       bool
	LastHeartbeat time.Time
	RestartCount  int
	LastRestart   time.Time
}

// AlertSeverity mirrors spec §4.9's alert severities.
type AlertSeverity int

const (
	AlertInfo AlertSeverity = iota
	AlertWarning
	AlertCritical
)

// Alert is one threshold-crossing observation folded into a HealthEvent.
type Alert struct {
	AlertType         string
	Severity          AlertSeverity
	Message           string
	Source            string
	RecommendedAction string
	TriggeredAt       time.Time
}

// HealthEvent is the Sampler's output. It carries no actions: the
// Adaptive Controller derives its Actions from a HealthEvent separately.
type HealthEvent struct {
	Timestamp time.Time
	Status    Status
	Resources ResourceUsage
	Network   NetworkHealth
	Tasks     []TaskStatus
	Alerts    []Alert
}
