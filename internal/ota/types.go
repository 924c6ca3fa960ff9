// ============================================================================
// OTA Responder
// ============================================================================
//
// Package: internal/ota
// File: types.go
// Purpose: Update/command envelope types (spec §4.12: typed command
//          channel {Reboot, Shutdown, RestartService, GetDiagnostics,
//          UpdateConfig, RunHealthCheck, CaptureSnapshot, FlushWAL};
//          typed update channel {Agent, Model, Config, Firmware}
//          artefacts with checksum/signature/size/priority/deadline).
//
// Grounded on original_source/iot-truck-agent/src/ota/types.rs's
// OtaUpdate/OtaStatus/RemoteCommand/CommandResponse shapes, recovered
// as plain Go structs/enums rather than serde-tagged Rust enums.
// ============================================================================

package ota

import "time"

// UpdateTarget identifies which artefact class an Update carries.
type UpdateTarget int

const (
	TargetAgent UpdateTarget = iota
	TargetModel
	TargetConfig
	TargetFirmware
)

func (t UpdateTarget) String() string {
	switch t {
	case TargetAgent:
		return "agent"
	case TargetModel:
		return "model"
	case TargetConfig:
		return "config"
	case TargetFirmware:
		return "firmware"
	default:
		return "unknown"
	}
}

// UpdatePriority governs both the apply deadline and whether the
// downloader's bandwidth cap applies (Critical bypasses it, spec §4.12).
type UpdatePriority int

const (
	PriorityCritical UpdatePriority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// Update describes one OTA artefact offered by the server.
type Update struct {
	UpdateID    string
	Version     string
	Target      UpdateTarget
	URL         string
	Checksum    string // hex-encoded SHA-256 of the artefact bytes
	Signature   string // hex-encoded ed25519 signature over the checksum bytes
	KeyID       string // which trusted public key verifies Signature
	SizeBytes   int64
	Priority    UpdatePriority
	Deadline    *time.Time
}

// UpdateStatus is the pipeline stage an Update is currently in, per spec
// §4.12: "Pending -> Downloading -> Verifying -> Applying -> (Success |
// Rollback -> Failed)".
type UpdateStatus int

const (
	StatusPending UpdateStatus = iota
	StatusDownloading
	StatusVerifying
	StatusApplying
	StatusRollback
	StatusSuccess
	StatusFailed
)

func (s UpdateStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusVerifying:
		return "verifying"
	case StatusApplying:
		return "applying"
	case StatusRollback:
		return "rollback"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// UpdateResult reports the terminal outcome of one applyUpdate call.
type UpdateResult struct {
	UpdateID string
	Status   UpdateStatus
	Error    string
}

// CommandType enumerates the remote commands the OTA Responder accepts,
// verbatim from spec §4.12.
type CommandType int

const (
	CommandReboot CommandType = iota
	CommandShutdown
	CommandRestartService
	CommandGetDiagnostics
	CommandUpdateConfig
	CommandRunHealthCheck
	CommandCaptureSnapshot
	CommandFlushWAL
)

func (c CommandType) String() string {
	switch c {
	case CommandReboot:
		return "reboot"
	case CommandShutdown:
		return "shutdown"
	case CommandRestartService:
		return "restart_service"
	case CommandGetDiagnostics:
		return "get_diagnostics"
	case CommandUpdateConfig:
		return "update_config"
	case CommandRunHealthCheck:
		return "run_health_check"
	case CommandCaptureSnapshot:
		return "capture_snapshot"
	case CommandFlushWAL:
		return "flush_wal"
	default:
		return "unknown"
	}
}

// Command is one inbound remote command, with free-form parameters (e.g.
// the service name for RestartService).
type Command struct {
	CommandID  string
	Type       CommandType
	Parameters map[string]any
	IssuedAt   time.Time
	Deadline   *time.Time
}

// CommandStatus is the outcome of executing one Command.
type CommandStatus int

const (
	CommandSuccess CommandStatus = iota
	CommandFailed
	CommandTimeout
	CommandCancelled
)

func (s CommandStatus) String() string {
	switch s {
	case CommandSuccess:
		return "success"
	case CommandFailed:
		return "failed"
	case CommandTimeout:
		return "timeout"
	case CommandCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CommandResponse is returned on the response channel keyed by CommandID,
// per spec §4.12: "CommandResponse{status, result, error, completed_at}".
type CommandResponse struct {
	CommandID   string
	Status      CommandStatus
	Result      map[string]any
	Error       string
	CompletedAt time.Time
}
