// ============================================================================
// OTA Responder — Default Command Handlers
// ============================================================================
//
// Package: internal/ota
// File: default_handlers.go
// Purpose: Simulated CommandHandlers for the commands that, in the
//          original agent, are placeholders even in the "production"
//          path (GetDiagnostics, RunHealthCheck, CaptureSnapshot,
//          FlushWAL). Reboot/Shutdown/RestartService are deliberately
//          NOT defaulted here: executing those for real is an
//          operator-provided side effect, not something this package
//          should do unasked.
//
// Grounded on original_source/iot-truck-agent/src/ota/command_executor.rs's
// execute_get_diagnostics/execute_run_health_check/
// execute_capture_snapshot/execute_flush_wal bodies, which return fixed
// placeholder JSON rather than real system state.
// ============================================================================

package ota

import "context"

// DefaultDiagnosticsHandler reports a fixed diagnostics snapshot, standing
// in for real system introspection until a caller wires one in.
func DefaultDiagnosticsHandler(ctx context.Context, cmd Command) (map[string]any, error) {
	return map[string]any{
		"uptime_sec":    0,
		"memory_used_pct": 0,
		"disk_used_pct":   0,
	}, nil
}

// DefaultHealthCheckHandler reports success without running real checks.
func DefaultHealthCheckHandler(ctx context.Context, cmd Command) (map[string]any, error) {
	return map[string]any{"status": "healthy", "checks": 0, "passed": 0}, nil
}

// DefaultCaptureSnapshotHandler reports a "snapshot_captured" status
// without writing a snapshot or returning a path.
func DefaultCaptureSnapshotHandler(ctx context.Context, cmd Command) (map[string]any, error) {
	return map[string]any{"status": "snapshot_captured"}, nil
}

// DefaultFlushWALHandler reports success without touching a real WAL; a
// real wiring would call wal.Writer.Flush and return its error here.
func DefaultFlushWALHandler(ctx context.Context, cmd Command) (map[string]any, error) {
	return map[string]any{"status": "flushed"}, nil
}
