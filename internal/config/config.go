// ============================================================================
// Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: TOML-backed Config struct mirroring spec §6's sections, loaded
//          via github.com/BurntSushi/toml.
//
// Grounded on internal/cli/cli.go's Config struct (nested anonymous
// structs tagged per-field, one struct per subsystem) generalized from
// YAML tags over worker/wal/snapshot/metrics sections to TOML tags over
// transport/sensors/camera/storage/health/alerts sections.
// ============================================================================

package config

import (
	"strconv"
	"time"
)

// Config is the full on-disk configuration, spec §6.
type Config struct {
	DeviceID string `toml:"device_id"`
	LogLevel string `toml:"log_level"`

	Transport TransportConfig `toml:"transport"`
	Sensors   SensorsConfig   `toml:"sensors"`
	Camera    CameraConfig    `toml:"camera"`
	Storage   StorageConfig   `toml:"storage"`
	Health    HealthConfig    `toml:"health"`
	Alerts    AlertsConfig    `toml:"alerts"`
}

type TransportConfig struct {
	PrimaryURL   string        `toml:"primary_url"`
	SecondaryURL string        `toml:"secondary_url"`
	ClientID     string        `toml:"client_id"`
	KeepAlive    time.Duration `toml:"keep_alive"`
	QoSDefault   string        `toml:"qos_default"`
}

type SensorDevice struct {
	Name   string  `toml:"name"`
	Path   string  `toml:"path"`
	RateHz float64 `toml:"rate_hz"`
}

type SensorsConfig struct {
	Devices []SensorDevice `toml:"devices"`
}

type CameraDevice struct {
	Name          string `toml:"name"`
	Path          string `toml:"path"`
	Width         int    `toml:"width"`
	Height        int    `toml:"height"`
	FPS           int    `toml:"fps"`
	EncodeQuality int    `toml:"encode_quality"`
}

type CameraConfig struct {
	Devices []CameraDevice `toml:"devices"`
}

type EncryptionConfig struct {
	Enabled bool   `toml:"enabled"`
	KeyFile string `toml:"key_file"`
}

type StorageConfig struct {
	WALPath               string           `toml:"wal_path"`
	MaxWALSizeMB          int              `toml:"max_wal_size_mb"`
	CheckpointIntervalSec int              `toml:"checkpoint_interval_sec"`
	Encryption            EncryptionConfig `toml:"encryption"`
}

type HealthConfig struct {
	SampleIntervalMS   int     `toml:"sample_interval_ms"`
	CPUWarningPercent  float64 `toml:"cpu_warning_percent"`
	CPUCriticalPercent float64 `toml:"cpu_critical_percent"`
	MemWarningPercent  float64 `toml:"mem_warning_percent"`
	MemCriticalPercent float64 `toml:"mem_critical_percent"`
	DiskWarningPercent float64 `toml:"disk_warning_percent"`
	DiskCriticalPercent float64 `toml:"disk_critical_percent"`
	TempWarningC       float64 `toml:"temp_warning_c"`
	TempCriticalC      float64 `toml:"temp_critical_c"`
}

type AlertsConfig struct {
	EnableLocalAlerts bool   `toml:"enable_local_alerts"`
	GPIOPin           int    `toml:"gpio_pin"`
	DebounceSec       int    `toml:"debounce_sec"`
}

// ValidationError wraps a configuration mistake; per spec §7 this is
// fatal (exit 2) at startup and rejected-but-logged at hot-reload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}

// Validate enforces the minimal set of invariants a malformed config
// could violate: required identity, a known log level, and non-negative
// durations/sizes. It deliberately does not second-guess device paths
// (sensors/camera adapters validate their own paths at open time).
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return &ValidationError{Field: "device_id", Reason: "must not be empty"}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "log_level", Reason: "must be one of debug, info, warn, error"}
	}
	if c.Storage.MaxWALSizeMB < 0 {
		return &ValidationError{Field: "storage.max_wal_size_mb", Reason: "must not be negative"}
	}
	if c.Storage.CheckpointIntervalSec < 0 {
		return &ValidationError{Field: "storage.checkpoint_interval_sec", Reason: "must not be negative"}
	}
	if c.Health.SampleIntervalMS < 0 {
		return &ValidationError{Field: "health.sample_interval_ms", Reason: "must not be negative"}
	}
	for i, d := range c.Sensors.Devices {
		if d.RateHz < 0 {
			return &ValidationError{Field: "sensors.devices", Reason: "rate_hz must not be negative for device " + indexName(i, d.Name)}
		}
	}
	for i, d := range c.Camera.Devices {
		if d.FPS < 0 {
			return &ValidationError{Field: "camera.devices", Reason: "fps must not be negative for device " + indexName(i, d.Name)}
		}
	}
	return nil
}

func indexName(i int, name string) string {
	if name != "" {
		return name
	}
	return "#" + strconv.Itoa(i)
}
