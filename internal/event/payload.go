package event

// Size hints for payload variants that don't carry a buffer of their own.
// Per spec §4.1: "size_hint_bytes is computed from a cheap per-variant
// table (blob uses buffer length; others use fixed constants)".
const (
	sizeHintSensor           = 128
	sizeHintCameraMeta       = 256
	sizeHintInference        = 192
	sizeHintHealth           = 512
	sizeHintHeartbeat        = 32
	sizeHintCheckpoint       = 64
	sizeHintCommandResponse  = 256
	sizeHintAlert            = 256
)

// SensorReading is one of GPS, OBD or IMU — exactly one is set, mirroring
// original_source/iot-truck-agent/src/sensors/{gps,obd}.rs and
// src/stream/types.rs, which the distilled spec.md collapses into a bare
// "Sensor" payload kind. Keeping the sub-reading split preserves what a
// complete implementation of this system would carry end to end.
type SensorReading struct {
	GPS *GPSReading
	OBD *OBDReading
	IMU *IMUReading
}

type GPSReading struct {
	Latitude  float64
	Longitude float64
	SpeedKMH  float32
	HeadingDeg float32
	FixQuality int
}

type OBDReading struct {
	RPM           float32
	SpeedKMH      float32
	FuelLevelPct  float32
	EngineTempC   float32
	DTCCodes      []string
}

// IMUReading carries raw accelerometer/gyroscope samples plus the derived
// GForce. Per DESIGN NOTES §9, GForce = sqrt(ax²+ay²+az²) - GravityOffsetG,
// with GravityOffsetG made explicit and configurable rather than guessed.
type IMUReading struct {
	AccelX, AccelY, AccelZ float32
	GyroX, GyroY, GyroZ    float32
	GForce                 float32
	GravityOffsetG         float32
}

// ComputeGForce fills GForce from the raw axes using the configured
// gravity offset (defaults to 1.0 g, Earth's surface gravity, if zero).
func (r *IMUReading) ComputeGForce() float32 {
	offset := r.GravityOffsetG
	if offset == 0 {
		offset = 1.0
	}
	mag := sqrtf32(r.AccelX*r.AccelX + r.AccelY*r.AccelY + r.AccelZ*r.AccelZ)
	r.GForce = mag - offset
	return r.GForce
}

func sqrtf32(v float32) float32 {
	// Newton-Raphson: avoids pulling in math.Sqrt's float64 round trip for
	// a value this small, and keeps the IMU math float32-only.
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 8; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

type SensorPayload struct {
	Reading SensorReading
}

func (*SensorPayload) payloadKind() Kind { return KindSensor }

// CameraMetaPayload describes a captured frame without the frame bytes
// themselves (thumbnail, trigger reason, detection boxes from a fused
// inference pass).
type CameraMetaPayload struct {
	CameraID    string
	FrameSeq    uint64
	Width       int
	Height      int
	TriggerKind string // e.g. "periodic", "harsh_braking", "inference_alert"
}

func (*CameraMetaPayload) payloadKind() Kind { return KindCameraMeta }

// CameraBlobPayload carries the encoded frame bytes. AlreadyCompressed is
// true when the bytes are already H.264/JPEG and must pass through the
// WAL's compression stage untouched (spec §4.2 step 3).
type CameraBlobPayload struct {
	CameraID          string
	FrameSeq          uint64
	Codec             string // "h264", "mjpeg", "raw"
	Data              []byte
	AlreadyCompressed bool
}

func (*CameraBlobPayload) payloadKind() Kind { return KindCameraBlob }

// InferencePayload carries one model's result. IsAlert promotes the event
// to Critical retention treatment per spec §3 invariant 3.
type InferencePayload struct {
	ModelName  string
	Labels     []string
	Scores     []float32
	IsAlert    bool
	BandwidthHeavy bool // true for models whose input/output is large (video-derived)
}

func (*InferencePayload) payloadKind() Kind { return KindInference }

// HealthPayload wraps a serialized health snapshot for transport; the live
// in-process representation lives in package health, this is its
// over-the-wire shape.
type HealthPayload struct {
	Status    string
	CPUPct    float32
	MemPct    float32
	DiskPct   float32
	TempC     float32
	AlertText string
}

func (*HealthPayload) payloadKind() Kind { return KindHealth }

type HeartbeatPayload struct {
	TaskName string
	Sequence uint64
}

func (*HeartbeatPayload) payloadKind() Kind { return KindHeartbeat }

// CheckpointPayload records the reaper's compaction watermark, per spec §3
// invariant 5.
type CheckpointPayload struct {
	SafeToDeleteBefore uint64
	EntryCount         uint64
	TombstoneCount     uint64
}

func (*CheckpointPayload) payloadKind() Kind { return KindCheckpoint }

// CommandResponsePayload answers an OTA command, keyed by CommandID.
type CommandResponsePayload struct {
	CommandID   string
	Status      string
	Result      string
	Error       string
	CompletedAt int64
}

func (*CommandResponsePayload) payloadKind() Kind { return KindCommandResponse }

// AlertPayload is a locally-raised alert (thermal, disk, flapping, ...).
type AlertPayload struct {
	AlertType string
	Severity  string
	Message   string
}

func (*AlertPayload) payloadKind() Kind { return KindAlert }

func sizeHintFor(k Kind, p Payload) int {
	switch v := p.(type) {
	case *CameraBlobPayload:
		return len(v.Data)
	case *SensorPayload:
		return sizeHintSensor
	case *CameraMetaPayload:
		return sizeHintCameraMeta
	case *InferencePayload:
		return sizeHintInference
	case *HealthPayload:
		return sizeHintHealth
	case *HeartbeatPayload:
		return sizeHintHeartbeat
	case *CheckpointPayload:
		return sizeHintCheckpoint
	case *CommandResponsePayload:
		return sizeHintCommandResponse
	case *AlertPayload:
		return sizeHintAlert
	default:
		return 0
	}
}
