package compress

import (
	"math"

	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// NetworkQuality is the subset of transport.NetworkQuality the Compressor
// needs; declared locally to avoid an import cycle between internal/compress
// and internal/transport (the multiplexer imports compress to shrink
// outgoing batches, so compress cannot import transport back).
type NetworkQuality struct {
	BandwidthKbps float64
}

// TranscodeRequest is returned when a CameraBlob's bandwidth tier calls for
// delegating to an encoder capability outside this package's scope (spec
// §4.5: "delegated to an encoder capability"). The compressor only decides
// that a transcode is warranted; performing it is the camera producer's
// job.
type TranscodeRequest struct {
	TargetCodec string
}

// Action is what Apply decided to do with a payload.
type Action int

const (
	ActionPassthrough Action = iota
	ActionZstd
	ActionTranscode
	ActionDeltaEncode
)

// Result carries the outcome of compressing one event's payload.
type Result struct {
	Action     Action
	Compressed []byte
	Ratio      float64
	Transcode  *TranscodeRequest
}

// sensorDeltaState tracks, per producer, the last sample sent so a later
// one can be delta-encoded. Keyed by a producer id that applySensor
// derives from the event's metadata.
type sensorDeltaState struct {
	lastIMU *event.IMUReading
}

// Compressor applies spec §4.5's per-payload rules. It is stateful only
// for sensor delta encoding; camera/inference/health payloads are handled
// without history.
type Compressor struct {
	lastSamples map[string]*sensorDeltaState
}

func NewCompressor() *Compressor {
	return &Compressor{lastSamples: make(map[string]*sensorDeltaState)}
}

// Apply compresses ev's payload bytes (supplied by the caller, since the
// wire representation differs from the in-memory Payload) according to
// the payload kind and current network quality.
func (c *Compressor) Apply(ev *event.Event, raw []byte, nq NetworkQuality) Result {
	switch ev.Kind {
	case event.KindCameraBlob:
		return c.applyCameraBlob(ev, raw, nq)
	case event.KindSensor:
		return c.applySensor(ev, raw)
	case event.KindInference, event.KindHealth:
		return zstdResult(raw)
	default:
		return Result{Action: ActionPassthrough, Compressed: raw, Ratio: 1}
	}
}

func (c *Compressor) applyCameraBlob(ev *event.Event, raw []byte, nq NetworkQuality) Result {
	blob, _ := ev.Payload.(*event.CameraBlobPayload)
	if blob != nil && blob.AlreadyCompressed {
		return Result{Action: ActionPassthrough, Compressed: raw, Ratio: 1}
	}
	switch {
	case nq.BandwidthKbps < 500:
		return Result{Action: ActionTranscode, Transcode: &TranscodeRequest{TargetCodec: "h264"}}
	case nq.BandwidthKbps < 1000:
		return zstdResult(raw)
	default:
		return Result{Action: ActionPassthrough, Compressed: raw, Ratio: 1}
	}
}

func (c *Compressor) applySensor(ev *event.Event, raw []byte) Result {
	sp, _ := ev.Payload.(*event.SensorPayload)
	if sp == nil || sp.Reading.IMU == nil {
		return Result{Action: ActionPassthrough, Compressed: raw, Ratio: 1}
	}
	key := ev.Metadata.SourceModule + "/" + ev.Metadata.DeviceID
	st, ok := c.lastSamples[key]
	if !ok {
		st = &sensorDeltaState{}
		c.lastSamples[key] = st
	}
	cur := sp.Reading.IMU
	if st.lastIMU == nil {
		st.lastIMU = cur
		return Result{Action: ActionPassthrough, Compressed: raw, Ratio: 1}
	}
	delta := deltaEncodeIMU(st.lastIMU, cur)
	st.lastIMU = cur
	return Result{Action: ActionDeltaEncode, Compressed: delta, Ratio: Ratio(len(raw), len(delta))}
}

// deltaEncodeIMU encodes the six IMU axes as float32 differences against
// the previous sample; stateless callers (first sample, or no history)
// fall back to passthrough in applySensor above.
func deltaEncodeIMU(prev, cur *event.IMUReading) []byte {
	diffs := [6]float32{
		cur.AccelX - prev.AccelX,
		cur.AccelY - prev.AccelY,
		cur.AccelZ - prev.AccelZ,
		cur.GyroX - prev.GyroX,
		cur.GyroY - prev.GyroY,
		cur.GyroZ - prev.GyroZ,
	}
	out := make([]byte, 0, 24)
	for _, d := range diffs {
		bits := math.Float32bits(d)
		out = append(out, byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
	}
	return out
}

func zstdResult(raw []byte) Result {
	c := Zstd(raw)
	return Result{Action: ActionZstd, Compressed: c, Ratio: Ratio(len(raw), len(c))}
}
