// ============================================================================
// Producer — Camera
// ============================================================================
//
// Package: internal/producer
// File: camera.go
// Purpose: Deterministic camera simulator satisfying Producer, emitting a
//          CameraMeta event followed by a CameraBlob event per frame —
//          the same two-event split the WAL/compress stage expects
//          (spec §4.2 step 3: blob bytes pass through compression,
//          metadata does not).
//
// Grounded on original_source/iot-truck-agent/src/sensors/mod.rs's
// per-device goroutine shape; V4L2 capture and real H.264/JPEG encoding
// are out of scope (Non-goals: real camera hardware I/O). FrameBytes
// below is a fixed-size deterministic filler buffer, not pixel data.
// ============================================================================

package producer

import (
	"context"

	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// CameraProducer simulates one camera device, emitting meta+blob event
// pairs at its configured frame rate. SetRate here maps directly onto
// the Adaptive Controller's ThrottleCameraFPS action.
type CameraProducer struct {
	baseProducer
	truckID     string
	cameraID    string
	width       int
	height      int
	frameBytes  int
	codec       string
	triggerKind string
}

// NewCameraProducer builds a simulated camera source. frameBytes sizes the
// synthetic blob payload (kept small and fixed so tests stay fast).
func NewCameraProducer(deviceID, truckID, cameraID string, width, height, frameBytes int, fps float64, out chan<- *event.Event, hb Heartbeater) *CameraProducer {
	return &CameraProducer{
		baseProducer: newBase(deviceID, out, hb, fps),
		truckID:      truckID,
		cameraID:     cameraID,
		width:        width,
		height:       height,
		frameBytes:   frameBytes,
		codec:        "mjpeg",
		triggerKind:  "periodic",
	}
}

func (c *CameraProducer) Start(ctx context.Context) error {
	return c.start(ctx, c.emit)
}

func (c *CameraProducer) Stop() { c.stop() }

// SetTriggerKind overrides the next frame's TriggerKind, e.g. when the
// Adaptive Controller or an alert policy requests an out-of-cycle capture
// triggered by harsh braking or an inference alert.
func (c *CameraProducer) SetTriggerKind(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggerKind = kind
}

func (c *CameraProducer) emit() {
	c.mu.Lock()
	trigger := c.triggerKind
	c.triggerKind = "periodic"
	c.mu.Unlock()

	frameSeq := c.nextSeq()
	meta := event.Metadata{TruckID: c.truckID, SourceModule: "producer.camera"}

	metaPayload := event.CameraMetaPayload{
		CameraID:    c.cameraID,
		FrameSeq:    frameSeq,
		Width:       c.width,
		Height:      c.height,
		TriggerKind: trigger,
	}
	c.send(event.NewCameraMetaEvent(c.deviceID, c.nextSeq(), metaPayload, meta))

	blob := make([]byte, c.frameBytes)
	for i := range blob {
		blob[i] = byte((int(frameSeq) + i) % 256)
	}
	blobPayload := event.CameraBlobPayload{
		CameraID:          c.cameraID,
		FrameSeq:          frameSeq,
		Codec:             c.codec,
		Data:              blob,
		AlreadyCompressed: false,
	}
	c.send(event.NewCameraBlobEvent(c.deviceID, c.nextSeq(), blobPayload, meta))
}
