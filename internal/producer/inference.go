// ============================================================================
// Producer — Inference
// ============================================================================
//
// Package: internal/producer
// File: inference.go
// Purpose: Deterministic inference-result simulator satisfying Producer,
//          standing in for an on-device model runtime (Non-goals: model
//          accuracy/real inference is out of scope — only the event
//          shape and cadence matter here).
//
// Grounded on the Adaptive Controller's MLModelDisableOrder (spec §4.10)
// and InferencePayload.BandwidthHeavy (DESIGN NOTES §9): this producer
// is driven by a caller-supplied model roster so the same disable/
// bandwidth-heavy ordering the controller reasons about is exercised
// end-to-end.
// ============================================================================

package producer

import (
	"context"
	"sync"

	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// Model describes one simulated inference model's identity and whether its
// input/output is large enough to count as bandwidth-heavy.
type Model struct {
	Name           string
	BandwidthHeavy bool
}

// InferenceProducer simulates one model's periodic output. SetDisabled
// lets the Adaptive Controller's DisableInferenceModel action turn it off
// without stopping the goroutine entirely.
type InferenceProducer struct {
	baseProducer
	truckID string
	model   Model

	disableMu sync.Mutex
	disabled  bool
}

func NewInferenceProducer(deviceID, truckID string, model Model, hz float64, out chan<- *event.Event, hb Heartbeater) *InferenceProducer {
	return &InferenceProducer{
		baseProducer: newBase(deviceID, out, hb, hz),
		truckID:      truckID,
		model:        model,
	}
}

func (i *InferenceProducer) Start(ctx context.Context) error {
	return i.start(ctx, i.emit)
}

func (i *InferenceProducer) Stop() { i.stop() }

// SetDisabled toggles whether emit produces events. run.go calls it from
// the Adaptive Controller's DisableInferenceModel actions and re-enables a
// model once no current action names it.
func (i *InferenceProducer) SetDisabled(disabled bool) {
	i.disableMu.Lock()
	defer i.disableMu.Unlock()
	i.disabled = disabled
}

func (i *InferenceProducer) Disabled() bool {
	i.disableMu.Lock()
	defer i.disableMu.Unlock()
	return i.disabled
}

func (i *InferenceProducer) emit() {
	if i.Disabled() {
		return
	}

	seq := i.nextSeq()
	meta := event.Metadata{TruckID: i.truckID, SourceModule: "producer.inference"}
	payload := event.InferencePayload{
		ModelName:      i.model.Name,
		Labels:         []string{"nominal"},
		Scores:         []float32{0.97},
		IsAlert:        false,
		BandwidthHeavy: i.model.BandwidthHeavy,
	}
	i.send(event.NewInferenceEvent(i.deviceID, seq, payload, meta))
}
