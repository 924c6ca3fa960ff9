package transport

import (
	"bytes"
	"encoding/gob"

	"github.com/ridgeline-iot/edge-agent/internal/batcher"
	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// Payload variants are registered here too (in addition to package wal's
// own registration) so transport can gob-encode *event.Event directly
// even in a binary or test that never imports wal. gob.Register is
// idempotent for the same concrete type under the same name, so this
// duplication across packages is harmless.
func init() {
	gob.Register(&event.SensorPayload{})
	gob.Register(&event.CameraMetaPayload{})
	gob.Register(&event.CameraBlobPayload{})
	gob.Register(&event.InferencePayload{})
	gob.Register(&event.HealthPayload{})
	gob.Register(&event.HeartbeatPayload{})
	gob.Register(&event.CheckpointPayload{})
	gob.Register(&event.CommandResponsePayload{})
	gob.Register(&event.AlertPayload{})
}

// wireBatch is what actually goes over NATS/HTTP: the batch id plus each
// member event's stable binary form, so the server can dedupe by
// event_id without needing the sender's in-memory Batch struct.
type wireBatch struct {
	ID     string
	Events [][]byte
}

func encodeBatch(b batcher.Batch) ([]byte, error) {
	wb := wireBatch{ID: b.ID}
	for _, ev := range b.Events {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(ev); err != nil {
			return nil, err
		}
		wb.Events = append(wb.Events, buf.Bytes())
	}
	var out bytes.Buffer
	if err := gob.NewEncoder(&out).Encode(wb); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func decodeBatch(raw []byte) (wireBatch, error) {
	var wb wireBatch
	err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&wb)
	return wb, err
}

func eventIDs(b batcher.Batch) []string {
	ids := make([]string, 0, len(b.Events))
	for _, ev := range b.Events {
		ids = append(ids, ev.EventID)
	}
	return ids
}
