package transport

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net/http"
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/batcher"
	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// HTTPSecondaryConfig configures the "short-lived request/response"
// transport spec §4.6 requires as the fallback path when primary is
// unreachable or degraded.
type HTTPSecondaryConfig struct {
	Endpoint string // e.g. "https://ingest.example.com/v1/batches"
	Timeout  time.Duration
}

// HTTPSecondary POSTs a batch and parses the server's ack from the
// response body. It has no persistent connection state to track, so
// IsConnected always reports true — availability is judged per-request by
// the caller inspecting the returned error.
type HTTPSecondary struct {
	cfg    HTTPSecondaryConfig
	client *http.Client
}

func NewHTTPSecondary(cfg HTTPSecondaryConfig) *HTTPSecondary {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPSecondary{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *HTTPSecondary) Name() string { return "secondary-http" }

// IsConnected is always true for a connectionless request/response
// transport; the Multiplexer falls back to it when primary reports
// disconnected or is in its failure cool-off, and there is no persistent
// state of its own to check.
func (t *HTTPSecondary) IsConnected() bool { return true }

func (t *HTTPSecondary) SendBatch(ctx context.Context, b batcher.Batch, qos event.QoS) (Ack, error) {
	raw, err := encodeBatch(b)
	if err != nil {
		return Ack{}, &TransportError{Transport: t.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return Ack{}, &TransportError{Transport: t.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/gob")
	req.Header.Set("X-QoS", qosHeaderValue(qos))

	resp, err := t.client.Do(req)
	if err != nil {
		return Ack{}, &TransportError{Transport: t.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Ack{}, &TransportError{Transport: t.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var wa wireAck
	if err := gob.NewDecoder(resp.Body).Decode(&wa); err != nil {
		// The server accepted the batch (200 OK) but the ack body was
		// unreadable; treat every event as acked rather than retrying a
		// batch the server already has, matching "missing ids are logged
		// but not errors" (§4.7) generalized to a missing ack body.
		return Ack{BatchID: b.ID, EventIDs: eventIDs(b)}, nil
	}
	return Ack{BatchID: wa.BatchID, EventIDs: wa.EventIDs}, nil
}

func qosHeaderValue(q event.QoS) string {
	switch q {
	case event.QoSExactlyOnce:
		return "exactly-once"
	case event.QoSAtLeastOnce:
		return "at-least-once"
	default:
		return "at-most-once"
	}
}
