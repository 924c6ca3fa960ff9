// Package transport implements the Transport Multiplexer (spec §4.6): a
// primary persistent pub/sub transport (NATS, grounded on the other_examples
// JetStream watcher) and a secondary short-lived request/response transport
// (stdlib net/http), selected by connection state, with QoS mapping and a
// degrade/cool-off cycle on repeated primary failures.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ridgeline-iot/edge-agent/internal/batcher"
	"github.com/ridgeline-iot/edge-agent/internal/event"
)

// Ack is returned by a successful send_batch call, naming which events the
// server actually accepted (a superset report is not an error, per §4.7).
type Ack struct {
	BatchID  string
	EventIDs []string
}

// TransportError wraps a failed send_batch attempt with the transport that
// produced it, so the Multiplexer's failure-counting can tell primary
// failures apart from secondary ones.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string { return e.Transport + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

var ErrNotConnected = errors.New("transport: not connected")

// NetworkQuality is sampled by the Prober from a canary RTT and a recent
// bandwidth estimate (spec §4.6 "Connection lifecycle"); there is no
// broker liveness check.
type NetworkQuality struct {
	LatencyMS     float64
	LossPercent   float64
	BandwidthKbps float64
}

// Transport is implemented by both the primary and secondary paths.
type Transport interface {
	Name() string
	IsConnected() bool
	SendBatch(ctx context.Context, b batcher.Batch, qos event.QoS) (Ack, error)
}

// qosFor maps a batch's priority to the delivery semantics spec §4.6
// requires, given whether the selected transport supports exactly-once and
// whether the caller is currently under disk pressure (which permits
// downgrading Low to at-most-once).
func qosFor(prio event.Priority, transportSupportsExactlyOnce bool, diskPressureHigh bool) event.QoS {
	switch prio {
	case event.PriorityCritical, event.PriorityHigh:
		if transportSupportsExactlyOnce {
			return event.QoSExactlyOnce
		}
		return event.QoSAtLeastOnce
	case event.PriorityMedium:
		return event.QoSAtLeastOnce
	default: // Low
		if diskPressureHigh {
			return event.QoSAtMostOnce
		}
		return event.QoSAtLeastOnce
	}
}

const (
	defaultFailureThreshold = 3
	defaultCoolOff          = 30 * time.Second
)
