// Package event defines the uniform envelope that carries everything
// produced on the vehicle into the WAL and, eventually, to the central
// server. There is exactly one envelope type; producers never hand the
// pipeline a bespoke struct per sensor — they build an Event tagged with a
// Kind, and consumers that need payload fields type-switch on Payload.
package event

import (
	"fmt"
	"time"
)

// Priority orders events for batching, eviction and transport QoS.
// Lower values are more urgent, matching spec §3 ("Lower is more urgent").
type Priority uint8

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityMedium   Priority = 2
	PriorityLow      Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// Kind tags the payload variant carried by an Event.
type Kind uint8

const (
	KindSensor Kind = iota
	KindCameraMeta
	KindCameraBlob
	KindInference
	KindHealth
	KindHeartbeat
	KindCheckpoint
	KindCommandResponse
	KindAlert
)

func (k Kind) String() string {
	switch k {
	case KindSensor:
		return "sensor"
	case KindCameraMeta:
		return "camera_meta"
	case KindCameraBlob:
		return "camera_blob"
	case KindInference:
		return "inference"
	case KindHealth:
		return "health"
	case KindHeartbeat:
		return "heartbeat"
	case KindCheckpoint:
		return "checkpoint"
	case KindCommandResponse:
		return "command_response"
	case KindAlert:
		return "alert"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// QoS mirrors the delivery contract requested for an event. The client
// never implements ExactlyOnce itself (DESIGN NOTES §9) — it guarantees
// at-least-once with a stable EventID and trusts server-side dedup.
type QoS uint8

const (
	QoSAtMostOnce QoS = iota
	QoSAtLeastOnce
	QoSExactlyOnce
)

// Metadata carries the bookkeeping fields spec §3 attaches to every Event.
type Metadata struct {
	DeviceID       string
	TruckID        string
	SequenceNumber uint64
	RetryCount     int
	SourceModule   string
	RequiresAck    bool
	QoS            QoS
}

// Event is the single envelope type for everything flowing through the
// pipeline. Payload holds one of the *Payload structs below; which one is
// named by Kind.
type Event struct {
	EventID       string
	Kind          Kind
	Payload       Payload
	TimestampNS   int64
	Priority      Priority
	Metadata      Metadata
	SizeHintBytes int
}

// Payload is a marker interface implemented by every *Payload struct.
// Code that needs a payload's fields (sizeHintFor, the WAL, the Batcher,
// the Compressor) type-switches or type-asserts on it.
type Payload interface {
	payloadKind() Kind
}

// IsAlertPriority reports whether this event must be treated as Critical
// for retention purposes even if its nominal Priority field says otherwise
// (spec §3 invariant 3: "Alert, Inference-with-is_alert").
func (e *Event) IsAlertPriority() bool {
	if e.Kind == KindAlert {
		return true
	}
	if inf, ok := e.Payload.(*InferencePayload); ok && inf.IsAlert {
		return true
	}
	return e.Priority == PriorityCritical
}

// now is overridable in tests; production code always calls time.Now().
var now = time.Now

func stampNS() int64 { return now().UnixNano() }
