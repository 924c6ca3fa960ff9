package event

import "github.com/google/uuid"

// defaultPriority maps payload variant to its default priority per spec
// §4.1: "Alert->Critical, Inference->High, Sensor->Medium, Heartbeat->Low".
// CameraMeta/CameraBlob/Health/Checkpoint/CommandResponse are not named
// explicitly; we place them at the nearest sensible tier (CameraMeta with
// Sensor at Medium, CameraBlob at Medium since it rides the same channel,
// Health/Checkpoint/CommandResponse at Low as control-plane bookkeeping).
func defaultPriority(k Kind) Priority {
	switch k {
	case KindAlert:
		return PriorityCritical
	case KindInference:
		return PriorityHigh
	case KindSensor, KindCameraMeta, KindCameraBlob:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// newEventID produces a globally unique id by pairing the device id with a
// random UUID (a bare UUID when deviceID is empty). The id is not ordered:
// seq is not part of it; build records seq in Metadata.SequenceNumber.
func newEventID(deviceID string, seq uint64) string {
	if deviceID == "" {
		return uuid.NewString()
	}
	return deviceID + "-" + uuid.NewString()
}

func build(deviceID string, seq uint64, k Kind, p Payload, meta Metadata) *Event {
	meta.DeviceID = deviceID
	meta.SequenceNumber = seq
	e := &Event{
		EventID:     newEventID(deviceID, seq),
		Kind:        k,
		Payload:     p,
		TimestampNS: stampNS(),
		Priority:    defaultPriority(k),
		Metadata:    meta,
	}
	e.SizeHintBytes = sizeHintFor(k, p)
	return e
}

func NewSensorEvent(deviceID string, seq uint64, reading SensorReading, meta Metadata) *Event {
	return build(deviceID, seq, KindSensor, &SensorPayload{Reading: reading}, meta)
}

func NewCameraMetaEvent(deviceID string, seq uint64, p CameraMetaPayload, meta Metadata) *Event {
	return build(deviceID, seq, KindCameraMeta, &p, meta)
}

func NewCameraBlobEvent(deviceID string, seq uint64, p CameraBlobPayload, meta Metadata) *Event {
	return build(deviceID, seq, KindCameraBlob, &p, meta)
}

func NewInferenceEvent(deviceID string, seq uint64, p InferencePayload, meta Metadata) *Event {
	ev := build(deviceID, seq, KindInference, &p, meta)
	if p.IsAlert {
		ev.Priority = PriorityCritical
	}
	return ev
}

func NewHealthEvent(deviceID string, seq uint64, p HealthPayload, meta Metadata) *Event {
	return build(deviceID, seq, KindHealth, &p, meta)
}

func NewHeartbeatEvent(deviceID string, seq uint64, p HeartbeatPayload, meta Metadata) *Event {
	return build(deviceID, seq, KindHeartbeat, &p, meta)
}

func NewCheckpointEvent(deviceID string, seq uint64, p CheckpointPayload, meta Metadata) *Event {
	return build(deviceID, seq, KindCheckpoint, &p, meta)
}

func NewCommandResponseEvent(deviceID string, seq uint64, p CommandResponsePayload, meta Metadata) *Event {
	return build(deviceID, seq, KindCommandResponse, &p, meta)
}

func NewAlertEvent(deviceID string, seq uint64, p AlertPayload, meta Metadata) *Event {
	return build(deviceID, seq, KindAlert, &p, meta)
}
