package domain

import "time"

// EventKind tags the variant carried by a ConnectionEvent.
type EventKind int

const (
	EventConnectionState EventKind = iota
	EventRecordState
	EventCaptureState
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionState:
		return "connection_state"
	case EventRecordState:
		return "record_state"
	case EventCaptureState:
		return "capture_state"
	default:
		return "unknown"
	}
}

type RecordState int

const (
	RecordStarted RecordState = iota
	RecordStopped
	RecordFailed
)

type MediaTrack string

const (
	TrackAudio MediaTrack = "audio"
	TrackVideo MediaTrack = "video"
)

type CaptureState int

const (
	CaptureStarted CaptureState = iota
	CaptureStopped
	CaptureFailed
)

// ConnectionEvent is the single message type the engine delivers to the
// lifecycle manager. Only the fields relevant to Kind are populated.
type ConnectionEvent struct {
	Kind         EventKind
	ConnectionID ConnectionID
	State        ConnectionState
	Status       Status
	Info         map[string]string
	Record       RecordState
	Track        MediaTrack
	Capture      CaptureState
	At           time.Time
}

func NewStateEvent(id ConnectionID, state ConnectionState, status Status, info map[string]string) ConnectionEvent {
	return ConnectionEvent{
		Kind:         EventConnectionState,
		ConnectionID: id,
		State:        state,
		Status:       status,
		Info:         info,
		At:           time.Now(),
	}
}
