package entities

import "time"

// SessionState represents the lifecycle state of a transcription session
type SessionState string

const (
	SessionStateIdle                   SessionState = "idle"
	SessionStateRequestingPermission   SessionState = "requesting_permission"
	SessionStateEstablishingConnection SessionState = "establishing_connection"
	SessionStateStreaming              SessionState = "streaming"
	SessionStateStopped                SessionState = "stopped"
	SessionStateFailed                 SessionState = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s SessionState) IsTerminal() bool {
	return s == SessionStateStopped || s == SessionStateFailed
}

// EventType tags an Event
type EventType string

const (
	EventTypeStarted EventType = "started"
	EventTypeChanged EventType = "changed"
	EventTypeStopped EventType = "stopped"
	EventTypeError   EventType = "error"
)

// Event is a notification delivered to the session consumer.
// Text is set for changed and stopped, Kind only for error.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text,omitempty"`
	Kind      ErrorKind `json:"error_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsTerminal reports whether the event ends the session
func (e Event) IsTerminal() bool {
	return e.Type == EventTypeStopped || e.Type == EventTypeError
}
