package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/livescribe/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server message types
const (
	MessageTypeStart             MessageType = "start"
	MessageTypeMicrophoneGranted MessageType = "microphone_granted"
	MessageTypeMicrophoneDenied  MessageType = "microphone_denied"
	MessageTypeStop              MessageType = "stop"
)

// Server to client message types
const (
	MessageTypeStarted    MessageType = "started"
	MessageTypeTranscript MessageType = "transcript"
	MessageTypeStopped    MessageType = "stopped"
	MessageTypeError      MessageType = "error"
)

// Protocol error codes, sent alongside the session error kinds
const (
	ErrorCodeInvalidMessage = "INVALID_MESSAGE"
	ErrorCodeSessionActive  = "SESSION_ACTIVE"
	ErrorCodeNoSession      = "NO_SESSION"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// StartMessage asks the relay to start a transcription session
type StartMessage struct {
	BaseMessage
	APIToken     string `json:"api_token"`
	LanguageCode string `json:"language_code,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
}

// Options converts the message into session options
func (m *StartMessage) Options() entities.TranscriptionOptions {
	return entities.TranscriptionOptions{
		APIToken:             m.APIToken,
		LanguageCode:         m.LanguageCode,
		MediaSampleRateHertz: m.SampleRate,
	}
}

// TranscriptMessage carries transcript text for transcript and stopped
type TranscriptMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message,omitempty"`
}

// ParseMessage decodes an incoming control message. It returns a
// *StartMessage for start and a *BaseMessage for the other control types.
func ParseMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeStart:
		var msg StartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid start message: %w", err)
		}
		if msg.APIToken == "" {
			return nil, fmt.Errorf("api_token is required")
		}
		if msg.SampleRate < 0 {
			return nil, fmt.Errorf("sample_rate must not be negative")
		}
		return &msg, nil

	case MessageTypeMicrophoneGranted, MessageTypeMicrophoneDenied, MessageTypeStop:
		return &base, nil

	case "":
		return nil, fmt.Errorf("message missing type field")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// EventMessage converts a session event into its outbound message
func EventMessage(event entities.Event) interface{} {
	base := BaseMessage{
		SessionID: event.SessionID,
		Timestamp: event.Timestamp.Format(time.RFC3339),
	}

	switch event.Type {
	case entities.EventTypeStarted:
		base.Type = MessageTypeStarted
		return &base
	case entities.EventTypeChanged:
		base.Type = MessageTypeTranscript
		return &TranscriptMessage{BaseMessage: base, Text: event.Text}
	case entities.EventTypeStopped:
		base.Type = MessageTypeStopped
		return &TranscriptMessage{BaseMessage: base, Text: event.Text}
	default:
		base.Type = MessageTypeError
		return &ErrorMessage{BaseMessage: base, Code: string(event.Kind)}
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeError,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Code:    code,
		Message: message,
	}
}
