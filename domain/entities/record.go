package entities

import (
	"errors"
	"time"
	"unicode/utf8"
)

// SessionRecord is the history entry of one finished session. It describes
// the outcome only; the transcript itself is never kept.
type SessionRecord struct {
	SessionID        string       `json:"session_id" bson:"session_id"`
	ClientID         string       `json:"client_id" bson:"client_id"`
	LanguageCode     string       `json:"language_code" bson:"language_code"`
	SampleRate       int          `json:"sample_rate" bson:"sample_rate"`
	Outcome          SessionState `json:"outcome" bson:"outcome"`
	ErrorKind        ErrorKind    `json:"error_code,omitempty" bson:"error_code,omitempty"`
	TranscriptLength int          `json:"transcript_length" bson:"transcript_length"`
	StartedAt        time.Time    `json:"started_at" bson:"started_at"`
	EndedAt          time.Time    `json:"ended_at" bson:"ended_at"`
}

// NewSessionRecord builds the record for a session that ended with the
// given terminal event
func NewSessionRecord(clientID string, options TranscriptionOptions, startedAt time.Time, last Event) SessionRecord {
	options = options.WithDefaults()
	record := SessionRecord{
		SessionID:        last.SessionID,
		ClientID:         clientID,
		LanguageCode:     options.LanguageCode,
		SampleRate:       options.MediaSampleRateHertz,
		Outcome:          SessionStateStopped,
		TranscriptLength: utf8.RuneCountInString(last.Text),
		StartedAt:        startedAt.UTC(),
		EndedAt:          last.Timestamp.UTC(),
	}
	if last.Type == EventTypeError {
		record.Outcome = SessionStateFailed
		record.ErrorKind = last.Kind
	}
	return record
}

// Validate validates the record before it is saved
func (r SessionRecord) Validate() error {
	if r.SessionID == "" {
		return errors.New("session ID is required")
	}
	if r.ClientID == "" {
		return errors.New("client ID is required")
	}
	if !r.Outcome.IsTerminal() {
		return errors.New("outcome must be a terminal state")
	}
	return nil
}
