package repositories

import (
	"context"

	"github.com/satriahrh/livescribe/domain/entities"
)

// TranscriptionService abstracts a streaming speech-to-text provider
type TranscriptionService interface {
	// StartStream opens a streaming connection seeded with audio. The service
	// sends every frame of audio in order and, once audio is closed, one empty
	// chunk to signal end of stream.
	StartStream(ctx context.Context, creds entities.Credentials, config StreamConfig, audio <-chan []byte) (TranscriptionStream, error)
}

// StreamConfig represents the recognition settings of a stream
type StreamConfig struct {
	LanguageCode    string `json:"language_code"`
	SampleRateHertz int    `json:"sample_rate"`
	Encoding        string `json:"encoding"`
}

// TranscriptionStream is an open service connection
type TranscriptionStream interface {
	// Events yields inbound transcript events in arrival order and is closed
	// when the connection ends.
	Events() <-chan entities.TranscriptEvent
	// Err reports why Events was closed, nil on a clean end of stream.
	Err() error
	// Close destroys the connection. It is safe to call more than once.
	Close() error
}
