package stt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

// DefaultMockScript is replayed by NewMockTranscription when no script is given
var DefaultMockScript = []entities.TranscriptEvent{
	mockEvent("hello", true),
	mockEvent("hello world", false),
	mockEvent("this is", true),
	mockEvent("this is a live transcript", false),
}

func mockEvent(text string, partial bool) entities.TranscriptEvent {
	return entities.TranscriptEvent{Results: []entities.TranscriptResult{{
		IsPartial:    partial,
		Alternatives: []entities.Alternative{{Transcript: text}},
	}}}
}

// MockTranscription is an offline TranscriptionService that replays a script,
// advancing one event every FramesPerEvent audio frames
type MockTranscription struct {
	script         []entities.TranscriptEvent
	framesPerEvent int
	logger         *zap.Logger
}

// Ensure MockTranscription implements the TranscriptionService interface
var _ repositories.TranscriptionService = (*MockTranscription)(nil)

// NewMockTranscription creates a new scripted transcription service
func NewMockTranscription(script []entities.TranscriptEvent, framesPerEvent int, logger *zap.Logger) *MockTranscription {
	if len(script) == 0 {
		script = DefaultMockScript
	}
	if framesPerEvent <= 0 {
		framesPerEvent = 1
	}
	return &MockTranscription{
		script:         script,
		framesPerEvent: framesPerEvent,
		logger:         logger,
	}
}

// StartStream replays the script against the incoming audio
func (m *MockTranscription) StartStream(ctx context.Context, creds entities.Credentials, config repositories.StreamConfig, audio <-chan []byte) (repositories.TranscriptionStream, error) {
	m.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRateHertz),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.LanguageCode))

	s := &mockStream{
		events: make(chan entities.TranscriptEvent),
		closed: make(chan struct{}),
		logger: m.logger,
	}
	go s.replay(ctx, m.script, m.framesPerEvent, audio)
	return s, nil
}

type mockStream struct {
	events    chan entities.TranscriptEvent
	closeOnce sync.Once
	closed    chan struct{}
	logger    *zap.Logger
}

func (s *mockStream) Events() <-chan entities.TranscriptEvent { return s.events }

func (s *mockStream) Err() error { return nil }

func (s *mockStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *mockStream) replay(ctx context.Context, script []entities.TranscriptEvent, framesPerEvent int, audio <-chan []byte) {
	defer close(s.events)

	next, frames, bytes := 0, 0, 0
	for frame := range audio {
		frames++
		bytes += len(frame)
		if frames%framesPerEvent != 0 || next >= len(script) {
			continue
		}
		if !s.emit(ctx, script[next]) {
			return
		}
		next++
	}

	s.logger.Debug("Mock audio finished", zap.Int("frames", frames), zap.Int("bytes", bytes))

	// flush whatever the audio did not reach
	for ; next < len(script); next++ {
		if !s.emit(ctx, script[next]) {
			return
		}
	}
}

func (s *mockStream) emit(ctx context.Context, event entities.TranscriptEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.closed:
		return false
	case <-ctx.Done():
		return false
	}
}
