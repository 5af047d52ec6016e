package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
	"github.com/satriahrh/livescribe/internal/audio"
	"github.com/satriahrh/livescribe/internal/metrics"
)

const tracerName = "github.com/satriahrh/livescribe/usecase"

// SessionOption configures a TranscriptionSession
type SessionOption func(*TranscriptionSession)

// WithTracerProvider records session spans on provider instead of the
// global one
func WithTracerProvider(provider trace.TracerProvider) SessionOption {
	return func(s *TranscriptionSession) {
		if provider != nil {
			s.tracer = provider.Tracer(tracerName)
		}
	}
}

// TranscriptionSession captures microphone audio, streams it to the
// transcription service and reports the running transcript as events.
// A session runs once; create a new one to transcribe again.
type TranscriptionSession struct {
	id          string
	options     entities.TranscriptionOptions
	microphone  repositories.Microphone
	broker      repositories.CredentialBroker
	transcriber repositories.TranscriptionService
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *zap.Logger

	mu         sync.Mutex
	state      entities.SessionState
	transcript Transcript
	span       trace.Span

	guard    *resourceGuard
	events   *eventQueue
	done     chan struct{}
	doneOnce sync.Once
}

// NewTranscriptionSession creates an idle session. metrics may be nil.
func NewTranscriptionSession(
	options entities.TranscriptionOptions,
	microphone repositories.Microphone,
	broker repositories.CredentialBroker,
	transcriber repositories.TranscriptionService,
	sessionMetrics *metrics.Metrics,
	logger *zap.Logger,
	opts ...SessionOption,
) (*TranscriptionSession, error) {
	options = options.WithDefaults()
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transcription options: %w", err)
	}

	id := uuid.NewString()
	logger = logger.With(zap.String("sessionID", id))

	s := &TranscriptionSession{
		id:          id,
		options:     options,
		microphone:  microphone,
		broker:      broker,
		transcriber: transcriber,
		metrics:     sessionMetrics,
		tracer:      otel.GetTracerProvider().Tracer(tracerName),
		logger:      logger,
		state:       entities.SessionStateIdle,
		span:        trace.SpanFromContext(context.Background()),
		guard:       newResourceGuard(logger),
		events:      newEventQueue(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the session identifier carried by every event
func (s *TranscriptionSession) ID() string {
	return s.id
}

// Options returns the effective request options without the API token
func (s *TranscriptionSession) Options() entities.TranscriptionOptions {
	options := s.options
	options.APIToken = ""
	return options
}

// State returns the current lifecycle state
func (s *TranscriptionSession) State() entities.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the event stream. It is closed after the stopped or error
// event; consumers must keep receiving until then.
func (s *TranscriptionSession) Events() <-chan entities.Event {
	return s.events.out
}

// Done is closed once the session no longer drives the transcription service,
// either because it was stopped or failed, or because the service ended the
// result stream. Stop must still be called in the last case.
func (s *TranscriptionSession) Done() <-chan struct{} {
	return s.done
}

// Start schedules the session and returns immediately. ctx contributes
// values only; the session lives until Stop or a failure.
func (s *TranscriptionSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != entities.SessionStateIdle {
		return entities.ErrSessionAlreadyStarted
	}

	ctx, span := s.tracer.Start(ctx, "transcription.session", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("session.language", s.options.LanguageCode),
		attribute.Int("session.sample_rate", s.options.MediaSampleRateHertz),
	))
	lifetime, endAudio := context.WithCancel(context.WithoutCancel(ctx))
	if !s.guard.arm(endAudio) {
		endAudio()
		span.End()
		return entities.ErrSessionAlreadyStarted
	}

	s.span = span
	s.state = entities.SessionStateRequestingPermission
	s.metrics.RecordSessionStarted()
	s.logger.Info("Transcription session starting",
		zap.String("language", s.options.LanguageCode),
		zap.Int("sampleRate", s.options.MediaSampleRateHertz))

	go s.run(lifetime)
	return nil
}

// Stop emits the stopped event with the accumulated transcript and releases
// every resource. Calling it again, or after a failure, does nothing.
func (s *TranscriptionSession) Stop() error {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return nil
	}
	from := s.state
	s.state = entities.SessionStateStopped
	text := s.transcript.Text()
	s.push(entities.Event{Type: entities.EventTypeStopped, Text: text})
	span := s.span
	s.mu.Unlock()

	s.logger.Info("Transcription session stopped",
		zap.String("from", string(from)),
		zap.Int("transcriptLength", len(text)))

	s.release()
	s.events.close()
	span.SetAttributes(attribute.Int("session.transcript_length", len(text)))
	span.End()
	if from == entities.SessionStateIdle {
		s.finish()
	}
	return nil
}

func (s *TranscriptionSession) run(ctx context.Context) {
	defer s.finish()
	defer func() {
		if r := recover(); r != nil {
			s.fail(entities.ErrorKindInternal, fmt.Errorf("session panicked: %v", r))
		}
	}()

	capture, err := s.microphone.Open(ctx, repositories.CaptureConfig{
		SampleRate: s.options.MediaSampleRateHertz,
		ObjectMode: false,
	})
	if err != nil {
		s.fail(entities.ErrorKindNotEnoughPermissions, fmt.Errorf("failed to open microphone: %w", err))
		return
	}
	if !s.guard.holdCapture(capture) {
		releaseSafely(s.logger, "stop capture", capture.Stop)
		return
	}
	if !s.transition(entities.SessionStateRequestingPermission, entities.SessionStateEstablishingConnection) {
		return
	}

	fetchStart := time.Now()
	fetchCtx, fetchSpan := s.tracer.Start(ctx, "credentials.fetch")
	creds, err := s.broker.FetchCredentials(fetchCtx, s.options.APIToken)
	if err != nil {
		fetchSpan.RecordError(err)
		fetchSpan.SetStatus(codes.Error, "credential fetch failed")
	}
	fetchSpan.End()
	s.metrics.RecordCredentialFetch(time.Since(fetchStart), err)
	if err != nil {
		s.fail(entities.KindOf(err), fmt.Errorf("failed to fetch credentials: %w", err))
		return
	}

	frames := s.meter(ctx, audio.NewFrameSource(capture, s.logger).Frames(ctx))
	stream, err := s.transcriber.StartStream(ctx, creds, repositories.StreamConfig{
		LanguageCode:    s.options.ServiceLanguageCode(),
		SampleRateHertz: s.options.MediaSampleRateHertz,
		Encoding:        entities.MediaEncodingPCM,
	}, frames)
	if err != nil {
		s.fail(entities.ErrorKindInternal, fmt.Errorf("failed to start transcription stream: %w", err))
		return
	}
	if !s.guard.holdStream(stream) {
		releaseSafely(s.logger, "close transcription stream", stream.Close)
		return
	}
	if !s.transition(entities.SessionStateEstablishingConnection, entities.SessionStateStreaming) {
		return
	}

	for event := range stream.Events() {
		ok, err := s.applyTranscriptEvent(event)
		if err != nil {
			s.fail(entities.ErrorKindInternal, err)
			return
		}
		if !ok {
			return
		}
	}

	if err := stream.Err(); err != nil {
		s.fail(entities.ErrorKindInternal, fmt.Errorf("transcript stream failed: %w", err))
		return
	}

	s.logger.Info("Transcript stream ended by service")
}

// transition moves from -> to unless the session was stopped meanwhile.
// Entering streaming emits the started event.
func (s *TranscriptionSession) transition(from, to entities.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != from {
		return false
	}
	s.state = to
	s.logger.Debug("Transcription session state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if to == entities.SessionStateStreaming {
		s.push(entities.Event{Type: entities.EventTypeStarted})
	}
	return true
}

func (s *TranscriptionSession) applyTranscriptEvent(event entities.TranscriptEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != entities.SessionStateStreaming {
		return false, nil
	}

	text, changed, err := s.transcript.Apply(event)
	if err != nil {
		return false, err
	}
	if changed {
		s.push(entities.Event{Type: entities.EventTypeChanged, Text: text})
	}
	return true, nil
}

// fail moves a live session to failed, releases resources and then emits
// the error event.
func (s *TranscriptionSession) fail(kind entities.ErrorKind, err error) {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		s.logger.Debug("Ignoring failure of finished session", zap.Error(err))
		return
	}
	from := s.state
	s.state = entities.SessionStateFailed
	span := s.span
	s.mu.Unlock()

	s.logger.Error("Transcription session failed",
		zap.String("from", string(from)),
		zap.String("kind", string(kind)),
		zap.Error(err))

	s.release()
	s.metrics.RecordError(string(kind))
	s.push(entities.Event{Type: entities.EventTypeError, Kind: kind})
	s.events.close()
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	span.End()
}

func (s *TranscriptionSession) release() {
	if s.guard.release() {
		s.metrics.RecordSessionReleased()
	}
}

func (s *TranscriptionSession) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *TranscriptionSession) push(event entities.Event) {
	event.SessionID = s.id
	event.Timestamp = time.Now()
	s.span.AddEvent(string(event.Type))
	if s.events.push(event) {
		s.metrics.RecordEvent(string(event.Type))
	}
}

// meter counts frames on their way to the transcription service
func (s *TranscriptionSession) meter(ctx context.Context, frames <-chan []byte) <-chan []byte {
	if s.metrics == nil {
		return frames
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for frame := range frames {
			select {
			case out <- frame:
				s.metrics.RecordAudioFrame(len(frame))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
