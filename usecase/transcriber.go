package usecase

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
	"github.com/satriahrh/livescribe/internal/metrics"
)

// Transcriber creates transcription sessions that share one credential
// broker and one transcription service
type Transcriber struct {
	broker      repositories.CredentialBroker
	transcriber repositories.TranscriptionService
	metrics     *metrics.Metrics
	logger      *zap.Logger

	languageCode   string
	sampleRate     int
	tracerProvider trace.TracerProvider
}

// NewTranscriber creates a new session factory
func NewTranscriber(
	broker repositories.CredentialBroker,
	transcriber repositories.TranscriptionService,
	sessionMetrics *metrics.Metrics,
	logger *zap.Logger,
) *Transcriber {
	return &Transcriber{
		broker:      broker,
		transcriber: transcriber,
		metrics:     sessionMetrics,
		logger:      logger,
	}
}

// SetDefaults sets the language and sample rate used when a request leaves
// them empty. Zero values keep the built-in defaults.
func (t *Transcriber) SetDefaults(languageCode string, sampleRate int) {
	t.languageCode = languageCode
	t.sampleRate = sampleRate
}

// SetTracerProvider sets the provider new sessions record spans on.
// Sessions use the global provider while none is set.
func (t *Transcriber) SetTracerProvider(provider trace.TracerProvider) {
	t.tracerProvider = provider
}

// NewSession creates an idle session capturing from microphone
func (t *Transcriber) NewSession(options entities.TranscriptionOptions, microphone repositories.Microphone) (*TranscriptionSession, error) {
	if options.LanguageCode == "" {
		options.LanguageCode = t.languageCode
	}
	if options.MediaSampleRateHertz == 0 {
		options.MediaSampleRateHertz = t.sampleRate
	}
	return NewTranscriptionSession(options, microphone, t.broker, t.transcriber, t.metrics, t.logger,
		WithTracerProvider(t.tracerProvider))
}
