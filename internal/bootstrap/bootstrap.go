// Package bootstrap wires configured adapters into a session factory.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/adapters"
	"github.com/satriahrh/livescribe/adapters/broker"
	"github.com/satriahrh/livescribe/adapters/mongo"
	"github.com/satriahrh/livescribe/adapters/nats"
	"github.com/satriahrh/livescribe/adapters/sqlite"
	"github.com/satriahrh/livescribe/adapters/stt"
	"github.com/satriahrh/livescribe/domain/repositories"
	"github.com/satriahrh/livescribe/internal/config"
	"github.com/satriahrh/livescribe/internal/metrics"
	"github.com/satriahrh/livescribe/usecase"
)

// NewTranscriptionService selects the configured speech-to-text provider
func NewTranscriptionService(cfg config.TranscriptionConfig, logger *zap.Logger) (repositories.TranscriptionService, error) {
	switch cfg.Provider {
	case config.ProviderAWS:
		return stt.NewAWSTranscribe(logger), nil
	case config.ProviderGoogle:
		return stt.NewGoogleSpeechToText(logger), nil
	case config.ProviderMock:
		return stt.NewMockTranscription(nil, cfg.MockFramesPerEvent, logger), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider: %s", cfg.Provider)
	}
}

// NewTranscriber builds the session factory from configuration
func NewTranscriber(cfg config.Config, sessionMetrics *metrics.Metrics, logger *zap.Logger) (*usecase.Transcriber, error) {
	credentialBroker, err := broker.NewHTTPCredentialBroker(broker.HTTPCredentialBrokerConfig{
		Endpoint: cfg.Broker.Endpoint,
		Timeout:  time.Duration(cfg.Broker.TimeoutMS) * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential broker: %w", err)
	}

	service, err := NewTranscriptionService(cfg.Transcription, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Transcriber configured",
		zap.String("provider", cfg.Transcription.Provider),
		zap.String("brokerEndpoint", cfg.Broker.Endpoint))

	transcriber := usecase.NewTranscriber(credentialBroker, service, sessionMetrics, logger)
	transcriber.SetDefaults(cfg.Transcription.LanguageCode, cfg.Transcription.SampleRate)
	return transcriber, nil
}

// NewSessionHistory opens the configured session history backend. The returned
// close function is never nil. A nil history means session recording is disabled.
func NewSessionHistory(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (repositories.SessionHistory, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case config.HistoryNone, "":
		return nil, noop, nil
	case config.HistoryMemory:
		return adapters.NewMemorySessionHistory(), noop, nil
	case config.HistorySQLite:
		history, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open sqlite history: %w", err)
		}
		return history, func() {
			if err := history.Close(); err != nil {
				logger.Warn("Failed to close sqlite history", zap.Error(err))
			}
		}, nil
	case config.HistoryMongo:
		client, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, noop, err
		}
		history, err := mongo.NewSessionHistory(ctx, client.Database, logger)
		if err != nil {
			_ = client.Close(context.Background())
			return nil, noop, err
		}
		return history, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(ctx); err != nil {
				logger.Warn("Failed to close mongo history", zap.Error(err))
			}
		}, nil
	default:
		return nil, noop, fmt.Errorf("unknown history backend: %s", cfg.Backend)
	}
}

// NewEventPublisher connects to NATS when bus servers are configured. A nil
// publisher means publishing is disabled.
func NewEventPublisher(cfg config.BusConfig, logger *zap.Logger) (repositories.EventPublisher, func(), error) {
	if len(cfg.Servers) == 0 {
		return nil, func() {}, nil
	}

	publisher, err := nats.Connect(nats.Config{
		Servers:          cfg.Servers,
		Token:            cfg.Token,
		SubjectPrefix:    cfg.SubjectPrefix,
		ConnectTimeoutMS: cfg.ConnectTimeoutMS,
	}, logger)
	if err != nil {
		return nil, func() {}, err
	}
	return publisher, publisher.Close, nil
}
