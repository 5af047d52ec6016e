package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

// awsEventStream is the part of the SDK's bidirectional event stream we use
type awsEventStream interface {
	Send(ctx context.Context, event types.AudioStream) error
	Events() <-chan types.TranscriptResultStream
	Close() error
	Err() error
}

type awsStreamOpener func(ctx context.Context, creds entities.Credentials, input *transcribestreaming.StartStreamTranscriptionInput) (awsEventStream, error)

// AWSTranscribe implements TranscriptionService with Amazon Transcribe streaming
type AWSTranscribe struct {
	open   awsStreamOpener
	logger *zap.Logger
}

// Ensure AWSTranscribe implements the TranscriptionService interface
var _ repositories.TranscriptionService = (*AWSTranscribe)(nil)

// NewAWSTranscribe creates a new Amazon Transcribe streaming adapter
func NewAWSTranscribe(logger *zap.Logger) *AWSTranscribe {
	return &AWSTranscribe{
		open:   openAWSStream,
		logger: logger,
	}
}

func openAWSStream(ctx context.Context, creds entities.Credentials, input *transcribestreaming.StartStreamTranscriptionInput) (awsEventStream, error) {
	client := transcribestreaming.New(transcribestreaming.Options{
		Region:      creds.Region,
		Credentials: credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
	})

	out, err := client.StartStreamTranscription(ctx, input)
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

// StartStream opens a Transcribe stream authenticated with creds
func (a *AWSTranscribe) StartStream(ctx context.Context, creds entities.Credentials, config repositories.StreamConfig, audio <-chan []byte) (repositories.TranscriptionStream, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}

	encoding, err := getAWSMediaEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(config.LanguageCode),
		MediaEncoding:        encoding,
		MediaSampleRateHertz: aws.Int32(int32(config.SampleRateHertz)),
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := a.open(streamCtx, creds, input)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start stream transcription: %w", err)
	}

	a.logger.Info("Transcribe stream opened",
		zap.String("region", creds.Region),
		zap.String("language", config.LanguageCode),
		zap.Int("sampleRate", config.SampleRateHertz))

	s := &awsStream{
		stream: stream,
		cancel: cancel,
		events: make(chan entities.TranscriptEvent),
		closed: make(chan struct{}),
		logger: a.logger,
	}
	go s.sendAudio(streamCtx, audio)
	go s.receiveResults()

	return s, nil
}

type awsStream struct {
	stream awsEventStream
	cancel context.CancelFunc
	events chan entities.TranscriptEvent
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	sendErr error
}

func (s *awsStream) Events() <-chan entities.TranscriptEvent {
	return s.events
}

func (s *awsStream) Err() error {
	select {
	case <-s.closed:
		return nil
	default:
	}

	s.mu.Lock()
	sendErr := s.sendErr
	s.mu.Unlock()

	return errors.Join(s.stream.Err(), sendErr)
}

func (s *awsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		err = s.stream.Close()
	})
	return err
}

func (s *awsStream) sendAudio(ctx context.Context, audio <-chan []byte) {
	chunkCount := 0
	for frame := range audio {
		if err := s.send(ctx, frame); err != nil {
			s.recordSendError(fmt.Errorf("failed to send audio chunk: %w", err))
			return
		}
		chunkCount++
	}

	// an empty chunk tells the service no more audio follows
	if err := s.send(ctx, []byte{}); err != nil {
		s.recordSendError(fmt.Errorf("failed to send end of stream: %w", err))
		return
	}

	s.logger.Debug("Finished streaming audio", zap.Int("chunks", chunkCount))
}

func (s *awsStream) send(ctx context.Context, chunk []byte) error {
	return s.stream.Send(ctx, &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: chunk},
	})
}

func (s *awsStream) recordSendError(err error) {
	select {
	case <-s.closed:
		return
	default:
	}

	s.logger.Warn("Audio stream interrupted", zap.Error(err))
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *awsStream) receiveResults() {
	defer close(s.events)

	for event := range s.stream.Events() {
		switch e := event.(type) {
		case *types.TranscriptResultStreamMemberTranscriptEvent:
			select {
			case s.events <- convertAWSTranscriptEvent(e.Value):
			case <-s.closed:
				return
			}
		default:
			s.logger.Debug("Ignoring unknown transcript stream event", zap.String("type", fmt.Sprintf("%T", event)))
		}
	}
}

func convertAWSTranscriptEvent(event types.TranscriptEvent) entities.TranscriptEvent {
	if event.Transcript == nil {
		return entities.TranscriptEvent{}
	}

	results := make([]entities.TranscriptResult, 0, len(event.Transcript.Results))
	for _, result := range event.Transcript.Results {
		alternatives := make([]entities.Alternative, 0, len(result.Alternatives))
		for _, alternative := range result.Alternatives {
			alternatives = append(alternatives, entities.Alternative{
				Transcript: aws.ToString(alternative.Transcript),
			})
		}
		results = append(results, entities.TranscriptResult{
			IsPartial:    result.IsPartial,
			Alternatives: alternatives,
		})
	}

	return entities.TranscriptEvent{Results: results}
}

// getAWSMediaEncoding converts an encoding name to the Transcribe enum
func getAWSMediaEncoding(encoding string) (types.MediaEncoding, error) {
	switch encoding {
	case "", entities.MediaEncodingPCM, "LINEAR16":
		return types.MediaEncodingPcm, nil
	case "FLAC", "flac":
		return types.MediaEncodingFlac, nil
	case "OGG_OPUS", "ogg-opus":
		return types.MediaEncodingOggOpus, nil
	default:
		return "", fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
