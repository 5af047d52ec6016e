package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

type googleStreamOpener func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, io.Closer, error)

// GoogleSpeechToText implements TranscriptionService for Google Cloud.
// It authenticates with Application Default Credentials, so the brokered
// credentials only gate access to the session.
type GoogleSpeechToText struct {
	open   googleStreamOpener
	logger *zap.Logger
}

// Ensure GoogleSpeechToText implements the TranscriptionService interface
var _ repositories.TranscriptionService = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a new Google Cloud Speech adapter
func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{
		open:   openGoogleStream,
		logger: logger,
	}
}

func openGoogleStream(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, io.Closer, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}
	return stream, client, nil
}

// StartStream opens a recognition stream with interim results enabled
func (g *GoogleSpeechToText) StartStream(ctx context.Context, creds entities.Credentials, config repositories.StreamConfig, audio <-chan []byte) (repositories.TranscriptionStream, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, client, err := g.open(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(config.SampleRateHertz),
					LanguageCode:    config.LanguageCode,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.logger.Info("Google speech stream opened",
		zap.String("language", config.LanguageCode),
		zap.Int("sampleRate", config.SampleRateHertz))

	s := &googleStream{
		stream: stream,
		client: client,
		cancel: cancel,
		events: make(chan entities.TranscriptEvent),
		closed: make(chan struct{}),
		logger: g.logger,
	}
	go s.sendAudio(audio)
	go s.receiveResults()

	return s, nil
}

type googleStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
	client io.Closer
	cancel context.CancelFunc
	events chan entities.TranscriptEvent
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	sendErr error
	recvErr error
}

func (g *googleStream) Events() <-chan entities.TranscriptEvent {
	return g.events
}

func (g *googleStream) Err() error {
	select {
	case <-g.closed:
		return nil
	default:
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.recvErr, g.sendErr)
}

func (g *googleStream) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.closed)
		g.cancel()
		err = g.client.Close()
	})
	return err
}

func (g *googleStream) sendAudio(audio <-chan []byte) {
	for frame := range audio {
		if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: frame,
			},
		}); err != nil {
			g.setError(&g.sendErr, fmt.Errorf("failed to send audio data: %w", err))
			return
		}
	}

	// Close the send stream to signal end of audio
	if err := g.stream.CloseSend(); err != nil {
		g.setError(&g.sendErr, fmt.Errorf("failed to close send stream: %w", err))
	}
}

func (g *googleStream) receiveResults() {
	defer close(g.events)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.setError(&g.recvErr, fmt.Errorf("failed to receive response: %w", err))
			return
		}

		select {
		case g.events <- convertGoogleResponse(resp):
		case <-g.closed:
			return
		}
	}
}

func (g *googleStream) setError(target *error, err error) {
	select {
	case <-g.closed:
		return
	default:
	}

	g.logger.Warn("Google speech stream failed", zap.Error(err))
	g.mu.Lock()
	*target = err
	g.mu.Unlock()
}

func convertGoogleResponse(resp *speechpb.StreamingRecognizeResponse) entities.TranscriptEvent {
	results := make([]entities.TranscriptResult, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alternatives := make([]entities.Alternative, 0, len(result.GetAlternatives()))
		for _, alternative := range result.GetAlternatives() {
			alternatives = append(alternatives, entities.Alternative{Transcript: alternative.GetTranscript()})
		}
		results = append(results, entities.TranscriptResult{
			IsPartial:    !result.GetIsFinal(),
			Alternatives: alternatives,
		})
	}
	return entities.TranscriptEvent{Results: results}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "", entities.MediaEncodingPCM, "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC", "flac":
		return speechpb.RecognitionConfig_FLAC, nil
	case "OGG_OPUS", "ogg-opus":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
