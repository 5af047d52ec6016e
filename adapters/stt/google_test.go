package stt

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

type fakeRecognizeClient struct {
	grpc.ClientStream

	mu        sync.Mutex
	requests  []*speechpb.StreamingRecognizeRequest
	sendErr   error
	halfClose chan struct{}
	responses chan *speechpb.StreamingRecognizeResponse
	recvErr   error
}

func newFakeRecognizeClient() *fakeRecognizeClient {
	return &fakeRecognizeClient{
		halfClose: make(chan struct{}),
		responses: make(chan *speechpb.StreamingRecognizeResponse, 8),
	}
}

func (f *fakeRecognizeClient) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeRecognizeClient) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	resp, ok := <-f.responses
	if !ok {
		if f.recvErr != nil {
			return nil, f.recvErr
		}
		return nil, io.EOF
	}
	return resp, nil
}

func (f *fakeRecognizeClient) CloseSend() error {
	close(f.halfClose)
	return nil
}

func (f *fakeRecognizeClient) sent() []*speechpb.StreamingRecognizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*speechpb.StreamingRecognizeRequest(nil), f.requests...)
}

type countingCloser struct{ count int }

func (c *countingCloser) Close() error {
	c.count++
	return nil
}

func newTestGoogleSpeechToText(t *testing.T, client *fakeRecognizeClient, closer io.Closer) *GoogleSpeechToText {
	t.Helper()
	transcriber := NewGoogleSpeechToText(zap.NewNop())
	transcriber.open = func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, io.Closer, error) {
		return client, closer, nil
	}
	return transcriber
}

func googleResponse(text string, final bool) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			IsFinal:      final,
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
		}},
	}
}

func TestGoogleSpeechToText_StreamsAudioAndResults(t *testing.T) {
	client := newFakeRecognizeClient()
	closer := &countingCloser{}
	transcriber := newTestGoogleSpeechToText(t, client, closer)

	audio := make(chan []byte, 1)
	audio <- []byte{9, 9}
	close(audio)

	stream, err := transcriber.StartStream(context.Background(), testAWSCredentials, repositories.StreamConfig{
		LanguageCode:    "id-ID",
		SampleRateHertz: 16000,
		Encoding:        entities.MediaEncodingPCM,
	}, audio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-client.halfClose:
	case <-time.After(2 * time.Second):
		t.Fatal("send stream was never closed")
	}

	requests := client.sent()
	if len(requests) != 2 {
		t.Fatalf("expected config and one audio request, got %d", len(requests))
	}
	config := requests[0].GetStreamingConfig()
	if config == nil || !config.GetInterimResults() {
		t.Fatalf("expected streaming config with interim results, got %+v", requests[0])
	}
	if config.GetConfig().GetEncoding() != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("expected LINEAR16, got %s", config.GetConfig().GetEncoding())
	}
	if config.GetConfig().GetLanguageCode() != "id-ID" || config.GetConfig().GetSampleRateHertz() != 16000 {
		t.Errorf("unexpected recognition config %+v", config.GetConfig())
	}
	if string(requests[1].GetAudioContent()) != "\x09\x09" {
		t.Errorf("unexpected audio content %v", requests[1].GetAudioContent())
	}

	client.responses <- googleResponse("halo", false)
	client.responses <- googleResponse("halo dunia", true)
	close(client.responses)

	var got []entities.TranscriptEvent
	for event := range stream.Events() {
		got = append(got, event)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if result, alt, _ := got[0].FirstAlternative(); alt.Transcript != "halo" || !result.IsPartial {
		t.Errorf("unexpected first event %+v", got[0])
	}
	if result, alt, _ := got[1].FirstAlternative(); alt.Transcript != "halo dunia" || result.IsPartial {
		t.Errorf("unexpected second event %+v", got[1])
	}
	if err := stream.Err(); err != nil {
		t.Errorf("expected clean end, got %v", err)
	}

	stream.Close()
	stream.Close()
	if closer.count != 1 {
		t.Errorf("expected client closed once, got %d", closer.count)
	}
}

func TestGoogleSpeechToText_ReceiveError(t *testing.T) {
	client := newFakeRecognizeClient()
	client.recvErr = errors.New("deadline exceeded")
	transcriber := newTestGoogleSpeechToText(t, client, &countingCloser{})

	audio := make(chan []byte)
	defer close(audio)

	stream, err := transcriber.StartStream(context.Background(), testAWSCredentials, repositories.StreamConfig{}, audio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(client.responses)

	for range stream.Events() {
	}
	if err := stream.Err(); err == nil {
		t.Fatal("expected receive error")
	}
	stream.Close()
}

func TestGoogleSpeechToText_ConfigSendFailure(t *testing.T) {
	client := newFakeRecognizeClient()
	client.sendErr = errors.New("unavailable")
	closer := &countingCloser{}
	transcriber := newTestGoogleSpeechToText(t, client, closer)

	if _, err := transcriber.StartStream(context.Background(), testAWSCredentials, repositories.StreamConfig{}, nil); err == nil {
		t.Fatal("expected error")
	}
	if closer.count != 1 {
		t.Errorf("expected client closed after failure, got %d", closer.count)
	}
}

func TestGetAudioEncoding(t *testing.T) {
	tests := []struct {
		encoding string
		want     speechpb.RecognitionConfig_AudioEncoding
		wantErr  bool
	}{
		{encoding: "pcm", want: speechpb.RecognitionConfig_LINEAR16},
		{encoding: "", want: speechpb.RecognitionConfig_LINEAR16},
		{encoding: "FLAC", want: speechpb.RecognitionConfig_FLAC},
		{encoding: "MP3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			got, err := getAudioEncoding(tt.encoding)
			if (err != nil) != tt.wantErr {
				t.Fatalf("getAudioEncoding(%q) error = %v, wantErr %v", tt.encoding, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("getAudioEncoding(%q) = %s, want %s", tt.encoding, got, tt.want)
			}
		})
	}
}
