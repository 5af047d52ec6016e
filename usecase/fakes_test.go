package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

const eventTimeout = 2 * time.Second

type fakeCapture struct {
	chunks  chan []byte
	once    sync.Once
	stopped atomic.Int32
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{chunks: make(chan []byte, 16)}
}

func (c *fakeCapture) Chunks() <-chan []byte { return c.chunks }

func (c *fakeCapture) Stop() error {
	c.stopped.Add(1)
	c.once.Do(func() { close(c.chunks) })
	return nil
}

type fakeMicrophone struct {
	capture *fakeCapture
	err     error
	block   bool
	// grant delays Open until closed and then returns capture regardless of ctx
	grant chan struct{}

	opened atomic.Int32
	config repositories.CaptureConfig
}

func (m *fakeMicrophone) Open(ctx context.Context, config repositories.CaptureConfig) (repositories.CaptureHandle, error) {
	m.opened.Add(1)
	m.config = config
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.grant != nil {
		<-m.grant
		return m.capture, nil
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.capture, nil
}

type fakeBroker struct {
	creds entities.Credentials
	err   error
	panic bool
	calls atomic.Int32
	token string
}

func (b *fakeBroker) FetchCredentials(ctx context.Context, apiToken string) (entities.Credentials, error) {
	b.calls.Add(1)
	b.token = apiToken
	if b.panic {
		panic("broker exploded")
	}
	return b.creds, b.err
}

type fakeStream struct {
	events chan entities.TranscriptEvent
	once   sync.Once
	closed atomic.Int32
	err    error
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan entities.TranscriptEvent, 16)}
}

func (s *fakeStream) Events() <-chan entities.TranscriptEvent { return s.events }

func (s *fakeStream) Err() error { return s.err }

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	s.once.Do(func() { close(s.events) })
	return nil
}

// end closes the result stream from the service side
func (s *fakeStream) end(err error) {
	s.err = err
	s.once.Do(func() { close(s.events) })
}

type fakeTranscriber struct {
	stream *fakeStream
	err    error
	// connect delays StartStream until closed and then returns stream regardless of ctx
	connect chan struct{}

	calls  atomic.Int32
	creds  entities.Credentials
	config repositories.StreamConfig
	audio  <-chan []byte
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{stream: newFakeStream()}
}

func (f *fakeTranscriber) StartStream(ctx context.Context, creds entities.Credentials, config repositories.StreamConfig, audio <-chan []byte) (repositories.TranscriptionStream, error) {
	f.calls.Add(1)
	f.creds = creds
	f.config = config
	f.audio = audio
	if f.connect != nil {
		<-f.connect
		return f.stream, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

var testCreds = entities.Credentials{
	AccessKeyID:     "ASIA",
	SecretAccessKey: "secret",
	SessionToken:    "token",
	Region:          "us-east-1",
}

func nextEvent(t *testing.T, events <-chan entities.Event) entities.Event {
	t.Helper()
	select {
	case event, ok := <-events:
		if !ok {
			t.Fatal("Event channel closed unexpectedly")
		}
		return event
	case <-time.After(eventTimeout):
		t.Fatal("Timed out waiting for event")
	}
	return entities.Event{}
}

func drainEvents(t *testing.T, events <-chan entities.Event) []entities.Event {
	t.Helper()
	var out []entities.Event
	timeout := time.After(eventTimeout)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatalf("Timed out draining events, got %+v", out)
			return nil
		}
	}
}

func waitDone(t *testing.T, s *TranscriptionSession) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(eventTimeout):
		t.Fatal("Timed out waiting for session flow to finish")
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
