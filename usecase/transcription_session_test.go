package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/adapters/broker"
	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
	"github.com/satriahrh/livescribe/internal/audio"
	"github.com/satriahrh/livescribe/internal/metrics"
)

type sessionFixture struct {
	microphone  *fakeMicrophone
	capture     *fakeCapture
	broker      *fakeBroker
	transcriber *fakeTranscriber
	metrics     *metrics.Metrics
	session     *TranscriptionSession
}

func newSessionFixture(t *testing.T, options entities.TranscriptionOptions, opts ...SessionOption) *sessionFixture {
	t.Helper()
	capture := newFakeCapture()
	f := &sessionFixture{
		microphone:  &fakeMicrophone{capture: capture},
		capture:     capture,
		broker:      &fakeBroker{creds: testCreds},
		transcriber: newFakeTranscriber(),
		metrics:     metrics.NewMetrics(prometheus.NewRegistry()),
	}
	if options.APIToken == "" {
		options.APIToken = "api-token"
	}

	session, err := NewTranscriptionSession(options, f.microphone, f.broker, f.transcriber, f.metrics, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewTranscriptionSession() error = %v", err)
	}
	f.session = session
	return f
}

func (f *sessionFixture) start(t *testing.T) {
	t.Helper()
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (f *sessionFixture) assertReleased(t *testing.T) {
	t.Helper()
	if f.capture.stopped.Load() == 0 && f.microphone.opened.Load() > 0 && f.microphone.err == nil && !f.microphone.block {
		t.Error("Capture handle was not stopped")
	}
	if f.transcriber.calls.Load() > 0 && f.transcriber.err == nil && f.transcriber.stream.closed.Load() == 0 {
		t.Error("Transcription stream was not closed")
	}
	if got := testutil.ToFloat64(f.metrics.ActiveSessions); got != 0 {
		t.Errorf("Expected no active sessions, got %v", got)
	}
}

func TestNewTranscriptionSession_RequiresToken(t *testing.T) {
	_, err := NewTranscriptionSession(entities.TranscriptionOptions{}, &fakeMicrophone{}, &fakeBroker{}, newFakeTranscriber(), nil, zap.NewNop())
	if err == nil {
		t.Error("Expected error when api token is missing")
	}
}

func TestTranscriptionSession_EndToEnd(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.start(t)
	events := f.session.Events()

	started := nextEvent(t, events)
	if started.Type != entities.EventTypeStarted {
		t.Fatalf("Expected started, got %+v", started)
	}
	if started.SessionID != f.session.ID() {
		t.Errorf("Event carries session %q, want %q", started.SessionID, f.session.ID())
	}
	if f.session.State() != entities.SessionStateStreaming {
		t.Errorf("Expected streaming state, got %s", f.session.State())
	}

	f.transcriber.stream.events <- partial("he")
	if event := nextEvent(t, events); event.Type != entities.EventTypeChanged || event.Text != "he" {
		t.Fatalf("Expected changed(he), got %+v", event)
	}

	f.transcriber.stream.events <- final("hello")
	if event := nextEvent(t, events); event.Type != entities.EventTypeChanged || event.Text != "hello" {
		t.Fatalf("Expected changed(hello), got %+v", event)
	}

	if err := f.session.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	rest := drainEvents(t, events)
	if len(rest) != 1 || rest[0].Type != entities.EventTypeStopped || rest[0].Text != "hello" {
		t.Fatalf("Expected exactly stopped(hello), got %+v", rest)
	}

	waitDone(t, f.session)
	f.assertReleased(t)
	if f.session.State() != entities.SessionStateStopped {
		t.Errorf("Expected stopped state, got %s", f.session.State())
	}
	if f.broker.token != "api-token" {
		t.Errorf("Broker received token %q", f.broker.token)
	}
	if f.transcriber.creds != testCreds {
		t.Errorf("Transcriber received credentials %+v", f.transcriber.creds)
	}
}

func TestTranscriptionSession_StopTwiceIsNoop(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.start(t)
	events := f.session.Events()
	nextEvent(t, events)

	f.transcriber.stream.events <- partial("still talking")
	nextEvent(t, events)

	if err := f.session.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := f.session.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	rest := drainEvents(t, events)
	if len(rest) != 1 || rest[0].Text != "still talking" {
		t.Fatalf("Expected a single stopped event, got %+v", rest)
	}
	if f.capture.stopped.Load() != 1 {
		t.Errorf("Expected capture stopped once, got %d", f.capture.stopped.Load())
	}
	if f.transcriber.stream.closed.Load() != 1 {
		t.Errorf("Expected stream closed once, got %d", f.transcriber.stream.closed.Load())
	}
}

func TestTranscriptionSession_PermissionDenied(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.microphone.err = fmt.Errorf("getUserMedia: %w", entities.ErrPermissionDenied)
	f.start(t)

	events := drainEvents(t, f.session.Events())
	if len(events) != 1 {
		t.Fatalf("Expected exactly one event, got %+v", events)
	}
	if events[0].Type != entities.EventTypeError || events[0].Kind != entities.ErrorKindNotEnoughPermissions {
		t.Errorf("Expected error(NOT_ENOUGH_PERMISSIONS), got %+v", events[0])
	}

	waitDone(t, f.session)
	if f.broker.calls.Load() != 0 {
		t.Error("Broker must not be called after permission denial")
	}
	if f.transcriber.calls.Load() != 0 {
		t.Error("No stream may be opened after permission denial")
	}
	if f.capture.stopped.Load() != 0 {
		t.Error("No capture handle should have existed")
	}
	if f.session.State() != entities.SessionStateFailed {
		t.Errorf("Expected failed state, got %s", f.session.State())
	}
	f.assertReleased(t)

	if err := f.session.Stop(); err != nil {
		t.Errorf("Stop() after failure error = %v", err)
	}
}

func TestTranscriptionSession_AnyOpenFailureIsPermissionError(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.microphone.err = errors.New("no capture device")
	f.start(t)

	events := drainEvents(t, f.session.Events())
	if len(events) != 1 || events[0].Kind != entities.ErrorKindNotEnoughPermissions {
		t.Fatalf("Expected error(NOT_ENOUGH_PERMISSIONS), got %+v", events)
	}
}

func TestTranscriptionSession_BrokerFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-200", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "{not json")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			logger := zap.NewNop()
			httpBroker, err := broker.NewHTTPCredentialBroker(broker.HTTPCredentialBrokerConfig{Endpoint: server.URL}, logger)
			if err != nil {
				t.Fatal(err)
			}

			capture := newFakeCapture()
			transcriber := newFakeTranscriber()
			session, err := NewTranscriptionSession(entities.TranscriptionOptions{APIToken: "t"}, &fakeMicrophone{capture: capture}, httpBroker, transcriber, nil, logger)
			if err != nil {
				t.Fatal(err)
			}
			if err := session.Start(context.Background()); err != nil {
				t.Fatal(err)
			}

			events := drainEvents(t, session.Events())
			if len(events) != 1 || events[0].Type != entities.EventTypeError || events[0].Kind != entities.ErrorKindInternal {
				t.Fatalf("Expected exactly error(INTERNAL), got %+v", events)
			}
			if transcriber.calls.Load() != 0 {
				t.Error("No connection may be established after broker failure")
			}
			if capture.stopped.Load() == 0 {
				t.Error("Capture must be stopped after broker failure")
			}
		})
	}
}

func TestTranscriptionSession_NotEnoughFunds(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.broker.err = fmt.Errorf("quota exhausted: %w", entities.ErrNotEnoughFunds)
	f.start(t)

	events := drainEvents(t, f.session.Events())
	if len(events) != 1 || events[0].Kind != entities.ErrorKindNotEnoughFunds {
		t.Fatalf("Expected error(NOT_ENOUGH_FUNDS), got %+v", events)
	}
	if got := testutil.ToFloat64(f.metrics.SessionErrors.WithLabelValues("NOT_ENOUGH_FUNDS")); got != 1 {
		t.Errorf("Expected funds error metric, got %v", got)
	}
	f.assertReleased(t)
}

func TestTranscriptionSession_StreamStartFailure(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.transcriber.err = errors.New("connection refused")
	f.start(t)

	events := drainEvents(t, f.session.Events())
	if len(events) != 1 || events[0].Kind != entities.ErrorKindInternal {
		t.Fatalf("Expected error(INTERNAL), got %+v", events)
	}
	if f.capture.stopped.Load() == 0 {
		t.Error("Capture must be stopped when the stream cannot open")
	}
	f.assertReleased(t)
}

func TestTranscriptionSession_StreamError(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.start(t)
	events := f.session.Events()
	nextEvent(t, events)

	f.transcriber.stream.events <- partial("par")
	nextEvent(t, events)
	f.transcriber.stream.end(errors.New("BadRequestException"))

	rest := drainEvents(t, events)
	if len(rest) != 1 || rest[0].Type != entities.EventTypeError || rest[0].Kind != entities.ErrorKindInternal {
		t.Fatalf("Expected error(INTERNAL), got %+v", rest)
	}
	f.assertReleased(t)
}

func TestTranscriptionSession_UndecodableTranscript(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
	}{
		{name: "truncated escape", transcript: "50%"},
		{name: "invalid utf-8", transcript: "%FF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, entities.TranscriptionOptions{})
			f.start(t)
			events := f.session.Events()
			nextEvent(t, events)

			f.transcriber.stream.events <- final(tt.transcript)

			rest := drainEvents(t, events)
			if len(rest) != 1 || rest[0].Kind != entities.ErrorKindInternal {
				t.Fatalf("Expected error(INTERNAL), got %+v", rest)
			}
			f.assertReleased(t)
		})
	}
}

func TestTranscriptionSession_BrokerPanic(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.broker.panic = true
	f.start(t)

	events := drainEvents(t, f.session.Events())
	if len(events) != 1 || events[0].Kind != entities.ErrorKindInternal {
		t.Fatalf("Expected error(INTERNAL), got %+v", events)
	}
	f.assertReleased(t)
}

func TestTranscriptionSession_IgnoresEmptyEvents(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.start(t)
	events := f.session.Events()
	nextEvent(t, events)

	f.transcriber.stream.events <- entities.TranscriptEvent{}
	f.transcriber.stream.events <- entities.TranscriptEvent{Results: []entities.TranscriptResult{{IsPartial: true}}}
	f.transcriber.stream.events <- final("only")

	if event := nextEvent(t, events); event.Text != "only" {
		t.Fatalf("Expected first change to be %q, got %+v", "only", event)
	}
	f.session.Stop()
	drainEvents(t, events)
}

func TestTranscriptionSession_StopWhileRequestingPermission(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.microphone.block = true
	f.start(t)

	if err := f.session.Stop(); err != nil {
		t.Fatal(err)
	}

	events := drainEvents(t, f.session.Events())
	if len(events) != 1 || events[0].Type != entities.EventTypeStopped || events[0].Text != "" {
		t.Fatalf("Expected exactly stopped(\"\"), got %+v", events)
	}
	waitDone(t, f.session)
	if f.broker.calls.Load() != 0 {
		t.Error("Broker must not be called after stop")
	}
}

func TestTranscriptionSession_StopsCaptureGrantedAfterStop(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.microphone.grant = make(chan struct{})
	f.start(t)

	if err := f.session.Stop(); err != nil {
		t.Fatal(err)
	}
	close(f.microphone.grant)
	waitDone(t, f.session)

	if got := f.capture.stopped.Load(); got != 1 {
		t.Errorf("Expected late capture to be stopped once, got %d", got)
	}
	if f.broker.calls.Load() != 0 {
		t.Error("Broker must not be called after stop")
	}
	events := drainEvents(t, f.session.Events())
	if len(events) != 1 || events[0].Type != entities.EventTypeStopped {
		t.Errorf("Expected only stopped, got %+v", events)
	}
}

func TestTranscriptionSession_ClosesStreamOpenedAfterStop(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.transcriber.connect = make(chan struct{})
	f.start(t)

	waitFor(t, func() bool { return f.transcriber.calls.Load() == 1 })
	if err := f.session.Stop(); err != nil {
		t.Fatal(err)
	}
	close(f.transcriber.connect)
	waitDone(t, f.session)

	if got := f.transcriber.stream.closed.Load(); got != 1 {
		t.Errorf("Expected late stream to be closed once, got %d", got)
	}
	if got := f.capture.stopped.Load(); got != 1 {
		t.Errorf("Expected capture to be stopped once, got %d", got)
	}
	for _, event := range drainEvents(t, f.session.Events()) {
		if event.Type == entities.EventTypeStarted {
			t.Error("Started must not be emitted after stop")
		}
	}
}

func TestTranscriptionSession_StopBeforeStart(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})

	if err := f.session.Stop(); err != nil {
		t.Fatal(err)
	}
	events := drainEvents(t, f.session.Events())
	if len(events) != 1 || events[0].Type != entities.EventTypeStopped {
		t.Fatalf("Expected stopped, got %+v", events)
	}
	waitDone(t, f.session)

	if err := f.session.Start(context.Background()); !errors.Is(err, entities.ErrSessionAlreadyStarted) {
		t.Errorf("Start() after Stop() = %v, want ErrSessionAlreadyStarted", err)
	}
	if f.microphone.opened.Load() != 0 {
		t.Error("Microphone must not be opened")
	}
}

func TestTranscriptionSession_StartTwice(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.start(t)

	if err := f.session.Start(context.Background()); !errors.Is(err, entities.ErrSessionAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrSessionAlreadyStarted", err)
	}

	nextEvent(t, f.session.Events())
	f.session.Stop()
	drainEvents(t, f.session.Events())
}

func TestTranscriptionSession_StreamConfigAndAudio(t *testing.T) {
	tests := []struct {
		name     string
		options  entities.TranscriptionOptions
		wantLang string
		wantRate int
	}{
		{"defaults", entities.TranscriptionOptions{}, "en-US", 44100},
		{"explicit", entities.TranscriptionOptions{LanguageCode: "es-ES", MediaSampleRateHertz: 16000}, "es-ES", 16000},
		{"auto forwarded unmapped", entities.TranscriptionOptions{LanguageCode: "auto"}, "auto", 44100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, tt.options)
			f.start(t)
			events := f.session.Events()
			nextEvent(t, events)

			want := repositories.StreamConfig{LanguageCode: tt.wantLang, SampleRateHertz: tt.wantRate, Encoding: "pcm"}
			if f.transcriber.config != want {
				t.Errorf("StreamConfig = %+v, want %+v", f.transcriber.config, want)
			}
			if f.microphone.config.ObjectMode {
				t.Error("Capture must be opened in raw chunk mode")
			}
			if f.microphone.config.SampleRate != tt.wantRate {
				t.Errorf("Capture sample rate = %d, want %d", f.microphone.config.SampleRate, tt.wantRate)
			}

			f.capture.chunks <- audio.EncodeRaw([]float32{1, -1})
			f.capture.chunks <- []byte{0x01}
			f.capture.chunks <- audio.EncodeRaw([]float32{0})

			first := <-f.transcriber.audio
			if string(first) != string(audio.EncodePCM([]float32{1, -1})) {
				t.Errorf("Unexpected first frame % x", first)
			}
			second := <-f.transcriber.audio
			if string(second) != string([]byte{0, 0}) {
				t.Errorf("Undecodable chunk should be skipped, got % x", second)
			}

			f.session.Stop()
			drainEvents(t, events)

			for range f.transcriber.audio {
			}
			if got := testutil.ToFloat64(f.metrics.AudioFramesSent); got != 2 {
				t.Errorf("Expected 2 frames metered, got %v", got)
			}
		})
	}
}

func TestTranscriptionSession_ServiceEndsStream(t *testing.T) {
	f := newSessionFixture(t, entities.TranscriptionOptions{})
	f.start(t)
	events := f.session.Events()
	nextEvent(t, events)

	f.transcriber.stream.events <- final("done talking")
	nextEvent(t, events)
	f.transcriber.stream.end(nil)

	waitDone(t, f.session)
	if f.session.State() != entities.SessionStateStreaming {
		t.Errorf("Clean end of stream must not fail the session, state %s", f.session.State())
	}

	f.session.Stop()
	rest := drainEvents(t, events)
	if len(rest) != 1 || rest[0].Type != entities.EventTypeStopped || rest[0].Text != "done talking" {
		t.Fatalf("Expected stopped(done talking), got %+v", rest)
	}
	f.assertReleased(t)
}

func TestTranscriber_NewSession(t *testing.T) {
	transcriber := NewTranscriber(&fakeBroker{creds: testCreds}, newFakeTranscriber(), nil, zap.NewNop())

	first, err := transcriber.NewSession(entities.TranscriptionOptions{APIToken: "a"}, &fakeMicrophone{capture: newFakeCapture()})
	if err != nil {
		t.Fatal(err)
	}
	second, err := transcriber.NewSession(entities.TranscriptionOptions{APIToken: "a"}, &fakeMicrophone{capture: newFakeCapture()})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID() == second.ID() {
		t.Error("Sessions must have distinct IDs")
	}
	if first.State() != entities.SessionStateIdle {
		t.Errorf("New session should be idle, got %s", first.State())
	}
}

func TestTranscriber_SetDefaults(t *testing.T) {
	transcriber := NewTranscriber(&fakeBroker{creds: testCreds}, newFakeTranscriber(), nil, zap.NewNop())
	transcriber.SetDefaults("id-ID", 16000)

	session, err := transcriber.NewSession(entities.TranscriptionOptions{APIToken: "a"}, &fakeMicrophone{capture: newFakeCapture()})
	if err != nil {
		t.Fatal(err)
	}
	options := session.Options()
	if options.LanguageCode != "id-ID" || options.MediaSampleRateHertz != 16000 {
		t.Errorf("Expected configured defaults, got %s/%d", options.LanguageCode, options.MediaSampleRateHertz)
	}
	if options.APIToken != "" {
		t.Error("Options must not expose the API token")
	}

	explicit, err := transcriber.NewSession(entities.TranscriptionOptions{APIToken: "a", LanguageCode: "en-GB", MediaSampleRateHertz: 48000}, &fakeMicrophone{capture: newFakeCapture()})
	if err != nil {
		t.Fatal(err)
	}
	if got := explicit.Options(); got.LanguageCode != "en-GB" || got.MediaSampleRateHertz != 48000 {
		t.Errorf("Expected request options to win, got %s/%d", got.LanguageCode, got.MediaSampleRateHertz)
	}
}
