package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	SessionErrors   *prometheus.CounterVec

	// Credential broker metrics
	CredentialFetchDuration prometheus.Histogram
	CredentialFetchFailures prometheus.Counter

	// Audio metrics
	AudioFramesSent prometheus.Counter
	AudioBytesSent  prometheus.Counter

	// Relay metrics
	RelayConnections prometheus.Gauge
}

// NewMetrics creates and registers all metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_sessions_started_total",
			Help: "Total number of transcription sessions started",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livescribe_active_sessions",
			Help: "Current number of transcription sessions holding resources",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_session_events_total",
			Help: "Total number of session events emitted by type",
		}, []string{"type"}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_session_errors_total",
			Help: "Total number of failed sessions by error kind",
		}, []string{"kind"}),

		CredentialFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "livescribe_credential_fetch_duration_seconds",
			Help:    "Time spent exchanging API tokens for credentials",
			Buckets: prometheus.DefBuckets,
		}),
		CredentialFetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_credential_fetch_failures_total",
			Help: "Total number of failed credential exchanges",
		}),

		AudioFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_audio_frames_sent_total",
			Help: "Total number of PCM frames forwarded to the transcription service",
		}),
		AudioBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_audio_bytes_sent_total",
			Help: "Total number of PCM bytes forwarded to the transcription service",
		}),

		RelayConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livescribe_relay_connections",
			Help: "Current number of connected relay clients",
		}),
	}
}

// RecordSessionStarted records a session acquiring its resources
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionReleased records a session releasing its resources
func (m *Metrics) RecordSessionReleased() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordEvent records an emitted session event
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(eventType).Inc()
}

// RecordError records a failed session
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(kind).Inc()
}

// RecordCredentialFetch records one broker round trip
func (m *Metrics) RecordCredentialFetch(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.CredentialFetchDuration.Observe(duration.Seconds())
	if err != nil {
		m.CredentialFetchFailures.Inc()
	}
}

// RecordAudioFrame records one frame handed to the transcription service
func (m *Metrics) RecordAudioFrame(size int) {
	if m == nil {
		return
	}
	m.AudioFramesSent.Inc()
	m.AudioBytesSent.Add(float64(size))
}

// RecordRelayConnection adjusts the relay connection gauge by delta
func (m *Metrics) RecordRelayConnection(delta float64) {
	if m == nil {
		return
	}
	m.RelayConnections.Add(delta)
}
