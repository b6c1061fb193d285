package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_transcriber_active_sessions",
		Help: "Number of recognition sessions currently listening",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_sessions_total",
		Help: "Recognition sessions by how they ended",
	}, []string{"outcome"}) // outcome: stopped, unloaded, timeout, error, start_failed

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_transcriber_session_duration_seconds",
		Help:    "Duration of recognition sessions in seconds",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
	})

	// Decoder metrics
	decodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_transcriber_decode_latency_seconds",
		Help:    "Time spent in one decode cycle",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	framesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_transcriber_frames_decoded_total",
		Help: "Capture buffers submitted to the decoder",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_transcriber_frames_dropped_total",
		Help: "Capture buffers dropped because the decode queue was full or discarded on stop",
	})

	// Event metrics
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_events_published_total",
		Help: "Notifications delivered to subscribers",
	}, []string{"event"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_events_dropped_total",
		Help: "Notifications dropped for a slow subscriber",
	}, []string{"event"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_errors_total",
		Help: "Total number of errors",
	}, []string{"kind", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "live_transcriber_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Audio metrics
	audioBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_transcriber_audio_bytes_total",
		Help: "Normalized PCM bytes queued for decoding",
	})

	speechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_transcriber_speech_segments_total",
		Help: "Speech segments seen by the voice activity meter",
	})
)

// SessionMetrics tracks metrics for a single recognition session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordStart records that the session reached the listening state
func (m *SessionMetrics) RecordStart() {
	activeSessions.Inc()
}

// RecordEnd records the end of a listening session
func (m *SessionMetrics) RecordEnd(outcome string) {
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordDecode records one decode cycle
func (m *SessionMetrics) RecordDecode(latency time.Duration) {
	framesDecoded.Inc()
	decodeLatency.Observe(latency.Seconds())
}

// RecordAudioBytes records normalized bytes entering the decode queue
func (m *SessionMetrics) RecordAudioBytes(bytes int) {
	audioBytesIn.Add(float64(bytes))
}

// RecordStartFailure records a start sequence that was rolled back
func RecordStartFailure() {
	sessionsTotal.WithLabelValues("start_failed").Inc()
}

// RecordFramesDropped records capture buffers that never reached the decoder
func RecordFramesDropped(n int) {
	if n > 0 {
		framesDropped.Add(float64(n))
	}
}

// RecordSpeechSegment records a speech segment start from the activity meter
func RecordSpeechSegment() {
	speechSegments.Inc()
}

// RecordEvent records a notification delivered to a subscriber
func RecordEvent(event string) {
	eventsPublished.WithLabelValues(event).Inc()
}

// RecordEventDropped records a notification a subscriber could not accept
func RecordEventDropped(event string) {
	eventsDropped.WithLabelValues(event).Inc()
}

// RecordError records an error
func RecordError(kind, component string) {
	errorsTotal.WithLabelValues(kind, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
