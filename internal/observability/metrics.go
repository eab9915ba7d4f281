package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_gateway_active_sessions",
		Help: "Number of active capture sessions (0 or 1)",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_sessions_total",
		Help: "Total number of sessions by how they ended",
	}, []string{"reason"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_gateway_session_duration_seconds",
		Help:    "Duration of capture sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600, 7200},
	})

	startFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_session_start_failures_total",
		Help: "Rejected or failed session starts",
	}, []string{"reason"})

	// Recognition connection metrics
	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_gateway_recognition_state",
		Help: "Recognition connection state (0=idle, 1=connecting, 2=connected, 3=recording)",
	})

	reconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_reconnect_attempts_total",
		Help: "Reconnection attempts by outcome",
	}, []string{"outcome"})

	serviceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_service_errors_total",
		Help: "In-band recognition service errors by code",
	}, []string{"code", "fatal"})

	handshakeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_gateway_handshake_latency_seconds",
		Help:    "Time to open the recognition stream",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Caption metrics
	captionsShown = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_captions_shown_total",
		Help: "Caption display events by kind",
	}, []string{"kind"}) // kind: "chunk" or "preview"

	flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_flushes_total",
		Help: "Sentence buffer flushes by trigger",
	}, []string{"trigger"})

	// Audio metrics
	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_audio_bytes_total",
		Help: "Audio bytes handled",
	}, []string{"direction"}) // direction: "in", "out" or "dropped"

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caption_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single capture session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a metrics tracker for a session and counts it as active
func NewSessionMetrics(sessionID string) *SessionMetrics {
	activeSessions.Inc()
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordEnd records the end of the session
func (m *SessionMetrics) RecordEnd(reason string) {
	activeSessions.Dec()
	totalSessions.WithLabelValues(reason).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordStartFailure counts a start request that did not produce a session
func RecordStartFailure(reason string) {
	startFailures.WithLabelValues(reason).Inc()
}

// RecordConnectionState updates the recognition connection state gauge
func RecordConnectionState(state int) {
	connectionState.Set(float64(state))
}

// RecordReconnect counts a reconnection attempt outcome: "attempt", "success" or "exhausted"
func RecordReconnect(outcome string) {
	reconnectAttempts.WithLabelValues(outcome).Inc()
}

// RecordServiceError counts an in-band error reported by the recognition service
func RecordServiceError(code int, fatal bool) {
	serviceErrors.WithLabelValues(strconv.Itoa(code), strconv.FormatBool(fatal)).Inc()
}

// RecordHandshake observes how long it took to open the recognition stream
func RecordHandshake(d time.Duration) {
	handshakeLatency.Observe(d.Seconds())
}

// RecordCaption counts a caption display event
func RecordCaption(preview bool) {
	kind := "chunk"
	if preview {
		kind = "preview"
	}
	captionsShown.WithLabelValues(kind).Inc()
}

// RecordFlush counts a sentence buffer flush by its trigger
func RecordFlush(trigger string) {
	flushes.WithLabelValues(trigger).Inc()
}

// RecordAudioBytes records audio bytes handled
func RecordAudioBytes(direction string, bytes int) {
	audioBytes.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
