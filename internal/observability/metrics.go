package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nextalk_active_sessions",
		Help: "Number of open recognition sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nextalk_sessions_total",
		Help: "Total number of sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nextalk_session_duration_seconds",
		Help:    "Wall-clock duration of sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Engine metrics
	engineCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nextalk_engine_calls_total",
		Help: "Total number of recognition engine calls",
	}, []string{"op", "status"})

	engineLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nextalk_engine_latency_seconds",
		Help:    "Engine call latency in seconds, excluding queue wait",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"op"})

	engineQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nextalk_engine_queue_wait_seconds",
		Help:    "Time spent waiting for exclusive engine access",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	engineDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nextalk_engine_degraded_total",
		Help: "Engine calls whose queue wait exceeded the warning threshold",
	})

	// Result metrics
	resultsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nextalk_results_total",
		Help: "Recognition results sent to clients",
	}, []string{"mode", "final"})

	controlErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nextalk_control_errors_total",
		Help: "Rejected control messages or fields",
	}, []string{"reason"})

	// Errors
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nextalk_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nextalk_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nextalk_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nextalk_audio_bytes_total",
		Help: "Total audio bytes received from clients",
	})
)

// RecordEngineCall records the outcome and latency of one engine operation.
func RecordEngineCall(op string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	engineCalls.WithLabelValues(op, status).Inc()
	engineLatency.WithLabelValues(op).Observe(latency.Seconds())
}

// RecordEngineWait records time spent queued for the shared engine.
func RecordEngineWait(wait time.Duration, degraded bool) {
	engineQueueWait.Observe(wait.Seconds())
	if degraded {
		engineDegraded.Inc()
	}
}

// RecordControlError counts a rejected control message or field.
func RecordControlError(reason string) {
	controlErrors.WithLabelValues(reason).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerFailure records a circuit breaker failure
func RecordCircuitBreakerFailure(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// SessionMetrics tracks metrics for a single session
type SessionMetrics struct {
	sessionID string
	startTime time.Time

	mu         sync.Mutex
	ended      bool
	audioBytes int64
	results    int64
}

// NewSessionMetrics creates a metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session. Repeated calls are ignored.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudio records bytes of client audio received
func (m *SessionMetrics) RecordAudio(bytes int) {
	m.mu.Lock()
	m.audioBytes += int64(bytes)
	m.mu.Unlock()
	audioBytesReceived.Add(float64(bytes))
}

// RecordResult records a result sent to the client
func (m *SessionMetrics) RecordResult(mode string, final bool) {
	m.mu.Lock()
	m.results++
	m.mu.Unlock()
	resultsEmitted.WithLabelValues(mode, strconv.FormatBool(final)).Inc()
}

// Totals returns the audio bytes and results recorded for this session.
func (m *SessionMetrics) Totals() (audioBytes, results int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioBytes, m.results
}

// SessionID returns the session this tracker belongs to.
func (m *SessionMetrics) SessionID() string {
	return m.sessionID
}
