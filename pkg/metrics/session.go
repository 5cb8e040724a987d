package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics records token lifecycle and appeal activity. All methods are
// nil-safe so wiring metrics stays optional.
type SessionMetrics struct {
	refreshDuration *prometheus.HistogramVec
	refreshTotal    *prometheus.CounterVec
	unauthorized    *prometheus.CounterVec
	appealOps       *prometheus.CounterVec
}

// NewSessionMetrics registers the session metrics on the provided registerer.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	if reg == nil {
		return &SessionMetrics{}
	}
	refreshDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "token_refresh_duration_seconds",
		Help:    "Duration of refresh-endpoint calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	refreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_refresh_total",
		Help: "Refresh attempts by outcome (success, failure).",
	}, []string{"outcome"})
	unauthorized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unauthorized_responses_total",
		Help: "401 responses by kind (unauthenticated, session_expired, retried).",
	}, []string{"kind"})
	appealOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appeal_operations_total",
		Help: "Appeal workflow calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	reg.MustRegister(refreshDuration, refreshTotal, unauthorized, appealOps)
	return &SessionMetrics{
		refreshDuration: refreshDuration,
		refreshTotal:    refreshTotal,
		unauthorized:    unauthorized,
		appealOps:       appealOps,
	}
}

// ObserveRefresh records one refresh attempt with its duration.
func (m *SessionMetrics) ObserveRefresh(outcome string, duration time.Duration) {
	if m == nil || m.refreshTotal == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.refreshTotal.WithLabelValues(label).Inc()
	m.refreshDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// IncUnauthorized counts a 401 classification.
func (m *SessionMetrics) IncUnauthorized(kind string) {
	if m == nil || m.unauthorized == nil {
		return
	}
	m.unauthorized.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncAppealOp counts one appeal workflow call.
func (m *SessionMetrics) IncAppealOp(operation, outcome string) {
	if m == nil || m.appealOps == nil {
		return
	}
	m.appealOps.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
