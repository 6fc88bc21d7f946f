package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics holds Prometheus metrics for retried one-shot requests.
// A nil *RequestMetrics is valid and records nothing.
type RequestMetrics struct {
	AttemptsTotal      *prometheus.CounterVec
	AttemptDuration    *prometheus.HistogramVec
	BreakerTransitions *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics on the given registry.
func NewRequestMetrics(reg prometheus.Registerer) *RequestMetrics {
	m := &RequestMetrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "attempts_total",
			Help:      "Request attempts by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of single request attempts in seconds.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state changes by target state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.AttemptsTotal, m.AttemptDuration, m.BreakerTransitions)
	return m
}

func (m *RequestMetrics) Observe(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.AttemptDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// BreakerTransition counts a circuit breaker moving into state.
func (m *RequestMetrics) BreakerTransition(state string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(state).Inc()
}
