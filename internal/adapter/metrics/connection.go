package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/pulselink/internal/domain"
)

// Attempt outcomes.
const (
	OutcomeOpened  = "opened"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeAborted = "aborted"
)

// ConnectionMetrics holds Prometheus metrics for the persistent connection.
// A nil *ConnectionMetrics is valid and records nothing.
type ConnectionMetrics struct {
	AttemptsTotal         *prometheus.CounterVec
	State                 prometheus.Gauge
	RetriesExhaustedTotal prometheus.Counter
	LateOpensTotal        prometheus.Counter
}

// NewConnectionMetrics creates and registers connection metrics on the given registry.
func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	m := &ConnectionMetrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "attempts_total",
			Help:      "Connection attempts by outcome (opened, failed, timeout, aborted).",
		}, []string{"outcome"}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state (0=idle, 1=connecting, 2=open, 3=retrying, 4=failed).",
		}),
		RetriesExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "retries_exhausted_total",
			Help:      "Times the connection gave up after the maximum number of attempts.",
		}),
		LateOpensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "late_opens_total",
			Help:      "Sockets that opened after their attempt had already been abandoned.",
		}),
	}

	reg.MustRegister(m.AttemptsTotal, m.State, m.RetriesExhaustedTotal, m.LateOpensTotal)
	return m
}

func (m *ConnectionMetrics) Attempt(outcome string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *ConnectionMetrics) SetState(s domain.ConnectionState) {
	if m == nil {
		return
	}
	m.State.Set(float64(s))
}

func (m *ConnectionMetrics) RetriesExhausted() {
	if m == nil {
		return
	}
	m.RetriesExhaustedTotal.Inc()
}

func (m *ConnectionMetrics) LateOpen() {
	if m == nil {
		return
	}
	m.LateOpensTotal.Inc()
}
