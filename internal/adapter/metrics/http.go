package metrics

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics holds Prometheus metrics for the development backend.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	Upgrades        prometheus.Counter
}

// NewHTTPMetrics creates and registers development backend metrics on the given registry.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "devserver",
			Name:      "request_duration_seconds",
			Help:      "Duration of development backend requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devserver",
			Name:      "requests_total",
			Help:      "Total number of development backend requests.",
		}, []string{"method", "route", "status_code"}),
		Upgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devserver",
			Name:      "websocket_upgrades_total",
			Help:      "Accepted WebSocket upgrades.",
		}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.Upgrades)
	return m
}

// Middleware returns an Echo middleware that records request metrics.
// The health endpoint is skipped.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "/health" {
				return next(c)
			}

			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				status := strconv.Itoa(c.Response().Status)
				m.RequestDuration.WithLabelValues(c.Request().Method, route, status).Observe(v)
				m.RequestsTotal.WithLabelValues(c.Request().Method, route, status).Inc()
			}))

			err := next(c)
			timer.ObserveDuration()
			return err
		}
	}
}

func (m *HTTPMetrics) Upgrade() {
	if m == nil {
		return
	}
	m.Upgrades.Inc()
}
