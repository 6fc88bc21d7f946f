package httpclient

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/pulselink/internal/adapter/metrics"
)

// NewCircuitBreaker opens after failures consecutive backend failures and
// lets a single probe through after delay.
func NewCircuitBreaker(failures uint, delay time.Duration, m *metrics.RequestMetrics) circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(failures).
		WithDelay(delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "backend",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.BreakerTransition(e.NewState.String())
		}).
		Build()
}

// countsAsFailure reports whether err says something about backend health.
// A 4xx means the backend answered and made a decision.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
