package cli

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/pulselink/internal/adapter/httpclient"
	"github.com/pscheid92/pulselink/internal/adapter/metrics"
	"github.com/pscheid92/pulselink/internal/platform/config"
	"github.com/pscheid92/pulselink/internal/session"
)

// client is the session half of the stack, shared by every command that
// talks to the backend. The jar carries the session cookie from the login
// calls to the WebSocket handshake.
type client struct {
	jar      http.CookieJar
	registry *prometheus.Registry
	provider *session.Provider
}

func newClient(cfg *config.Config) (*client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	reg := metrics.NewRegistry()
	requestMetrics := metrics.NewRequestMetrics(reg)
	execOpts := []httpclient.Option{httpclient.WithMetrics(requestMetrics)}
	if cfg.BreakerFailures > 0 {
		cb := httpclient.NewCircuitBreaker(uint(cfg.BreakerFailures), cfg.BreakerDelay, requestMetrics)
		execOpts = append(execOpts, httpclient.WithCircuitBreaker(cb))
	}
	executor := httpclient.NewExecutor(&http.Client{Jar: jar}, execOpts...)
	provider := session.NewProvider(cfg.BackendURL, executor,
		session.WithRetry(cfg.RequestAttempts, cfg.RequestTimeout),
	)

	return &client{jar: jar, registry: reg, provider: provider}, nil
}
