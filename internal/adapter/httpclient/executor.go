package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulselink/internal/adapter/metrics"
	"github.com/pscheid92/pulselink/internal/platform/correlation"
	apperrors "github.com/pscheid92/pulselink/internal/platform/errors"
	"github.com/pscheid92/pulselink/internal/platform/retry"
	"github.com/pscheid92/pulselink/internal/platform/version"
)

const maxBodyBytes = 1 << 20

// RequestSpec describes one HTTP call. Body is re-sent on every attempt.
type RequestSpec struct {
	// Name labels the call in logs and metrics, e.g. "refresh".
	Name   string
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// JSONRequest builds a RequestSpec with a JSON-encoded body.
func JSONRequest(name, method, url string, payload any) (RequestSpec, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("failed to encode %s payload: %w", name, err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return RequestSpec{Name: name, Method: method, URL: url, Header: header, Body: body}, nil
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Executor performs HTTP calls with a bounded number of immediate retries.
// Attempts follow each other without delay.
type Executor struct {
	client  *http.Client
	clock   clockwork.Clock
	metrics *metrics.RequestMetrics
	breaker circuitbreaker.CircuitBreaker[any]
}

type Option func(*Executor)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Executor) { e.clock = clock }
}

func WithMetrics(m *metrics.RequestMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithCircuitBreaker guards every attempt with cb. While it is open,
// attempts fail with circuitbreaker.ErrOpen without touching the network.
func WithCircuitBreaker(cb circuitbreaker.CircuitBreaker[any]) Option {
	return func(e *Executor) { e.breaker = cb }
}

// NewExecutor wraps client. The client's own Timeout should be zero; each
// attempt is bounded by the per-attempt timeout passed to Execute.
func NewExecutor(client *http.Client, opts ...Option) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	e := &Executor{client: client, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs spec up to attempts times. Transport errors, non-2xx
// responses and attempts exceeding perAttemptTimeout are retried. The first
// successful response is returned. After the last attempt the returned error
// matches retry.ErrExhausted and wraps the final attempt's error.
func (e *Executor) Execute(ctx context.Context, spec RequestSpec, attempts int, perAttemptTimeout time.Duration) (*Response, error) {
	attempt := 0
	policy := retry.Policy{
		MaxAttempts:    attempts,
		AttemptTimeout: perAttemptTimeout,
		OnRetry: func(n int, err error) {
			slog.WarnContext(ctx, "Request attempt failed, retrying", "request", spec.Name, "attempt", n, "max_attempts", attempts, "error", err)
		},
	}

	resp, err := retry.Do(ctx, policy, retry.Always, func(attemptCtx context.Context) (*Response, error) {
		attempt++
		attemptCtx = correlation.WithAttempt(attemptCtx, correlation.NewID(), attempt)
		return e.do(attemptCtx, spec)
	})
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", spec.Name, err)
	}
	return resp, nil
}

func (e *Executor) do(ctx context.Context, spec RequestSpec) (*Response, error) {
	if e.breaker != nil && !e.breaker.TryAcquirePermit() {
		e.metrics.Observe(spec.Name, "rejected", 0)
		slog.DebugContext(ctx, "Request attempt rejected by open circuit breaker", "request", spec.Name)
		return nil, fmt.Errorf("backend unavailable: %w", circuitbreaker.ErrOpen)
	}

	start := e.clock.Now()
	resp, err := e.roundTrip(ctx, spec)
	elapsed := e.clock.Since(start)

	if e.breaker != nil {
		if countsAsFailure(err) {
			e.breaker.RecordError(err)
		} else {
			e.breaker.RecordSuccess()
		}
	}

	switch {
	case err == nil:
		e.metrics.Observe(spec.Name, "ok", elapsed)
		slog.DebugContext(ctx, "Request attempt succeeded", "request", spec.Name, "status", resp.StatusCode, "duration", elapsed)
	case errors.Is(err, context.DeadlineExceeded):
		e.metrics.Observe(spec.Name, "timeout", elapsed)
		slog.DebugContext(ctx, "Request attempt timed out", "request", spec.Name, "duration", elapsed)
	default:
		e.metrics.Observe(spec.Name, "error", elapsed)
		slog.DebugContext(ctx, "Request attempt failed", "request", spec.Name, "error", err)
	}

	return resp, err
}

func (e *Executor) roundTrip(ctx context.Context, spec RequestSpec) (*Response, error) {
	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range spec.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	httpResp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	// Read inside the attempt so the per-attempt timeout also covers the body.
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: httpResp.StatusCode, Body: string(data)}
		return nil, apperrors.ExternalError("endpoint returned non-success status", statusErr).
			WithContext("status", httpResp.StatusCode)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}
