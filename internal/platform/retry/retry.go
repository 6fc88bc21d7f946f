package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrExhausted marks an operation that failed on every allowed attempt.
var ErrExhausted = errors.New("retries exhausted")

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, try again
)

// Backoff is an exponential delay schedule capped at Cap.
// Delay(n) = min(Base * Ratio^(n-1), Cap) for the 1-based attempt n.
type Backoff struct {
	Base  time.Duration
	Ratio float64
	Cap   time.Duration
}

// DefaultBackoff yields 1s, 2s, 4s, 8s, 8s, ...
var DefaultBackoff = Backoff{Base: time.Second, Ratio: 2, Cap: 8 * time.Second}

// Delay returns the wait before the retry that follows the given failed attempt.
// Attempts below 1 are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ratio := b.Ratio
	if ratio < 1 {
		ratio = 1
	}

	d := float64(b.Base) * math.Pow(ratio, float64(attempt-1))
	if b.Cap > 0 && d >= float64(b.Cap) {
		return b.Cap
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type Policy struct {
	MaxAttempts int
	// AttemptTimeout bounds every single attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
	// Backoff computes the wait after a failed attempt. Nil retries immediately.
	Backoff func(attempt int) time.Duration
	OnRetry func(attempt int, err error)
}

type Classify func(err error) Action
type Operation[T any] func(ctx context.Context) (T, error)
type VoidOperation func(ctx context.Context) error

// Do runs op until it succeeds, classify says Stop, ctx is done, or
// MaxAttempts attempts have been made. Each attempt runs under its own
// context so that timing out one attempt never affects the next.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, fmt.Errorf("invalid retry policy: MaxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if classify == nil {
		classify = Always
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		val, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return val, nil
		}
		lastErr = err

		// The caller gave up; the attempt failing is a consequence, not a cause.
		if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled during attempt %d: %w", attempt, ctx.Err())
		}

		if classify(err) == Stop {
			return zero, &PermanentError{Err: err}
		}

		if attempt == p.MaxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if p.Backoff == nil {
			continue
		}
		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	return op(ctx)
}

func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func(ctx context.Context) (struct{}, error) { return struct{}{}, op(ctx) })
	return err
}

// Always classifies every error as retryable.
func Always(error) Action { return Retry }

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
