package correlation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

type attemptKey struct{}

type attemptInfo struct {
	id     string
	number int
}

// NewID returns a fresh identifier for one connection or request attempt.
func NewID() string {
	return uuid.NewString()
}

// WithAttempt returns a context that tags log records with the attempt ID and
// its 1-based number. Numbers below 1 are omitted from the log output.
func WithAttempt(ctx context.Context, id string, number int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attemptInfo{id: id, number: number})
}

// AttemptID extracts the attempt ID from ctx, returning ("", false) if not present.
func AttemptID(ctx context.Context) (string, bool) {
	info, ok := ctx.Value(attemptKey{}).(attemptInfo)
	return info.id, ok && info.id != ""
}

// AttemptNumber extracts the attempt number from ctx, returning (0, false) if not present.
func AttemptNumber(ctx context.Context) (int, bool) {
	info, ok := ctx.Value(attemptKey{}).(attemptInfo)
	return info.number, ok && info.number > 0
}

// Handler wraps an existing slog.Handler and adds "attempt_id" and "attempt"
// attributes when the context carries them.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := AttemptID(ctx); ok {
		r.AddAttrs(slog.String("attempt_id", id))
	}
	if n, ok := AttemptNumber(ctx); ok {
		r.AddAttrs(slog.Int("attempt", n))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
