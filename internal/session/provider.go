package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pscheid92/pulselink/internal/adapter/httpclient"
	"github.com/pscheid92/pulselink/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	defaultAttempts       = 3
	defaultAttemptTimeout = 5 * time.Second
)

type requestExecutor interface {
	Execute(ctx context.Context, spec httpclient.RequestSpec, attempts int, perAttemptTimeout time.Duration) (*httpclient.Response, error)
}

// Provider owns the current identity. It is the only writer of the session;
// everything else reads it through CurrentIdentity.
type Provider struct {
	backendURL     string
	executor       requestExecutor
	attempts       int
	attemptTimeout time.Duration

	mu        sync.RWMutex
	current   domain.Session
	hasIdent  bool
	listeners []func(domain.Session, bool)

	refreshGroup singleflight.Group
}

type Option func(*Provider)

// WithRetry overrides the number of attempts and the per-attempt timeout
// used for every backend call.
func WithRetry(attempts int, perAttemptTimeout time.Duration) Option {
	return func(p *Provider) {
		p.attempts = attempts
		p.attemptTimeout = perAttemptTimeout
	}
}

func NewProvider(backendURL string, executor requestExecutor, opts ...Option) *Provider {
	p := &Provider{
		backendURL:     strings.TrimRight(backendURL, "/"),
		executor:       executor,
		attempts:       defaultAttempts,
		attemptTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CurrentIdentity returns the cached session without blocking.
func (p *Provider) CurrentIdentity() (domain.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.hasIdent
}

// OnChange registers fn to be called after every identity change
// (login, logout, refresh result). fn runs on the caller's goroutine.
func (p *Provider) OnChange(fn func(s domain.Session, ok bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Refresh asks the backend for the session bound to the current cookies.
// Failure is not an error: being logged out is a valid steady state, so
// exhaustion or a rejected refresh clears the identity and returns false.
// Concurrent calls share one in-flight refresh.
func (p *Provider) Refresh(ctx context.Context) (domain.Session, bool) {
	v, _, _ := p.refreshGroup.Do("refresh", func() (any, error) {
		return p.refresh(ctx), nil
	})
	res := v.(refreshResult)
	return res.session, res.ok
}

type refreshResult struct {
	session domain.Session
	ok      bool
}

func (p *Provider) refresh(ctx context.Context) refreshResult {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	spec := httpclient.RequestSpec{
		Name:   "refresh",
		Method: http.MethodGet,
		URL:    p.backendURL + "/auth/refresh",
		Header: header,
	}

	resp, err := p.executor.Execute(ctx, spec, p.attempts, p.attemptTimeout)
	if err != nil {
		slog.WarnContext(ctx, "Session refresh failed, continuing without identity", "error", err)
		p.set(domain.Session{}, false)
		return refreshResult{}
	}

	var s domain.Session
	if err := resp.DecodeJSON(&s); err != nil || !s.Valid() {
		slog.WarnContext(ctx, "Session refresh returned no usable session", "error", err)
		p.set(domain.Session{}, false)
		return refreshResult{}
	}

	slog.InfoContext(ctx, "Session refreshed", "user_id", s.ID, "name", s.Name)
	p.set(s, true)
	return refreshResult{session: s, ok: true}
}

// LoginGuest creates a guest session for name. Unlike Refresh this is a
// user-initiated call, so every failure is returned to the caller.
func (p *Provider) LoginGuest(ctx context.Context, name string) (domain.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Session{}, fmt.Errorf("%w: please enter a username", domain.ErrUserInputInvalid)
	}

	spec, err := httpclient.JSONRequest("guest", http.MethodPost, p.backendURL+"/auth/guest", map[string]string{"name": name})
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrGuestLoginFailed, err)
	}

	resp, err := p.executor.Execute(ctx, spec, p.attempts, p.attemptTimeout)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrGuestLoginFailed, err)
	}

	var s domain.Session
	if err := resp.DecodeJSON(&s); err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrGuestLoginFailed, err)
	}
	if !s.Valid() {
		return domain.Session{}, fmt.Errorf("%w: response carried no token", domain.ErrGuestLoginFailed)
	}

	slog.InfoContext(ctx, "Logged in as guest", "user_id", s.ID, "name", s.Name)
	p.set(s, true)
	return s, nil
}

// LoginURL returns the redirect URL that starts a third-party login.
func (p *Provider) LoginURL(provider domain.LoginProvider) (string, error) {
	switch provider {
	case domain.LoginGoogle, domain.LoginGitHub:
		return p.backendURL + "/auth/" + string(provider), nil
	default:
		return "", fmt.Errorf("%w: unknown login provider %q", domain.ErrUserInputInvalid, provider)
	}
}

// Invalidate drops the current identity (logout).
func (p *Provider) Invalidate() {
	p.set(domain.Session{}, false)
}

func (p *Provider) set(s domain.Session, ok bool) {
	p.mu.Lock()
	changed := ok != p.hasIdent || s != p.current
	p.current, p.hasIdent = s, ok
	listeners := append(([]func(domain.Session, bool))(nil), p.listeners...)
	p.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(s, ok)
	}
}
