package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pulselink/internal/adapter/metrics"
	"github.com/pscheid92/pulselink/internal/domain"
	"github.com/pscheid92/pulselink/internal/platform/config"
	"golang.org/x/sync/errgroup"
)

const (
	defaultGuestRate  = 2.0
	defaultGuestBurst = 10
)

type Server struct {
	api    *echo.Echo
	game   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	registry     *Registry
	sessionStore *sessions.CookieStore
	upgrader     websocket.Upgrader
	metrics      *metrics.HTTPMetrics
	startTime    time.Time

	guestRate  float64
	guestBurst int
	limits     *socketLimits

	mu    sync.Mutex
	conns map[*websocket.Conn]domain.Session
}

type Option func(*Server)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGuestRateLimit sets the per-IP guest login rate.
func WithGuestRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.guestRate = perSecond
		s.guestBurst = burst
	}
}

// WithSocketLimits caps concurrent game sockets in total and per client IP.
func WithSocketLimits(maxTotal, maxPerIP int) Option {
	return func(s *Server) { s.limits = newSocketLimits(maxTotal, maxPerIP) }
}

func NewServer(cfg *config.Config, opts ...Option) *Server {
	srv := &Server{
		api:        newEcho(),
		game:       newEcho(),
		config:     cfg,
		clock:      clockwork.NewRealClock(),
		guestRate:  defaultGuestRate,
		guestBurst: defaultGuestBurst,
		limits:     newSocketLimits(defaultMaxSockets, defaultMaxSocketsPerIP),
		conns:      make(map[*websocket.Conn]domain.Session),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.startTime = srv.clock.Now()
	srv.registry = NewRegistry(srv.clock, cfg.DevSessionTTL)
	srv.sessionStore = setupSessionStore(cfg)
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     NewCheckOrigin(cfg.BackendURL, cfg.AppEnv == "development"),
	}

	srv.registerRoutes()

	return srv
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// APIHandler serves the auth, health and version endpoints.
func (s *Server) APIHandler() http.Handler { return s.api }

// GameHandler serves the WebSocket endpoint.
func (s *Server) GameHandler() http.Handler { return s.game }

func (s *Server) Registry() *Registry { return s.registry }

// Start serves both listeners until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	var g errgroup.Group
	g.Go(func() error {
		slog.Info("Starting API server", "addr", s.config.DevServerAddr)
		if err := s.api.Start(s.config.DevServerAddr); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("Starting game server", "addr", s.config.DevWSAddr)
		if err := s.game.Start(s.config.DevWSAddr); err != nil {
			return fmt.Errorf("failed to start game server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Hijacked sockets are invisible to http.Server.Shutdown.
	s.DropConnections()

	var errs []error
	if err := s.api.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown API server: %w", err))
	}
	if err := s.game.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown game server: %w", err))
	}
	return errors.Join(errs...)
}

// Session keys
const (
	sessionName     = "pulselink-session"
	sessionKeyToken = "token"
)

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.DevSessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.DevSessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return store
}
