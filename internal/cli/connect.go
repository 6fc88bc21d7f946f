package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulselink/internal/adapter/metrics"
	wsadapter "github.com/pscheid92/pulselink/internal/adapter/websocket"
	"github.com/pscheid92/pulselink/internal/connection"
	"github.com/pscheid92/pulselink/internal/domain"
	"github.com/pscheid92/pulselink/internal/platform/config"
	"github.com/pscheid92/pulselink/internal/platform/retry"
	"github.com/pscheid92/pulselink/internal/platform/version"
	"github.com/pscheid92/pulselink/internal/session"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

type connectFlags struct {
	guestName    string
	forwardStdin bool
}

func newConnectCommand(opts *options) *cobra.Command {
	flags := &connectFlags{}

	cmd := &cobra.Command{
		Use:     "connect",
		Short:   "Log in and hold the game connection until interrupted",
		GroupID: "session",
		Long: `Restores the session from the backend (or logs in as a guest with --guest)
and keeps the game connection open, reconnecting after failures. Inbound
frames are printed to stdout. Exits with an error when reconnecting gives up.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, opts.cfg, flags, cmd.OutOrStdout(), cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&flags.guestName, "guest", "", "Log in as a guest with this name instead of restoring the session")
	cmd.Flags().BoolVar(&flags.forwardStdin, "forward-stdin", false, "Send each line read from stdin as a text frame")
	return cmd
}

func connectionPolicy(cfg *config.Config) connection.Policy {
	return connection.Policy{
		MaxAttempts:    cfg.ConnectMaxAttempts,
		ConnectTimeout: cfg.ConnectTimeout,
		Backoff: retry.Backoff{
			Base:  cfg.BackoffBase,
			Ratio: cfg.BackoffRatio,
			Cap:   cfg.BackoffCap,
		},
	}
}

func runConnect(ctx context.Context, cfg *config.Config, flags *connectFlags, out io.Writer, in io.Reader) error {
	c, err := newClient(cfg)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("pulselink %s\n%s", version.Get().Version, cfg.WebSocketURL)))

	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}
	dialer := wsadapter.NewDialer(
		wsadapter.WithJar(c.jar),
		wsadapter.WithHandshakeTimeout(cfg.ConnectTimeout),
		wsadapter.WithOrigin(wsadapter.OriginFor(cfg.BackendURL)),
	)
	manager := connection.NewManager(c.provider, dialer,
		connection.WithURL(cfg.WebSocketURL),
		connection.WithPolicy(connectionPolicy(cfg)),
		connection.WithMetrics(metrics.NewConnectionMetrics(c.registry)),
		connection.WithStateHook(func(_, to domain.ConnectionState) {
			_, _ = fmt.Fprintf(out, "state: %s\n", renderState(to))
		}),
		connection.WithMessageHandler(func(_ int, data []byte) {
			_, _ = fmt.Fprintf(out, "< %s\n", data)
		}),
		connection.WithListener(domain.ListenerFuncs{Failed: fail}),
	)
	defer manager.Close()

	// A new identity restarts the connection with the new token. Losing the
	// identity (an expired session) tears it down and ends the command.
	c.provider.OnChange(func(_ domain.Session, ok bool) {
		manager.Stop()
		if !ok {
			fail(domain.ErrIdentityUnavailable)
			return
		}
		manager.Start()
	})

	if err := login(ctx, c.provider, flags.guestName); err != nil {
		return err
	}

	if cfg.SessionRefreshInterval > 0 {
		keepAlive, err := session.NewKeepAlive(c.provider, cfg.SessionRefreshInterval, clockwork.NewRealClock())
		if err != nil {
			return err
		}
		keepAlive.Start()
		defer func() {
			if err := keepAlive.Stop(); err != nil {
				slog.Warn("Keep-alive shutdown error", "error", err)
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, c)
		defer shutdownMetrics(srv)
	}

	if flags.forwardStdin {
		go forwardLines(ctx, in, manager)
	}

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received, disconnecting")
		return nil
	case err := <-failed:
		return fmt.Errorf("session ended: %w", err)
	}
}

func login(ctx context.Context, p *session.Provider, guestName string) error {
	if guestName != "" {
		if _, err := p.LoginGuest(ctx, guestName); err != nil {
			return fmt.Errorf("guest login failed: %w", err)
		}
		return nil
	}

	if _, ok := p.Refresh(ctx); !ok {
		return fmt.Errorf("%w: not logged in, use --guest NAME or open the URL from login-url", domain.ErrIdentityUnavailable)
	}
	return nil
}

func serveMetrics(addr string, c *client) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(c.registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server error", "error", err)
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}
}

// forwardLines writes stdin lines to whatever socket is open at the time.
// Lines typed while disconnected are dropped.
func forwardLines(ctx context.Context, in io.Reader, m *connection.Manager) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		sock, ok := m.CurrentSocket()
		if !ok {
			slog.Warn("Not connected, dropping input line")
			continue
		}
		if err := sock.WriteMessage(websocket.TextMessage, scanner.Bytes()); err != nil {
			slog.Warn("Failed to send input line", "error", err)
		}
	}
}
