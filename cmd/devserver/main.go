package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/pulselink/internal/adapter/devserver"
	"github.com/pscheid92/pulselink/internal/adapter/metrics"
	"github.com/pscheid92/pulselink/internal/platform/config"
	"github.com/pscheid92/pulselink/internal/platform/logging"
)

func runGracefulShutdown(srv *devserver.Server, metricsSrv *http.Server) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				slog.Error("Metrics server shutdown error", "error", err)
			}
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server error", "error", err)
		}
	}()
	return srv
}

func main() {
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Dev server starting", "env", cfg.AppEnv, "api_addr", cfg.DevServerAddr, "ws_addr", cfg.DevWSAddr)

	reg := metrics.NewRegistry()
	srv := devserver.NewServer(cfg, devserver.WithMetrics(metrics.NewHTTPMetrics(reg)))
	metricsSrv := setupMetricsServer(cfg.MetricsAddr, reg)

	done := runGracefulShutdown(srv, metricsSrv)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
