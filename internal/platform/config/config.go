package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minSessionSecretLen = 32

type Config struct {
	AppEnv       string `env:"APP_ENV" default:"development"`
	BackendURL   string `env:"BACKEND_URL" default:"http://localhost:3000"`
	WebSocketURL string `env:"WS_URL" default:"ws://localhost:8080"`
	LogLevel     string `env:"LOG_LEVEL" default:"info"`
	LogFormat    string `env:"LOG_FORMAT" default:"text"`
	MetricsAddr  string `env:"METRICS_ADDR"`

	ConnectMaxAttempts int           `env:"CONNECT_MAX_ATTEMPTS" default:"5"`
	ConnectTimeout     time.Duration `env:"CONNECT_TIMEOUT" default:"5s"`
	BackoffBase        time.Duration `env:"BACKOFF_BASE" default:"1s"`
	BackoffRatio       float64       `env:"BACKOFF_RATIO" default:"2"`
	BackoffCap         time.Duration `env:"BACKOFF_CAP" default:"8s"`

	RequestAttempts int           `env:"REQUEST_ATTEMPTS" default:"3"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" default:"5s"`

	// Zero failures disables the backend circuit breaker.
	BreakerFailures int           `env:"BREAKER_FAILURES" default:"5"`
	BreakerDelay    time.Duration `env:"BREAKER_DELAY" default:"30s"`

	// Zero disables the periodic session refresh.
	SessionRefreshInterval time.Duration `env:"SESSION_REFRESH_INTERVAL" default:"10m"`

	DevServerAddr    string        `env:"DEV_SERVER_ADDR" default:":3000"`
	DevWSAddr        string        `env:"DEV_WS_ADDR" default:":8080"`
	DevSessionSecret string        `env:"DEV_SESSION_SECRET" default:"pulselink-dev-session-secret-0001"`
	DevSessionTTL    time.Duration `env:"DEV_SESSION_TTL" default:"24h"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if err := validateURL("BACKEND_URL", cfg.BackendURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("WS_URL", cfg.WebSocketURL, "ws", "wss"); err != nil {
		return err
	}

	if cfg.ConnectMaxAttempts < 1 {
		return errors.New("CONNECT_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.RequestAttempts < 1 {
		return errors.New("REQUEST_ATTEMPTS must be at least 1")
	}
	if cfg.ConnectTimeout <= 0 {
		return errors.New("CONNECT_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if cfg.BackoffBase < 0 {
		return errors.New("BACKOFF_BASE must not be negative")
	}
	if cfg.BackoffRatio < 1 {
		return errors.New("BACKOFF_RATIO must be at least 1")
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		return errors.New("BACKOFF_CAP must not be smaller than BACKOFF_BASE")
	}
	if cfg.BreakerFailures < 0 {
		return errors.New("BREAKER_FAILURES must not be negative")
	}
	if cfg.BreakerFailures > 0 && cfg.BreakerDelay <= 0 {
		return errors.New("BREAKER_DELAY must be positive")
	}
	if cfg.SessionRefreshInterval < 0 {
		return errors.New("SESSION_REFRESH_INTERVAL must not be negative")
	}
	if cfg.DevSessionTTL <= 0 {
		return errors.New("DEV_SESSION_TTL must be positive")
	}
	if len(cfg.DevSessionSecret) < minSessionSecretLen {
		return fmt.Errorf("DEV_SESSION_SECRET must be at least %d bytes", minSessionSecretLen)
	}

	return nil
}

func validateURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL, got %q", name, schemes[0], raw)
}
