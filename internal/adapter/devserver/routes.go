package devserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) registerRoutes() {
	for _, e := range []*echo.Echo{s.api, s.game} {
		e.Use(requestLoggerMiddleware())
		e.Use(middleware.Recover())
		if s.metrics != nil {
			e.Use(s.metrics.Middleware())
		}
		e.Use(ErrorHandlingMiddleware())
	}

	s.api.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	s.registerHealthRoutes()
	s.registerAuthRoutes(newRateLimiter(s.guestRate, s.guestBurst))
	s.registerGameRoutes()
}

func requestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			// Path only: the game socket carries the token in the query.
			attrs := []any{
				"method", v.Method,
				"path", c.Request().URL.Path,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Info("Request", attrs...)
			return nil
		},
	})
}
