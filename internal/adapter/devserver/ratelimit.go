package devserver

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const limiterIdleExpiry = 5 * time.Minute

// newRateLimiter limits session-issuing endpoints per client IP. Denied
// requests get 429 with a Retry-After hint of one token interval.
func newRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	limit := rate.Limit(perSecond)
	retryAfter := "1"
	if perSecond > 0 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / perSecond)))
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      limit,
			Burst:     burst,
			ExpiresIn: limiterIdleExpiry,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, ip string, _ error) error {
			slog.Info("Login rate limited", "path", c.Request().URL.Path, "remote_ip", ip)
			c.Response().Header().Set("Retry-After", retryAfter)
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many login attempts"})
		},
	})
}
