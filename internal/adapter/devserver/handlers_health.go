package devserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pulselink/internal/platform/version"
)

func (s *Server) registerHealthRoutes() {
	s.api.GET("/health", s.handleHealth)
	s.api.GET("/version", s.handleVersion)
}

func (s *Server) handleHealth(c echo.Context) error {
	response := map[string]any{
		"status":      "ok",
		"uptime":      s.clock.Since(s.startTime).Seconds(),
		"sessions":    s.registry.Len(),
		"connections": s.ConnectionCount(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
