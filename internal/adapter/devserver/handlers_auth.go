package devserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pulselink/internal/domain"
	apperrors "github.com/pscheid92/pulselink/internal/platform/errors"
)

const maxNameLength = 32

type guestRequest struct {
	Name string `json:"name"`
}

func (s *Server) registerAuthRoutes(rateLimiter echo.MiddlewareFunc) {
	s.api.GET("/auth/refresh", s.handleRefresh)
	s.api.POST("/auth/guest", s.handleGuest, rateLimiter)
	s.api.GET("/auth/google", s.handleProviderLogin(domain.LoginGoogle), rateLimiter)
	s.api.GET("/auth/github", s.handleProviderLogin(domain.LoginGitHub), rateLimiter)
	s.api.POST("/auth/logout", s.handleLogout)
}

// handleRefresh returns the session bound to the cookie and extends it.
func (s *Server) handleRefresh(c echo.Context) error {
	token, ok := s.cookieToken(c)
	if !ok {
		return apperrors.UnauthorizedError("no session")
	}

	session, ok := s.registry.Extend(token)
	if !ok {
		return apperrors.UnauthorizedError("session expired")
	}

	if err := c.JSON(http.StatusOK, session); err != nil {
		return fmt.Errorf("failed to write session response: %w", err)
	}
	return nil
}

func (s *Server) handleGuest(c echo.Context) error {
	var req guestRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return apperrors.ValidationError("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return apperrors.ValidationError("name is too long").WithContext("max_length", maxNameLength)
	}

	return s.issueSession(c, name, func(session domain.Session) error {
		slog.Info("Guest session issued", "player_id", session.ID, "name", session.Name)
		if err := c.JSON(http.StatusOK, session); err != nil {
			return fmt.Errorf("failed to write session response: %w", err)
		}
		return nil
	})
}

// handleProviderLogin stands in for the OAuth round trip: it signs in a
// canned player for the provider and redirects to the refresh endpoint,
// like the real callback does.
func (s *Server) handleProviderLogin(provider domain.LoginProvider) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := strings.TrimSpace(c.QueryParam("name"))
		if name == "" {
			name = string(provider) + "-player"
		}

		return s.issueSession(c, name, func(session domain.Session) error {
			slog.Info("Provider session issued", "provider", provider, "player_id", session.ID)
			if err := c.Redirect(http.StatusFound, "/auth/refresh"); err != nil {
				return fmt.Errorf("failed to redirect: %w", err)
			}
			return nil
		})
	}
}

func (s *Server) handleLogout(c echo.Context) error {
	if token, ok := s.cookieToken(c); ok {
		s.registry.Revoke(token)
		s.dropSession(token)
	}

	cs, _ := s.sessionStore.Get(c.Request(), sessionName)
	cs.Options.MaxAge = -1
	if err := cs.Save(c.Request(), c.Response()); err != nil {
		return apperrors.InternalError("failed to clear session cookie", err)
	}

	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to write logout response: %w", err)
	}
	return nil
}

func (s *Server) issueSession(c echo.Context, name string, respond func(domain.Session) error) error {
	session := s.registry.Create(name)

	cs, _ := s.sessionStore.Get(c.Request(), sessionName)
	cs.Values[sessionKeyToken] = session.Token
	if err := cs.Save(c.Request(), c.Response()); err != nil {
		s.registry.Revoke(session.Token)
		return apperrors.InternalError("failed to save session", err)
	}

	return respond(session)
}

func (s *Server) cookieToken(c echo.Context) (string, bool) {
	cs, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return "", false
	}
	token, ok := cs.Values[sessionKeyToken].(string)
	return token, ok && token != ""
}
