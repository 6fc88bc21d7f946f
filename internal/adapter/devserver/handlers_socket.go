package devserver

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pulselink/internal/domain"
	apperrors "github.com/pscheid92/pulselink/internal/platform/errors"
)

const closeWriteTimeout = time.Second

type welcomeMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

func (s *Server) registerGameRoutes() {
	s.game.GET("/", s.handleSocket)
}

// handleSocket upgrades requests carrying a known token, greets the player
// and echoes every frame back until the client leaves.
func (s *Server) handleSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return apperrors.UnauthorizedError("missing token")
	}
	session, ok := s.registry.Lookup(token)
	if !ok {
		return apperrors.UnauthorizedError("unknown token")
	}

	ip := c.RealIP()
	if ok, reason := s.limits.acquire(ip); !ok {
		slog.Warn("Game socket rejected", "player_id", session.ID, "remote_ip", ip, "reason", reason)
		return echo.NewHTTPError(reason.status(), "too many connections")
	}
	defer s.limits.release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		slog.Warn("WebSocket upgrade failed", "player_id", session.ID, "error", err)
		return nil
	}
	s.metrics.Upgrade()

	s.track(conn, session)
	defer s.untrack(conn)

	slog.Info("Player connected", "player_id", session.ID)
	if err := conn.WriteJSON(welcomeMessage{Type: "welcome", PlayerID: session.ID, Name: session.Name}); err != nil {
		slog.Debug("Failed to send welcome", "player_id", session.ID, "error", err)
		return nil
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("Player disconnected", "player_id", session.ID, "error", err)
			return nil
		}
		if err := conn.WriteMessage(messageType, data); err != nil {
			slog.Debug("Failed to echo frame", "player_id", session.ID, "error", err)
			return nil
		}
	}
}

func (s *Server) track(conn *websocket.Conn, session domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = session
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every game socket with a going-away close frame,
// as a restarting server would. Sessions stay valid, so clients can
// reconnect.
func (s *Server) DropConnections() {
	s.closeWhere(func(domain.Session) bool { return true }, websocket.CloseGoingAway, "server restarting")
}

// dropSession closes the sockets of a revoked session.
func (s *Server) dropSession(token string) {
	s.closeWhere(func(sess domain.Session) bool { return sess.Token == token }, websocket.ClosePolicyViolation, "session revoked")
}

func (s *Server) closeWhere(match func(domain.Session) bool, code int, reason string) {
	s.mu.Lock()
	var victims []*websocket.Conn
	for conn, sess := range s.conns {
		if match(sess) {
			victims = append(victims, conn)
		}
	}
	s.mu.Unlock()

	deadline := time.Now().Add(closeWriteTimeout)
	for _, conn := range victims {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = conn.Close()
	}
}
