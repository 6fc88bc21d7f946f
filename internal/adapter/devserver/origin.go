package devserver

import (
	"log/slog"
	"net/http"
	"net/url"

	wsadapter "github.com/pscheid92/pulselink/internal/adapter/websocket"
)

// NewCheckOrigin returns the upgrader's origin check. Empty origins
// (non-browser clients such as the CLI) and the web app's own origin, taken
// from appURL, are allowed. In development localhost origins on any port are
// allowed too.
func NewCheckOrigin(appURL string, isDevelopment bool) func(r *http.Request) bool {
	appOrigin := wsadapter.OriginFor(appURL)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" || origin == appOrigin {
			return true
		}

		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
