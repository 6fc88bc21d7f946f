package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/pulselink/internal/domain"
	"github.com/pscheid92/pulselink/internal/platform/version"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	readBufferSize          = 4096
	writeBufferSize         = 4096
)

// Dialer opens game connections with gorilla/websocket.
type Dialer struct {
	dialer *websocket.Dialer
	origin string
}

type DialerOption func(*Dialer)

// WithHandshakeTimeout bounds the opening handshake independently of the
// context passed to Dial.
func WithHandshakeTimeout(d time.Duration) DialerOption {
	return func(dl *Dialer) { dl.dialer.HandshakeTimeout = d }
}

// WithJar sends the session cookies with the handshake.
func WithJar(jar http.CookieJar) DialerOption {
	return func(dl *Dialer) { dl.dialer.Jar = jar }
}

// WithOrigin sets the Origin header, for servers that check it.
func WithOrigin(origin string) DialerOption {
	return func(dl *Dialer) { dl.origin = origin }
}

func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
			ReadBufferSize:   readBufferSize,
			WriteBufferSize:  writeBufferSize,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandshakeError is returned when the server answered the upgrade request
// with a non-101 status, e.g. 401 for an unknown token.
type HandshakeError struct {
	StatusCode int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected with status %d", e.StatusCode)
}

func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (domain.Conn, error) {
	header = header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}
	if d.origin != "" {
		header.Set("Origin", d.origin)
	}

	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, fmt.Errorf("dial %s: %w: %w", redact(url), err, &HandshakeError{StatusCode: resp.StatusCode})
		}
		return nil, fmt.Errorf("dial %s: %w", redact(url), err)
	}
	return conn, nil
}
