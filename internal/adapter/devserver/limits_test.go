package devserver

import (
	"net/http"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketLimits_PerIP(t *testing.T) {
	l := newSocketLimits(10, 2)

	ok, _ := l.acquire("10.0.0.1")
	require.True(t, ok)
	ok, _ = l.acquire("10.0.0.1")
	require.True(t, ok)

	ok, reason := l.acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, limitReasonPerIP, reason)

	ok, _ = l.acquire("10.0.0.2")
	assert.True(t, ok, "other IPs are unaffected")

	l.release("10.0.0.1")
	ok, _ = l.acquire("10.0.0.1")
	assert.True(t, ok)
}

func TestSocketLimits_Global(t *testing.T) {
	l := newSocketLimits(2, 5)

	for _, ip := range []string{"a", "b"} {
		ok, _ := l.acquire(ip)
		require.True(t, ok)
	}
	ok, reason := l.acquire("c")
	assert.False(t, ok)
	assert.Equal(t, limitReasonGlobal, reason)
	assert.Equal(t, http.StatusServiceUnavailable, reason.status())

	l.release("a")
	ok, _ = l.acquire("c")
	assert.True(t, ok)
}

func TestSocketLimits_ReleaseUnknownIsNoop(t *testing.T) {
	l := newSocketLimits(1, 1)
	l.release("ghost")

	ok, _ := l.acquire("a")
	assert.True(t, ok)
	assert.Equal(t, 1, l.total)
}

func TestSocket_PerIPLimit(t *testing.T) {
	env := newTestEnv(t, WithSocketLimits(10, 1))
	session := env.guest(t, "alice")

	conn, resp, err := websocket.DefaultDialer.Dial(env.socketURL(session.Token), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.ReadJSON(&welcomeMessage{}))

	_, resp, err = websocket.DefaultDialer.Dial(env.socketURL(session.Token), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	_ = resp.Body.Close()
}
