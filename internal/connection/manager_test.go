package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/pulselink/internal/adapter/metrics"
	"github.com/pscheid92/pulselink/internal/domain"
	"github.com/pscheid92/pulselink/internal/platform/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor    = 2 * time.Second
	pollEvery  = time.Millisecond
	quietSpell = 50 * time.Millisecond
)

// --- fakes ---

type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	dropped   chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 8),
		closed:  make(chan struct{}),
		dropped: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-c.dropped:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialCall struct {
	ctx context.Context
	url string
}

type fakeDialer struct {
	calls  chan dialCall
	conns  chan *fakeConn
	dialFn func(ctx context.Context) (domain.Conn, error)
}

func newFakeDialer() *fakeDialer {
	d := &fakeDialer{
		calls: make(chan dialCall, 16),
		conns: make(chan *fakeConn, 16),
	}
	d.dialFn = d.hang
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, u string, _ http.Header) (domain.Conn, error) {
	d.calls <- dialCall{ctx: ctx, url: u}
	return d.dialFn(ctx)
}

// hang never completes the handshake on its own.
func (d *fakeDialer) hang(ctx context.Context) (domain.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *fakeDialer) open(context.Context) (domain.Conn, error) {
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) refuse(context.Context) (domain.Conn, error) {
	return nil, errors.New("connection refused")
}

// openLate completes the handshake only after the attempt was abandoned.
func (d *fakeDialer) openLate(ctx context.Context) (domain.Conn, error) {
	<-ctx.Done()
	return d.open(ctx)
}

type fakeIdentity struct {
	mu      sync.Mutex
	session domain.Session
	ok      bool
}

func (f *fakeIdentity) CurrentIdentity() (domain.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.ok
}

func (f *fakeIdentity) set(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = domain.Session{Token: token, ID: "u-1", Name: "alice"}
	f.ok = token != ""
}

type recordingListener struct {
	mu     sync.Mutex
	opened int
	closed int
	failed []error
}

func (l *recordingListener) OnOpen(domain.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened++
}

func (l *recordingListener) OnClosed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
}

func (l *recordingListener) OnFailed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, err)
}

func (l *recordingListener) counts() (opened, closed, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened, l.closed, len(l.failed)
}

type harness struct {
	clock    *clockwork.FakeClock
	dialer   *fakeDialer
	identity *fakeIdentity
	listener *recordingListener
	metrics  *metrics.ConnectionMetrics
	manager  *Manager

	mu          sync.Mutex
	transitions []domain.ConnectionState
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		clock:    clockwork.NewFakeClock(),
		dialer:   newFakeDialer(),
		identity: &fakeIdentity{},
		listener: &recordingListener{},
		metrics:  metrics.NewConnectionMetrics(prometheus.NewRegistry()),
	}
	h.identity.set("tok-1")

	all := append([]Option{
		WithClock(h.clock),
		WithListener(h.listener),
		WithMetrics(h.metrics),
		WithURL("ws://game.example/ws"),
		WithStateHook(func(_, to domain.ConnectionState) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.transitions = append(h.transitions, to)
		}),
	}, opts...)

	h.manager = NewManager(h.identity, h.dialer, all...)
	t.Cleanup(h.manager.Close)
	return h
}

func (h *harness) states() []domain.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.ConnectionState(nil), h.transitions...)
}

func (h *harness) waitState(t *testing.T, want domain.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.manager.State() == want }, waitFor, pollEvery,
		"state never became %s, stuck at %s", want, h.manager.State())
}

func (h *harness) expectDial(t *testing.T) dialCall {
	t.Helper()
	select {
	case call := <-h.dialer.calls:
		return call
	case <-time.After(waitFor):
		t.Fatal("expected a dial")
		return dialCall{}
	}
}

func (h *harness) expectNoDial(t *testing.T) {
	t.Helper()
	select {
	case call := <-h.dialer.calls:
		t.Fatalf("unexpected dial to %s", call.url)
	case <-time.After(quietSpell):
	}
}

func (h *harness) expectConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-h.dialer.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("expected an opened socket")
		return nil
	}
}

func (h *harness) attempts(outcome string) float64 {
	return testutil.ToFloat64(h.metrics.AttemptsTotal.WithLabelValues(outcome))
}

// --- tests ---

func TestManager_StartsIdle(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, domain.StateIdle, h.manager.State())
	assert.Equal(t, Status{State: domain.StateIdle}, h.manager.Status())
	_, ok := h.manager.CurrentSocket()
	assert.False(t, ok)
}

func TestManager_OpensWithTokenInURL(t *testing.T) {
	h := newHarness(t, WithURL("wss://game.example/ws?room=lobby"))
	h.dialer.dialFn = h.dialer.open

	h.manager.Start()
	call := h.expectDial(t)
	h.waitState(t, domain.StateOpen)

	u, err := url.Parse(call.url)
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "game.example", u.Host)
	assert.Equal(t, "/ws", u.Path)
	assert.Equal(t, "tok-1", u.Query().Get("token"))
	assert.Equal(t, "lobby", u.Query().Get("room"))

	sock, ok := h.manager.CurrentSocket()
	require.True(t, ok)
	assert.Same(t, h.expectConn(t), sock)

	assert.Equal(t, Status{State: domain.StateOpen}, h.manager.Status())
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting, domain.StateOpen}, h.states())
	assert.InDelta(t, 1, h.attempts(metrics.OutcomeOpened), 0)

	opened, _, _ := h.listener.counts()
	assert.Equal(t, 1, opened)
}

func TestManager_DialCarriesAttemptCorrelation(t *testing.T) {
	h := newHarness(t)

	h.manager.Start()
	call := h.expectDial(t)

	id, ok := correlation.AttemptID(call.ctx)
	require.True(t, ok)
	assert.NotEmpty(t, id)
	n, ok := correlation.AttemptNumber(call.ctx)
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)

	h.manager.Start()
	h.expectDial(t)
	assert.Equal(t, 1, h.manager.Status().PendingTimers, "watchdog armed")

	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		h.clock.Advance(defaultConnectTimeout)
		h.waitState(t, domain.StateRetrying)

		st := h.manager.Status()
		assert.Equal(t, i+1, st.Attempts)
		assert.Equal(t, 1, st.PendingTimers, "only the backoff timer is armed")

		h.clock.Advance(delay - time.Millisecond)
		h.expectNoDial(t)

		h.clock.Advance(time.Millisecond)
		call := h.expectDial(t)
		n, _ := correlation.AttemptNumber(call.ctx)
		assert.Equal(t, i+2, n)
	}

	h.clock.Advance(defaultConnectTimeout)
	h.waitState(t, domain.StateFailed)

	assert.Equal(t, Status{State: domain.StateFailed, Attempts: 5}, h.manager.Status())
	assert.InDelta(t, 5, h.attempts(metrics.OutcomeTimeout), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.RetriesExhaustedTotal), 0)

	require.Eventually(t, func() bool {
		_, _, failed := h.listener.counts()
		return failed == 1
	}, waitFor, pollEvery)
	h.listener.mu.Lock()
	failure := h.listener.failed[0]
	h.listener.mu.Unlock()
	require.ErrorIs(t, failure, domain.ErrRetriesExhausted)
	require.ErrorIs(t, failure, domain.ErrTransientTransport)

	// Failed is terminal until an explicit Start.
	h.clock.Advance(time.Hour)
	h.expectNoDial(t)
	assert.Equal(t, domain.StateFailed, h.manager.State())

	h.manager.Start()
	call := h.expectDial(t)
	n, _ := correlation.AttemptNumber(call.ctx)
	assert.Equal(t, 1, n, "Start resets the attempt counter")
	assert.Equal(t, 0, h.manager.Status().Attempts)
}

func TestManager_DialErrorsRetryWithBackoff(t *testing.T) {
	h := newHarness(t, WithPolicy(Policy{MaxAttempts: 2, ConnectTimeout: time.Second, Backoff: DefaultPolicy().Backoff}))
	h.dialer.dialFn = h.dialer.refuse

	h.manager.Start()
	h.expectDial(t)
	h.waitState(t, domain.StateRetrying)
	assert.Equal(t, 1, h.manager.Status().Attempts)

	h.clock.Advance(time.Second)
	h.expectDial(t)
	h.waitState(t, domain.StateFailed)

	assert.InDelta(t, 2, h.attempts(metrics.OutcomeFailed), 0)
	assert.Equal(t, 0, h.manager.Status().PendingTimers)
}

func TestManager_OpenResetsAttemptCounter(t *testing.T) {
	h := newHarness(t)

	h.manager.Start()
	h.expectDial(t)
	h.clock.Advance(defaultConnectTimeout)
	h.waitState(t, domain.StateRetrying)

	h.dialer.dialFn = h.dialer.open
	h.clock.Advance(time.Second)
	h.expectDial(t)
	h.waitState(t, domain.StateOpen)
	assert.Equal(t, 0, h.manager.Status().Attempts)

	// A drop after an open restarts the ladder at the first delay.
	h.expectConn(t).drop()
	h.waitState(t, domain.StateRetrying)
	assert.Equal(t, 1, h.manager.Status().Attempts)

	h.clock.Advance(time.Second - time.Millisecond)
	h.expectNoDial(t)
	h.clock.Advance(time.Millisecond)
	h.expectDial(t)
	h.waitState(t, domain.StateOpen)

	_, closed, _ := h.listener.counts()
	assert.Equal(t, 1, closed)
}

func TestManager_StopDuringBackoff(t *testing.T) {
	h := newHarness(t)

	h.manager.Start()
	h.expectDial(t)
	h.clock.Advance(defaultConnectTimeout)
	h.waitState(t, domain.StateRetrying)

	h.manager.Stop()

	assert.Equal(t, Status{State: domain.StateIdle}, h.manager.Status())
	h.clock.Advance(time.Hour)
	h.expectNoDial(t)
	assert.Equal(t, domain.StateIdle, h.manager.State())
}

func TestManager_StopWhileConnecting(t *testing.T) {
	h := newHarness(t)

	h.manager.Start()
	call := h.expectDial(t)

	h.manager.Stop()

	assert.Equal(t, Status{State: domain.StateIdle}, h.manager.Status())
	assert.ErrorIs(t, call.ctx.Err(), context.Canceled, "dial is cancelled")
	assert.InDelta(t, 1, h.attempts(metrics.OutcomeAborted), 0)

	h.clock.Advance(time.Hour)
	h.expectNoDial(t)
}

func TestManager_StopWhileOpen(t *testing.T) {
	h := newHarness(t)
	h.dialer.dialFn = h.dialer.open

	h.manager.Start()
	h.expectDial(t)
	h.waitState(t, domain.StateOpen)
	conn := h.expectConn(t)

	h.manager.Stop()

	assert.True(t, conn.isClosed())
	assert.Equal(t, Status{State: domain.StateIdle}, h.manager.Status())
	_, ok := h.manager.CurrentSocket()
	assert.False(t, ok)

	_, closed, failed := h.listener.counts()
	assert.Equal(t, 1, closed)
	assert.Equal(t, 0, failed)

	// The read loop's close report arrives after Stop and must be ignored.
	h.expectNoDial(t)
	assert.Equal(t, domain.StateIdle, h.manager.State())
}

func TestManager_StopThenStartBeginsFresh(t *testing.T) {
	h := newHarness(t)

	h.manager.Start()
	h.expectDial(t)
	h.clock.Advance(defaultConnectTimeout)
	h.waitState(t, domain.StateRetrying)

	h.manager.Stop()
	h.manager.Start()

	call := h.expectDial(t)
	n, _ := correlation.AttemptNumber(call.ctx)
	assert.Equal(t, 1, n)

	// The backoff armed before Stop must not cause a second dial.
	h.clock.Advance(time.Second)
	h.expectNoDial(t)
}

func TestManager_IdentityLostDuringBackoff(t *testing.T) {
	h := newHarness(t)
	h.dialer.dialFn = h.dialer.open

	h.manager.Start()
	h.expectDial(t)
	h.waitState(t, domain.StateOpen)

	h.identity.set("")
	h.expectConn(t).drop()
	h.waitState(t, domain.StateRetrying)

	h.clock.Advance(time.Second)
	h.waitState(t, domain.StateIdle)
	h.expectNoDial(t)
	assert.Equal(t, Status{State: domain.StateIdle}, h.manager.Status())
}

func TestManager_StartWithoutIdentityStaysIdle(t *testing.T) {
	h := newHarness(t)
	h.identity.set("")

	h.manager.Start()

	h.expectNoDial(t)
	assert.Equal(t, domain.StateIdle, h.manager.State())
	assert.Empty(t, h.states())
}

func TestManager_StartIsNoopWhileActive(t *testing.T) {
	h := newHarness(t)

	h.manager.Start()
	h.expectDial(t)
	h.manager.Start()
	h.expectNoDial(t)
	assert.Equal(t, domain.StateConnecting, h.manager.State())

	h.clock.Advance(defaultConnectTimeout)
	h.waitState(t, domain.StateRetrying)
	h.manager.Start()
	assert.Equal(t, 1, h.manager.Status().Attempts, "Start during backoff keeps the counter")
	h.expectNoDial(t)
}

func TestManager_StartIsNoopWhileOpen(t *testing.T) {
	h := newHarness(t)
	h.dialer.dialFn = h.dialer.open

	h.manager.Start()
	h.expectDial(t)
	h.waitState(t, domain.StateOpen)

	h.manager.Start()
	h.expectNoDial(t)
	assert.Equal(t, domain.StateOpen, h.manager.State())
}

func TestManager_LateOpenIsClosed(t *testing.T) {
	h := newHarness(t)
	h.dialer.dialFn = h.dialer.openLate

	h.manager.Start()
	h.expectDial(t)
	h.clock.Advance(defaultConnectTimeout)

	late := h.expectConn(t)
	require.Eventually(t, late.isClosed, waitFor, pollEvery)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.LateOpensTotal) == 1
	}, waitFor, pollEvery)

	assert.Equal(t, domain.StateRetrying, h.manager.State())
	_, ok := h.manager.CurrentSocket()
	assert.False(t, ok)
	opened, _, _ := h.listener.counts()
	assert.Equal(t, 0, opened)
}

func TestManager_DuplicateCloseCountsOnce(t *testing.T) {
	h := newHarness(t)
	h.dialer.dialFn = h.dialer.open

	h.manager.Start()
	call := h.expectDial(t)
	h.waitState(t, domain.StateOpen)
	id, ok := correlation.AttemptID(call.ctx)
	require.True(t, ok)

	h.expectConn(t).drop()
	h.waitState(t, domain.StateRetrying)

	// Late reports for the settled attempt.
	h.manager.post(socketClosed{attemptID: id, err: io.EOF})
	h.manager.post(dialResult{attemptID: id, err: errors.New("broken pipe")})
	h.manager.post(watchdogFired{attemptID: id})

	st := h.manager.Status()
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, domain.StateRetrying, st.State)
	assert.Equal(t, 1, st.PendingTimers)

	_, closed, _ := h.listener.counts()
	assert.Equal(t, 1, closed)
}

func TestManager_DeliversInboundFrames(t *testing.T) {
	frames := make(chan string, 4)
	h := newHarness(t, WithMessageHandler(func(messageType int, data []byte) {
		assert.Equal(t, websocket.TextMessage, messageType)
		frames <- string(data)
	}))
	h.dialer.dialFn = h.dialer.open

	h.manager.Start()
	h.expectDial(t)
	h.waitState(t, domain.StateOpen)

	conn := h.expectConn(t)
	conn.inbound <- []byte(`{"type":"hello"}`)

	select {
	case got := <-frames:
		assert.JSONEq(t, `{"type":"hello"}`, got)
	case <-time.After(waitFor):
		t.Fatal("frame was not delivered")
	}
}

func TestManager_SocketWritesGoThroughCurrentSocket(t *testing.T) {
	h := newHarness(t)
	h.dialer.dialFn = h.dialer.open

	h.manager.Start()
	h.expectDial(t)
	h.waitState(t, domain.StateOpen)
	conn := h.expectConn(t)

	sock, ok := h.manager.CurrentSocket()
	require.True(t, ok)
	require.NoError(t, sock.WriteMessage(websocket.TextMessage, []byte("ping")))

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, [][]byte{[]byte("ping")}, conn.writes)
}

func TestManager_InvalidURLFails(t *testing.T) {
	h := newHarness(t, WithURL("ws://bad host/%zz"))

	h.manager.Start()

	h.waitState(t, domain.StateFailed)
	h.expectNoDial(t)
	_, _, failed := h.listener.counts()
	assert.Equal(t, 1, failed)
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t)
	h.dialer.dialFn = h.dialer.open

	h.manager.Start()
	h.expectDial(t)
	h.waitState(t, domain.StateOpen)
	conn := h.expectConn(t)

	h.manager.Close()
	h.manager.Close()

	assert.True(t, conn.isClosed())
	assert.Equal(t, domain.StateIdle, h.manager.State())

	assert.NotPanics(t, func() {
		h.manager.Start()
		h.manager.Stop()
	})
	h.expectNoDial(t)
	assert.Equal(t, Status{State: domain.StateIdle}, h.manager.Status())
}

func TestPolicy_Normalized(t *testing.T) {
	p := Policy{}.normalized()
	assert.Equal(t, defaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, defaultConnectTimeout, p.ConnectTimeout)

	custom := Policy{MaxAttempts: 2, ConnectTimeout: time.Second}.normalized()
	assert.Equal(t, 2, custom.MaxAttempts)
	assert.Equal(t, time.Second, custom.ConnectTimeout)
}
