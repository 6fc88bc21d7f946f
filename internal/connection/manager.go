package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulselink/internal/adapter/metrics"
	"github.com/pscheid92/pulselink/internal/domain"
	"github.com/pscheid92/pulselink/internal/platform/correlation"
)

const (
	defaultURL      = "ws://localhost:8080"
	eventBufferSize = 64
)

// Dialer opens the underlying socket. Dial must return promptly once ctx is
// cancelled.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (domain.Conn, error)
}

// MessageHandler receives inbound frames of the open socket. Frames are
// opaque to the manager.
type MessageHandler func(messageType int, data []byte)

// Status is a point-in-time view of the manager.
type Status struct {
	State domain.ConnectionState
	// Attempts counts consecutive failed attempts since the last open.
	Attempts int
	// PendingTimers is the number of armed watchdog and backoff timers.
	PendingTimers int
}

type Option func(*Manager)

func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p.normalized() }
}

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithURL sets the WebSocket endpoint. The session token is added as the
// "token" query parameter on every attempt.
func WithURL(u string) Option {
	return func(m *Manager) { m.url = u }
}

func WithListener(l domain.ConnectionListener) Option {
	return func(m *Manager) { m.listener = l }
}

func WithMessageHandler(h MessageHandler) Option {
	return func(m *Manager) { m.onMessage = h }
}

func WithMetrics(cm *metrics.ConnectionMetrics) Option {
	return func(m *Manager) { m.metrics = cm }
}

// WithStateHook observes every state transition. Like the listener it runs
// on the manager's goroutine and must not block.
func WithStateHook(fn func(from, to domain.ConnectionState)) Option {
	return func(m *Manager) { m.onState = fn }
}

// Manager maintains a single authenticated connection, reconnecting with
// capped exponential backoff until MaxAttempts consecutive attempts failed.
type Manager struct {
	identity  domain.IdentityProvider
	dialer    Dialer
	url       string
	policy    Policy
	clock     clockwork.Clock
	listener  domain.ConnectionListener
	onMessage MessageHandler
	onState   func(from, to domain.ConnectionState)
	metrics   *metrics.ConnectionMetrics

	events    chan event
	done      chan struct{}
	closeOnce sync.Once

	// Published copies for lock-protected reads from other goroutines.
	mu        sync.RWMutex
	published domain.ConnectionState
	live      domain.Conn

	// Owned by the run goroutine.
	state    domain.ConnectionState
	running  bool
	epoch    uint64
	attempts int
	current  *attempt
	backoff  clockwork.Timer
}

// NewManager creates a manager in the idle state and starts its event loop.
// Call Close to stop the loop.
func NewManager(identity domain.IdentityProvider, dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		identity: identity,
		dialer:   dialer,
		url:      defaultURL,
		policy:   DefaultPolicy(),
		clock:    clockwork.NewRealClock(),
		listener: domain.ListenerFuncs{},
		events:   make(chan event, eventBufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m
}

// Start begins connecting if the manager is idle or failed and an identity is
// available. It resets the attempt counter. It is a no-op while connecting,
// open or waiting to retry.
func (m *Manager) Start() {
	reply := make(chan struct{})
	m.call(startCmd{reply: reply}, reply)
}

// Stop cancels any attempt in flight, stops all timers, closes the socket
// and returns to idle. When Stop returns nothing is left running; timer or
// socket events that were already queued are ignored.
func (m *Manager) Stop() {
	reply := make(chan struct{})
	m.call(stopCmd{reply: reply}, reply)
}

// Close stops the manager and terminates its event loop. Further calls to
// any method are no-ops.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		reply := make(chan struct{})
		m.call(shutdownCmd{reply: reply}, reply)
		<-m.done
	})
}

// CurrentSocket returns the open socket. The handle is only valid until the
// connection closes; callers must not keep it across state changes.
func (m *Manager) CurrentSocket() (domain.Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live, m.live != nil
}

func (m *Manager) State() domain.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.published
}

// Status queries the event loop. After Close it reports the idle state.
func (m *Manager) Status() Status {
	reply := make(chan Status, 1)
	select {
	case m.events <- statusQuery{reply: reply}:
	case <-m.done:
		return Status{State: domain.StateIdle}
	}
	select {
	case s := <-reply:
		return s
	case <-m.done:
		return Status{State: domain.StateIdle}
	}
}

func (m *Manager) call(ev event, reply chan struct{}) {
	select {
	case m.events <- ev:
	case <-m.done:
		return
	}
	select {
	case <-reply:
	case <-m.done:
	}
}

// post delivers an event from a helper goroutine or timer. It reports false
// once the event loop has exited.
func (m *Manager) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) run() {
	defer close(m.done)

	for ev := range m.events {
		switch e := ev.(type) {
		case startCmd:
			m.handleStart()
			close(e.reply)
		case stopCmd:
			m.handleStop()
			close(e.reply)
		case shutdownCmd:
			m.handleStop()
			close(e.reply)
			return
		case statusQuery:
			e.reply <- m.status()
		case dialResult:
			m.handleDialResult(e)
		case socketClosed:
			m.handleSocketClosed(e)
		case watchdogFired:
			m.handleWatchdog(e)
		case backoffElapsed:
			m.handleBackoffElapsed(e)
		default:
			slog.Warn("Connection manager received unknown event", "event_type", fmt.Sprintf("%T", ev))
		}
	}
}

func (m *Manager) handleStart() {
	switch m.state {
	case domain.StateConnecting, domain.StateOpen, domain.StateRetrying:
		slog.Debug("Start ignored, connection already active", "state", m.state.String())
		return
	}

	m.running = true
	m.epoch++
	m.attempts = 0
	m.connect()
}

func (m *Manager) handleStop() {
	m.running = false
	m.epoch++

	if m.backoff != nil {
		m.backoff.Stop()
		m.backoff = nil
	}

	if a := m.current; a != nil {
		a.settled = true
		wasOpen := a.open()
		a.release()
		m.current = nil
		if wasOpen {
			m.publish(nil)
			m.listener.OnClosed()
		} else {
			m.metrics.Attempt(metrics.OutcomeAborted)
		}
	}

	m.attempts = 0
	m.setState(domain.StateIdle)
}

// connect begins a new attempt with the identity as it is right now.
func (m *Manager) connect() {
	session, ok := m.identity.CurrentIdentity()
	if !ok || !session.Valid() {
		slog.Info("No identity available, connection stays idle", "error", domain.ErrIdentityUnavailable)
		m.running = false
		m.attempts = 0
		m.setState(domain.StateIdle)
		return
	}

	target, err := m.endpoint(session.Token)
	if err != nil {
		// A malformed endpoint never heals by retrying.
		slog.Error("Invalid connection endpoint", "url", m.url, "error", err)
		m.running = false
		m.setState(domain.StateFailed)
		m.listener.OnFailed(err)
		return
	}

	id := correlation.NewID()
	number := m.attempts + 1
	ctx, cancel := context.WithCancel(context.Background())
	ctx = correlation.WithAttempt(ctx, id, number)

	a := &attempt{id: id, number: number, ctx: ctx, cancel: cancel}
	a.timer = m.clock.AfterFunc(m.policy.ConnectTimeout, func() {
		m.post(watchdogFired{attemptID: id})
	})
	m.current = a

	slog.DebugContext(ctx, "Connecting", "max_attempts", m.policy.MaxAttempts, "timeout", m.policy.ConnectTimeout)
	m.setState(domain.StateConnecting)

	go m.dial(a, target)
}

func (m *Manager) dial(a *attempt, target string) {
	conn, err := m.dialer.Dial(a.ctx, target, nil)
	if !m.post(dialResult{attemptID: a.id, conn: conn, err: err}) && conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) readLoop(a *attempt) {
	for {
		messageType, data, err := a.conn.ReadMessage()
		if err != nil {
			m.post(socketClosed{attemptID: a.id, err: err})
			return
		}
		if m.onMessage != nil {
			m.onMessage(messageType, data)
		}
	}
}

func (m *Manager) handleDialResult(e dialResult) {
	a := m.current
	if a == nil || a.id != e.attemptID || a.settled {
		if e.conn != nil {
			// The attempt was abandoned (watchdog or Stop) before the
			// handshake finished. Never adopt the socket.
			slog.Warn("Discarding socket that opened after its attempt ended", "attempt_id", e.attemptID)
			m.metrics.LateOpen()
			_ = e.conn.Close()
		}
		return
	}

	if e.err != nil {
		slog.WarnContext(a.ctx, "Connection attempt failed", "error", e.err)
		m.settle(a, metrics.OutcomeFailed, fmt.Errorf("%w: %w", domain.ErrTransientTransport, e.err))
		return
	}

	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.conn = e.conn
	m.attempts = 0
	m.metrics.Attempt(metrics.OutcomeOpened)
	m.publish(e.conn)
	slog.InfoContext(a.ctx, "Connection open")
	m.setState(domain.StateOpen)
	m.listener.OnOpen(e.conn)

	go m.readLoop(a)
}

func (m *Manager) handleSocketClosed(e socketClosed) {
	a := m.current
	if a == nil || a.id != e.attemptID {
		return
	}
	slog.InfoContext(a.ctx, "Connection closed", "error", e.err)
	m.settle(a, metrics.OutcomeFailed, fmt.Errorf("%w: %w", domain.ErrTransientTransport, e.err))
}

func (m *Manager) handleWatchdog(e watchdogFired) {
	a := m.current
	if a == nil || a.id != e.attemptID || a.open() {
		return
	}
	a.timer = nil
	slog.WarnContext(a.ctx, "Connection attempt timed out", "timeout", m.policy.ConnectTimeout)
	m.settle(a, metrics.OutcomeTimeout, fmt.Errorf("%w: no open within %v", domain.ErrTransientTransport, m.policy.ConnectTimeout))
}

func (m *Manager) handleBackoffElapsed(e backoffElapsed) {
	if !m.running || e.epoch != m.epoch || m.state != domain.StateRetrying {
		return
	}
	m.backoff = nil
	m.connect()
}

// settle ends attempt a after a failure or close. Only the first call for an
// attempt has any effect, so an error followed by a close, or a close racing
// the watchdog, counts as one failure.
func (m *Manager) settle(a *attempt, outcome string, cause error) {
	if a.settled {
		return
	}
	a.settled = true

	wasOpen := a.open()
	a.release()
	m.current = nil
	if wasOpen {
		m.publish(nil)
		m.listener.OnClosed()
	} else {
		m.metrics.Attempt(outcome)
	}

	m.attempts++
	if m.attempts >= m.policy.MaxAttempts {
		m.running = false
		m.metrics.RetriesExhausted()
		err := fmt.Errorf("%w: gave up after %d attempts: %w", domain.ErrRetriesExhausted, m.attempts, cause)
		slog.Error("Connection failed permanently", "attempts", m.attempts, "error", cause)
		m.setState(domain.StateFailed)
		m.listener.OnFailed(err)
		return
	}

	delay := m.policy.Backoff.Delay(m.attempts)
	epoch := m.epoch
	m.backoff = m.clock.AfterFunc(delay, func() {
		m.post(backoffElapsed{epoch: epoch})
	})
	slog.Info("Reconnecting after backoff", "attempt", m.attempts, "max_attempts", m.policy.MaxAttempts, "delay", delay)
	m.setState(domain.StateRetrying)
}

func (m *Manager) endpoint(token string) (string, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) setState(to domain.ConnectionState) {
	from := m.state
	if from == to {
		return
	}
	m.state = to

	m.mu.Lock()
	m.published = to
	m.mu.Unlock()

	m.metrics.SetState(to)
	slog.Debug("Connection state changed", "from", from.String(), "to", to.String())
	if m.onState != nil {
		m.onState(from, to)
	}
}

func (m *Manager) publish(conn domain.Conn) {
	m.mu.Lock()
	m.live = conn
	m.mu.Unlock()
}

func (m *Manager) status() Status {
	pending := 0
	if m.backoff != nil {
		pending++
	}
	if m.current != nil && m.current.timer != nil {
		pending++
	}
	return Status{State: m.state, Attempts: m.attempts, PendingTimers: pending}
}
