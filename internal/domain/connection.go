package domain

// ConnectionState is the lifecycle state of the persistent connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateRetrying
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Conn is the live transport handle. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ConnectionListener receives fire-and-forget lifecycle notifications.
// Methods are called from the connection's event loop and must not block.
type ConnectionListener interface {
	OnOpen(conn Conn)
	OnClosed()
	OnFailed(err error)
}

// ListenerFuncs adapts plain functions to ConnectionListener. Nil fields are skipped.
type ListenerFuncs struct {
	Open   func(conn Conn)
	Closed func()
	Failed func(err error)
}

func (l ListenerFuncs) OnOpen(conn Conn) {
	if l.Open != nil {
		l.Open(conn)
	}
}

func (l ListenerFuncs) OnClosed() {
	if l.Closed != nil {
		l.Closed()
	}
}

func (l ListenerFuncs) OnFailed(err error) {
	if l.Failed != nil {
		l.Failed(err)
	}
}
