package connection

import (
	"time"

	"github.com/pscheid92/pulselink/internal/platform/retry"
)

const (
	defaultMaxAttempts    = 5
	defaultConnectTimeout = 5 * time.Second
)

// Policy bounds the reconnect effort.
type Policy struct {
	// MaxAttempts is the number of consecutive failed attempts after which
	// the manager gives up and enters the failed state.
	MaxAttempts int
	// ConnectTimeout is how long one attempt may take to open.
	ConnectTimeout time.Duration
	// Backoff is the wait after the n-th consecutive failure.
	Backoff retry.Backoff
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    defaultMaxAttempts,
		ConnectTimeout: defaultConnectTimeout,
		Backoff:        retry.DefaultBackoff,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = defaultConnectTimeout
	}
	return p
}
