package connection

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulselink/internal/domain"
)

// attempt is one connection attempt: a dial, its watchdog and, once open,
// the socket. It is never reused; release frees everything it holds.
type attempt struct {
	id      string
	number  int
	ctx     context.Context
	cancel  context.CancelFunc
	timer   clockwork.Timer
	conn    domain.Conn
	settled bool
}

func (a *attempt) open() bool {
	return a.conn != nil
}

func (a *attempt) release() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.cancel()
	if a.conn != nil {
		_ = a.conn.Close()
	}
}
