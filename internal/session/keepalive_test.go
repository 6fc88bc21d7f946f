package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulselink/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	mu       sync.Mutex
	hasIdent bool
	calls    int
}

func (c *countingRefresher) CurrentIdentity() (domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Session{Token: "t"}, c.hasIdent
}

func (c *countingRefresher) Refresh(context.Context) (domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return domain.Session{Token: "t"}, true
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestKeepAlive_RefreshesPeriodically(t *testing.T) {
	r := &countingRefresher{hasIdent: true}
	k, err := NewKeepAlive(r, 20*time.Millisecond, clockwork.NewRealClock())
	require.NoError(t, err)

	k.Start()
	require.Eventually(t, func() bool { return r.count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, k.Stop())
	stopped := r.count()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, r.count(), "no refresh after Stop")
}

func TestKeepAlive_SkipsWithoutIdentity(t *testing.T) {
	r := &countingRefresher{}
	k, err := NewKeepAlive(r, 10*time.Millisecond, clockwork.NewRealClock())
	require.NoError(t, err)

	k.Start()
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, k.Stop())

	assert.Equal(t, 0, r.count())
}

func TestKeepAlive_InvalidInterval(t *testing.T) {
	_, err := NewKeepAlive(&countingRefresher{}, 0, clockwork.NewRealClock())
	require.Error(t, err)
}
