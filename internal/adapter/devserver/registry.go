package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pulselink/internal/domain"
)

type registryEntry struct {
	session   domain.Session
	expiresAt time.Time
}

// Registry holds issued sessions by token. Entries expire after ttl unless
// extended by a refresh.
type Registry struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	byToken map[string]registryEntry
}

func NewRegistry(clock clockwork.Clock, ttl time.Duration) *Registry {
	return &Registry{
		clock:   clock,
		ttl:     ttl,
		byToken: make(map[string]registryEntry),
	}
}

func (r *Registry) Create(name string) domain.Session {
	s := domain.Session{
		Token: uuid.NewString(),
		ID:    uuid.NewString(),
		Name:  name,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byToken[s.Token] = registryEntry{session: s, expiresAt: r.clock.Now().Add(r.ttl)}
	return s
}

func (r *Registry) Lookup(token string) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live(token)
	return e.session, ok
}

// Extend renews the session's lifetime.
func (r *Registry) Extend(token string) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live(token)
	if !ok {
		return domain.Session{}, false
	}
	e.expiresAt = r.clock.Now().Add(r.ttl)
	r.byToken[token] = e
	return e.session, true
}

func (r *Registry) Revoke(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byToken[token]
	delete(r.byToken, token)
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

// live must be called with mu held. Expired entries are dropped lazily.
func (r *Registry) live(token string) (registryEntry, bool) {
	e, ok := r.byToken[token]
	if !ok {
		return registryEntry{}, false
	}
	if !r.clock.Now().Before(e.expiresAt) {
		delete(r.byToken, token)
		return registryEntry{}, false
	}
	return e, true
}
