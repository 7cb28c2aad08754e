package convo

import (
	"time"

	"github.com/jonboulle/clockwork"
	gocache "github.com/patrickmn/go-cache"
)

// janitorInterval is how often go-cache sweeps entries whose real-time
// expiration has passed.
const janitorInterval = 5 * time.Minute

type entry struct {
	draft    Draft
	deadline time.Time
}

// MemoryStore is an in-process Store. Expiry is decided against the injected
// clock; go-cache's own expiration only reclaims memory for abandoned owners.
type MemoryStore struct {
	clock clockwork.Clock
	cache *gocache.Cache
}

// NewMemoryStore returns a MemoryStore using clock for expiry decisions.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock: clock,
		cache: gocache.New(gocache.NoExpiration, janitorInterval),
	}
}

// Put stores d for owner until ttl elapses.
func (s *MemoryStore) Put(owner string, d Draft, ttl time.Duration) {
	now := s.clock.Now()
	d.Owner = owner
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	s.cache.Set(owner, entry{draft: d, deadline: now.Add(ttl)}, ttl)
}

// Get returns the live draft for owner. Expired drafts are evicted.
func (s *MemoryStore) Get(owner string) (Draft, bool) {
	v, ok := s.cache.Get(owner)
	if !ok {
		return Draft{}, false
	}
	e := v.(entry)
	if !s.clock.Now().Before(e.deadline) {
		s.cache.Delete(owner)
		return Draft{}, false
	}
	return e.draft, true
}

// Clear drops any draft for owner.
func (s *MemoryStore) Clear(owner string) {
	s.cache.Delete(owner)
}

// Len reports how many drafts are held, expired or not.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
