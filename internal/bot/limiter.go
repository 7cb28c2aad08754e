package bot

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const limiterIdle = 30 * time.Minute

// senderLimiter hands out one token bucket per sender. Buckets of senders
// that went quiet expire from the cache.
type senderLimiter struct {
	perMinute int
	mu        sync.Mutex
	buckets   *cache.Cache
}

func newSenderLimiter(perMinute int) *senderLimiter {
	return &senderLimiter{
		perMinute: perMinute,
		buckets:   cache.New(limiterIdle, limiterIdle),
	}
}

// Allow reports whether owner may send another message now. A non-positive
// rate disables limiting.
func (l *senderLimiter) Allow(owner string) bool {
	if l.perMinute <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var lim *rate.Limiter
	if v, ok := l.buckets.Get(owner); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
	}
	l.buckets.Set(owner, lim, cache.DefaultExpiration)
	return lim.Allow()
}

// ownerLocks serialises work per owner.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*ownerLock)}
}

// Lock blocks until owner is free and returns the matching unlock.
func (o *ownerLocks) Lock(owner string) func() {
	o.mu.Lock()
	l, ok := o.locks[owner]
	if !ok {
		l = &ownerLock{}
		o.locks[owner] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, owner)
		}
		o.mu.Unlock()
	}
}
