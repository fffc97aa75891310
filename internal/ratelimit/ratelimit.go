// Package ratelimit implements a per-key token bucket over a fixed 60 second
// window. State is in-process; the handler path takes one short mutex hold
// and never does I/O under the lock.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	remaining int
	resetAt   time.Time
}

// Limiter tracks one bucket per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

func New(perMinute int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   perMinute,
		window:  time.Minute,
		now:     time.Now,
	}
}

// Allow consumes one token for key. It reports whether the request may
// proceed, and when it may not, how long until the bucket refills.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{remaining: l.limit, resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}
	if b.remaining == 0 {
		return false, b.resetAt.Sub(now)
	}
	b.remaining--
	return true, 0
}

// Sweep drops expired buckets. Run it on a cadence so idle keys do not
// accumulate.
func (l *Limiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, key)
		}
	}
}
