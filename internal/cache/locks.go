// Package cache holds the redis-backed lock and idempotency services.
// Expiry is enforced by redis TTLs; holders must treat their lock as
// advisory and time-bounded.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockService provides short-lived named locks with TTL. At any instant at
// most one holder exists per key.
type LockService struct {
	client *redis.Client
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
	})
}

func NewLockService(client *redis.Client) *LockService {
	return &LockService{client: client}
}

// releaseScript deletes the lock only when the caller still holds it, so a
// slow holder cannot release a lock that has already expired and been
// re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire installs (holder, now+ttl) iff no current holder exists.
func (l *LockService) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, "lock:"+key, holder, ttl).Result()
}

// Release deletes the lock iff the current holder matches. A mismatched
// holder is a no-op, not an error.
func (l *LockService) Release(ctx context.Context, key, holder string) error {
	return releaseScript.Run(ctx, l.client, []string{"lock:" + key}, holder).Err()
}

// Renew extends the TTL iff the caller still holds the lock.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (l *LockService) Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{"lock:" + key}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Holder returns the current holder of a lock, or "" when free.
func (l *LockService) Holder(ctx context.Context, key string) (string, error) {
	v, err := l.client.Get(ctx, "lock:"+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}
