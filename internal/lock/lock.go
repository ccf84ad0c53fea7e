// Package lock provides a cluster-wide mutual exclusion primitive backed by
// Redis.  A lock is a single key created with SETNX and a TTL: whoever
// creates the key holds the lock until it releases the key or the TTL
// expires.  Acquire never blocks and never retries — contention is an
// expected outcome that callers handle by skipping a job tick or polling
// for another request's result.
//
// Ownership is proven by a per-process token stored as the key's value.
// Release deletes the key only when the stored token matches, so a slow
// holder whose lock already expired cannot release a lock that a different
// process has since acquired.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.  The
// compare and the delete must be one atomic step or a concurrently
// expiring lock could be stolen from its new holder.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLock implements the lock primitive on a Redis client.  One instance
// is shared per process; the owner token identifies this process as the
// holder of every key it acquires.
type RedisLock struct {
	rdb   *redis.Client
	token string
}

// NewRedisLock returns a RedisLock with a fresh owner token.
func NewRedisLock(rdb *redis.Client) *RedisLock {
	return &RedisLock{rdb: rdb, token: uuid.NewString()}
}

// Acquire attempts to take the named lock for ttl.  It returns true when
// this process now holds the lock and false when a live holder exists.
// The ttl must exceed the expected duration of the guarded work: a crashed
// holder is healed only by TTL expiry, and callers must tolerate the
// resulting skipped tick.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, l.token, ttl).Result()
}

// Release frees the named lock if this process still holds it.  Releasing
// a lock that expired or that belongs to another holder is a no-op, not an
// error.
func (l *RedisLock) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, l.token).Err()
}
