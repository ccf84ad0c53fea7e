// Package cache wraps Redis as a plain byte cache with TTLs.  It backs the
// idempotency response store, the derived seat-availability snapshot and
// the consumer-side dedup markers.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a thin byte-oriented cache over a Redis client.
type Redis struct {
	rdb *redis.Client
}

// NewRedis returns a cache bound to the given client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Get returns the value stored under key.  The second return value is
// false when the key does not exist; that is not an error.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores val under key for ttl.
func (c *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

// Delete removes key.  Deleting a missing key is a no-op.
func (c *Redis) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// SetIfAbsent stores val under key for ttl only when the key does not
// already exist, returning whether the write happened.  This is the
// create-if-absent step behind dedup markers.
func (c *Redis) SetIfAbsent(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, val, ttl).Result()
}
