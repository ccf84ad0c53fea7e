// Package worker holds the background jobs: the outbox relay, the
// expiration sweeper and outbox retention.  Each job is a ticker loop
// whose every tick first takes a cluster-wide lock, so across all
// replicas at most one instance of a job runs at a time.  Failing to get
// the lock is a skip, never an error.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/showgrid/seat-reservation/internal/cache"
	"github.com/showgrid/seat-reservation/internal/model"
)

// Locker is the cluster lock primitive.  Satisfied by lock.RedisLock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// OutboxStream is one relayable event stream.  Satisfied by
// repository.CreatedStream and repository.ClosedStream.
type OutboxStream interface {
	Name() string
	Due(ctx context.Context, limit, maxRetries int) ([]model.OutboxMessage, error)
	MarkPublished(ctx context.Context, id uint64) error
	Reschedule(ctx context.Context, id uint64, retryCount uint32, nextRetryAt time.Time) error
}

// EventPublisher sends one event to the broker.  Satisfied by
// queue.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	Period     time.Duration // tick interval
	Batch      int           // max rows per stream per tick
	LockTTL    time.Duration // cluster lock TTL
	Backoff    time.Duration // base delay after a failed publish
	BackoffMax time.Duration // ceiling of the backoff
	MaxRetries int           // attempts before a row is left as poison
}

// Relay drains the outbox tables into the broker.  A row is marked
// published only after the broker accepted it, so a crash between publish
// and mark means the row goes out again — at-least-once, which the
// consumer's dedup absorbs.  A failed publish reschedules only that row;
// the rest of the batch proceeds.
type Relay struct {
	locks   Locker
	streams []OutboxStream
	pub     EventPublisher
	cfg     RelayConfig
}

// NewRelay builds a Relay over the given streams.
func NewRelay(locks Locker, pub EventPublisher, cfg RelayConfig, streams ...OutboxStream) *Relay {
	return &Relay{locks: locks, streams: streams, pub: pub, cfg: cfg}
}

// Run ticks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick runs one lock-guarded relay pass over every stream.
func (r *Relay) tick(ctx context.Context) {
	key := cache.KeyJobLock("outbox-relay")
	ok, err := r.locks.Acquire(ctx, key, r.cfg.LockTTL)
	if err != nil {
		log.Printf("relay: lock acquire failed: %v", err)
		return
	}
	if !ok {
		return // another replica is relaying
	}
	defer func() {
		if err := r.locks.Release(ctx, key); err != nil {
			log.Printf("relay: lock release failed: %v", err)
		}
	}()

	for _, stream := range r.streams {
		r.drain(ctx, stream)
	}
}

// drain publishes one batch of due rows from a stream.
func (r *Relay) drain(ctx context.Context, stream OutboxStream) {
	msgs, err := stream.Due(ctx, r.cfg.Batch, r.cfg.MaxRetries)
	if err != nil {
		log.Printf("relay[%s]: load due rows failed: %v", stream.Name(), err)
		return
	}
	for _, m := range msgs {
		if err := r.pub.Publish(ctx, m.EventType, m.Payload); err != nil {
			retry := m.RetryCount + 1
			next := time.Now().UTC().Add(backoffDelay(r.cfg.Backoff, r.cfg.BackoffMax, m.RetryCount))
			log.Printf("relay[%s]: publish row %d failed (attempt %d): %v", stream.Name(), m.ID, retry, err)
			if err := stream.Reschedule(ctx, m.ID, retry, next); err != nil {
				log.Printf("relay[%s]: reschedule row %d failed: %v", stream.Name(), m.ID, err)
			}
			continue
		}
		if err := stream.MarkPublished(ctx, m.ID); err != nil {
			// the message is out; the duplicate on the next tick is
			// absorbed by the consumer's dedup marker
			log.Printf("relay[%s]: mark row %d published failed: %v", stream.Name(), m.ID, err)
		}
	}
}

// backoffDelay returns min(base << retryCount, max).  retryCount counts
// the failures so far: the first retry waits base, the second 2*base and
// so on.
func backoffDelay(base, max time.Duration, retryCount uint32) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retryCount >= 32 {
		return max
	}
	d := base << retryCount
	if d <= 0 || d > max {
		return max
	}
	return d
}
