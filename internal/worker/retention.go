package worker

import (
	"context"
	"log"
	"time"

	"github.com/showgrid/seat-reservation/internal/cache"
)

// OutboxPruner deletes published rows past the retention window.
// Satisfied by repository.CreatedStream and repository.ClosedStream.
type OutboxPruner interface {
	Name() string
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionConfig tunes outbox retention.
type RetentionConfig struct {
	Period  time.Duration // tick interval
	Window  time.Duration // published rows older than this are deleted
	LockTTL time.Duration // cluster lock TTL
}

// Retention trims published outbox rows once they age past the window.
// Unpublished rows are never deleted: a row the relay has not delivered
// stays put regardless of age.
type Retention struct {
	locks   Locker
	pruners []OutboxPruner
	cfg     RetentionConfig
}

// NewRetention builds a Retention job over the given streams.
func NewRetention(locks Locker, cfg RetentionConfig, pruners ...OutboxPruner) *Retention {
	return &Retention{locks: locks, pruners: pruners, cfg: cfg}
}

// Run ticks until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
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

// tick runs one lock-guarded pruning pass.
func (r *Retention) tick(ctx context.Context) {
	key := cache.KeyJobLock("outbox-retention")
	ok, err := r.locks.Acquire(ctx, key, r.cfg.LockTTL)
	if err != nil {
		log.Printf("retention: lock acquire failed: %v", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := r.locks.Release(ctx, key); err != nil {
			log.Printf("retention: lock release failed: %v", err)
		}
	}()

	cutoff := time.Now().UTC().Add(-r.cfg.Window)
	for _, p := range r.pruners {
		n, err := p.DeletePublishedBefore(ctx, cutoff)
		if err != nil {
			log.Printf("retention[%s]: delete failed: %v", p.Name(), err)
			continue
		}
		if n > 0 {
			log.Printf("retention[%s]: deleted %d published rows older than %s", p.Name(), n, cutoff.Format(time.RFC3339))
		}
	}
}
