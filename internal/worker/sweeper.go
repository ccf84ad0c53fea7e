package worker

import (
	"context"
	"log"
	"time"

	"github.com/showgrid/seat-reservation/internal/cache"
)

// Expirer is the sweeper's view of the reservation service: list the
// timed-out PENDING reservations and expire one.  Satisfied by
// service.ReservationService.
type Expirer interface {
	ListExpiredPending(ctx context.Context, limit int) ([]uint64, error)
	Expire(ctx context.Context, id uint64) error
}

// SweeperConfig tunes the expiration sweeper.
type SweeperConfig struct {
	Period  time.Duration // tick interval
	Batch   int           // max candidates per tick
	LockTTL time.Duration // cluster lock TTL
}

// Sweeper moves timed-out PENDING reservations to EXPIRED.  Each
// candidate is expired in its own transaction which re-checks the row
// under lock, so a reservation cancelled or confirmed between the listing
// and the expiry is simply skipped.  One candidate failing never stops
// the rest of the batch.
type Sweeper struct {
	locks   Locker
	expirer Expirer
	cfg     SweeperConfig
}

// NewSweeper builds a Sweeper.
func NewSweeper(locks Locker, expirer Expirer, cfg SweeperConfig) *Sweeper {
	return &Sweeper{locks: locks, expirer: expirer, cfg: cfg}
}

// Run ticks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one lock-guarded sweep.
func (s *Sweeper) tick(ctx context.Context) {
	key := cache.KeyJobLock("expiration-sweeper")
	ok, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
	if err != nil {
		log.Printf("sweeper: lock acquire failed: %v", err)
		return
	}
	if !ok {
		return // another replica is sweeping
	}
	defer func() {
		if err := s.locks.Release(ctx, key); err != nil {
			log.Printf("sweeper: lock release failed: %v", err)
		}
	}()

	ids, err := s.expirer.ListExpiredPending(ctx, s.cfg.Batch)
	if err != nil {
		log.Printf("sweeper: list expired reservations failed: %v", err)
		return
	}
	for _, id := range ids {
		if err := s.expirer.Expire(ctx, id); err != nil {
			log.Printf("sweeper: expire reservation %d failed: %v", id, err)
		}
	}
}
