package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/showgrid/seat-reservation/internal/cache"
	"github.com/showgrid/seat-reservation/internal/model"
	"github.com/showgrid/seat-reservation/internal/repository"
)

// TxRunner executes a function inside one database transaction.  Satisfied
// by repository.Store.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// SeatLedger is the conditional-transition view of the seats table.
// Satisfied by repository.SeatRepo.
type SeatLedger interface {
	TransitionTx(ctx context.Context, tx *sql.Tx, sessionID, seatID uint64, from, to string) (bool, error)
	GetTx(ctx context.Context, tx *sql.Tx, seatID uint64) (*model.Seat, error)
	AvailableBySession(ctx context.Context, sessionID uint64) ([]model.Seat, error)
}

// ReservationStore persists reservation rows.  Satisfied by
// repository.ReservationRepo.
type ReservationStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, from, to string) (bool, error)
	DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error
	ListExpiredPending(ctx context.Context, limit int) ([]uint64, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Reservation, error)
}

// OutboxWriter appends rows to the two event streams inside the caller's
// transaction.  Satisfied by repository.OutboxRepo.
type OutboxWriter interface {
	InsertCreatedTx(ctx context.Context, tx *sql.Tx, e *model.CreatedOutboxEntry) error
	InsertClosedTx(ctx context.Context, tx *sql.Tx, e *model.ClosedOutboxEntry) error
}

// SessionDirectory looks up sessions.  Satisfied by repository.SessionRepo.
type SessionDirectory interface {
	GetByID(ctx context.Context, id uint64) (*model.Session, error)
}

// UserDirectory answers user existence.  Satisfied by repository.UserRepo.
type UserDirectory interface {
	Exists(ctx context.Context, id uint64) (bool, error)
}

// SnapshotCache stores the derived availability snapshot.  Satisfied by
// cache.Redis.  A nil cache disables snapshot caching.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Config carries the lifecycle tunables.
type Config struct {
	ReservationTTL  time.Duration // hold window granted to a new reservation
	MinSessionSeats int           // sessions smaller than this reject reservations
	SnapshotTTL     time.Duration // availability snapshot cache lifetime
}

// ReservationService drives the reservation state machine.  Every mutating
// operation runs inside exactly one transaction that bundles the seat
// ledger transition, the reservation row and the outbox row, so the three
// are durable together or not at all.
type ReservationService struct {
	runner       TxRunner
	seats        SeatLedger
	reservations ReservationStore
	outbox       OutboxWriter
	sessions     SessionDirectory
	users        UserDirectory
	snapshots    SnapshotCache
	cfg          Config
}

// NewReservationService wires the service.  snapshots may be nil when no
// cache is available; availability then always reads the ledger.
func NewReservationService(
	runner TxRunner,
	seats SeatLedger,
	reservations ReservationStore,
	outbox OutboxWriter,
	sessions SessionDirectory,
	users UserDirectory,
	snapshots SnapshotCache,
	cfg Config,
) *ReservationService {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 5 * time.Minute
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 30 * time.Second
	}
	return &ReservationService{
		runner:       runner,
		seats:        seats,
		reservations: reservations,
		outbox:       outbox,
		sessions:     sessions,
		users:        users,
		snapshots:    snapshots,
		cfg:          cfg,
	}
}

// Create reserves the requested seats for the user, all-or-nothing.  The
// session must be active and carry at least the configured minimum number
// of seats, and the user must exist — both checked before any seat is
// touched.  Seats are processed in ascending id order so concurrent
// requests acquire in a consistent order and cannot deadlock each other.
// Each successful seat CAS is followed, in the same transaction, by a
// PENDING reservation row and a creation outbox row; the first failing
// seat aborts the transaction, which also rolls back the seats claimed
// earlier in the loop.
func (s *ReservationService) Create(ctx context.Context, sessionID uint64, seatIDs []uint64, userID uint64) ([]model.Reservation, error) {
	ids := dedupeSorted(seatIDs)
	if len(ids) == 0 {
		return nil, ErrNoSeats
	}

	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.Status != model.SessionActive {
		return nil, ErrSessionNotActive
	}
	if int(sess.SeatCount) < s.cfg.MinSessionSeats {
		return nil, fmt.Errorf("%w: has %d, need %d", ErrSessionTooSmall, sess.SeatCount, s.cfg.MinSessionSeats)
	}
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	expiresAt := time.Now().UTC().Add(s.cfg.ReservationTTL)
	created := make([]model.Reservation, 0, len(ids))
	err = s.runner.RunTx(ctx, func(tx *sql.Tx) error {
		for _, seatID := range ids {
			ok, err := s.seats.TransitionTx(ctx, tx, sessionID, seatID, model.SeatAvailable, model.SeatReserved)
			if err != nil {
				return err
			}
			if !ok {
				return s.diagnoseSeat(ctx, tx, sessionID, seatID)
			}
			res := model.Reservation{
				SessionID: sessionID,
				SeatID:    seatID,
				UserID:    userID,
				Status:    model.ReservationPending,
				ExpiresAt: expiresAt,
			}
			if err := s.reservations.CreateTx(ctx, tx, &res); err != nil {
				return err
			}
			if err := s.outbox.InsertCreatedTx(ctx, tx, &model.CreatedOutboxEntry{
				ReservationID: res.ID,
				SessionID:     sessionID,
				SeatID:        seatID,
				UserID:        userID,
				ExpiresAt:     expiresAt,
			}); err != nil {
				return err
			}
			created = append(created, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// diagnoseSeat explains a failed seat transition.  The transition itself
// only reports that it did not happen; this secondary read, still inside
// the same transaction, classifies the reason for the caller.
func (s *ReservationService) diagnoseSeat(ctx context.Context, tx *sql.Tx, sessionID, seatID uint64) error {
	seat, err := s.seats.GetTx(ctx, tx, seatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("seat %d: %w", seatID, ErrSeatNotFound)
		}
		return err
	}
	if seat.SessionID != sessionID {
		return fmt.Errorf("seat %d: %w", seatID, ErrSeatWrongSession)
	}
	return fmt.Errorf("seat %d: %w", seatID, ErrSeatUnavailable)
}

// Cancel terminates the caller's own PENDING reservation.  The seat's
// RESERVED -> AVAILABLE transition is attempted but a false result is
// tolerated — the seat may have moved independently — and is recorded as
// seatReleased on the closed outbox row.  The reservation row itself is
// deleted; explicit user cancellation is the one path that removes rows.
func (s *ReservationService) Cancel(ctx context.Context, id, userID uint64) error {
	return s.runner.RunTx(ctx, func(tx *sql.Tx) error {
		res, err := s.reservations.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrReservationNotFound
			}
			return err
		}
		if res.UserID != userID {
			return ErrForbidden
		}
		if res.Status != model.ReservationPending {
			return ErrInvalidTransition
		}
		released, err := s.seats.TransitionTx(ctx, tx, res.SessionID, res.SeatID, model.SeatReserved, model.SeatAvailable)
		if err != nil {
			return err
		}
		if err := s.outbox.InsertClosedTx(ctx, tx, &model.ClosedOutboxEntry{
			ReservationID: res.ID,
			SessionID:     res.SessionID,
			SeatID:        res.SeatID,
			SeatReleased:  released,
			Reason:        model.CloseReasonCancelled,
		}); err != nil {
			return err
		}
		return s.reservations.DeleteTx(ctx, tx, id)
	})
}

// Expire transitions one timed-out reservation to EXPIRED.  It re-reads
// the row under a lock and silently skips when the reservation is gone or
// no longer PENDING — a concurrent cancel or confirm winning the race is
// expected, not an error.  The seat release is conditional like in Cancel
// and recorded the same way, with reason expired.
func (s *ReservationService) Expire(ctx context.Context, id uint64) error {
	return s.runner.RunTx(ctx, func(tx *sql.Tx) error {
		res, err := s.reservations.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil // already cancelled and deleted; nothing to do
			}
			return err
		}
		if res.Status != model.ReservationPending {
			return nil // another actor moved it first
		}
		ok, err := s.reservations.UpdateStatusTx(ctx, tx, id, model.ReservationPending, model.ReservationExpired)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		released, err := s.seats.TransitionTx(ctx, tx, res.SessionID, res.SeatID, model.SeatReserved, model.SeatAvailable)
		if err != nil {
			return err
		}
		return s.outbox.InsertClosedTx(ctx, tx, &model.ClosedOutboxEntry{
			ReservationID: res.ID,
			SessionID:     res.SessionID,
			SeatID:        res.SeatID,
			SeatReleased:  released,
			Reason:        model.CloseReasonExpired,
		})
	})
}

// Confirm finalizes a PENDING reservation into CONFIRMED and moves its
// seat RESERVED -> SOLD.  It belongs to the sale flow, not to customers:
// the handler layer gates it behind a system role.  Unlike Cancel, a
// failed seat transition here aborts the transaction — a PENDING
// reservation whose seat is not RESERVED is an invariant breach the sale
// must not paper over.
func (s *ReservationService) Confirm(ctx context.Context, id uint64) error {
	return s.runner.RunTx(ctx, func(tx *sql.Tx) error {
		res, err := s.reservations.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrReservationNotFound
			}
			return err
		}
		if res.Status != model.ReservationPending {
			return ErrInvalidTransition
		}
		ok, err := s.reservations.UpdateStatusTx(ctx, tx, id, model.ReservationPending, model.ReservationConfirmed)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}
		sold, err := s.seats.TransitionTx(ctx, tx, res.SessionID, res.SeatID, model.SeatReserved, model.SeatSold)
		if err != nil {
			return err
		}
		if !sold {
			return fmt.Errorf("seat %d: %w", res.SeatID, ErrSeatUnavailable)
		}
		return nil
	})
}

// Get returns a reservation visible to its owner.
func (s *ReservationService) Get(ctx context.Context, id, userID uint64) (*model.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	if res.UserID != userID {
		return nil, ErrForbidden
	}
	return res, nil
}

// ListMine returns all reservations of the calling user, newest first.
func (s *ReservationService) ListMine(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	return s.reservations.ListByUser(ctx, userID)
}

// ListExpiredPending exposes the sweeper's candidate query.
func (s *ReservationService) ListExpiredPending(ctx context.Context, limit int) ([]uint64, error) {
	return s.reservations.ListExpiredPending(ctx, limit)
}

// Availability is the derived, cached seat snapshot of a session.
type Availability struct {
	SessionID uint64   `json:"session_id"`
	Count     int      `json:"count"`
	SeatIDs   []uint64 `json:"seat_ids"`
}

// Availability returns the available seat count and ids for a session,
// served from the snapshot cache when possible.  Cache failures degrade
// to a direct ledger read; they never fail the request.
func (s *ReservationService) Availability(ctx context.Context, sessionID uint64) (*Availability, error) {
	key := cache.KeyAvailability(sessionID)
	if s.snapshots != nil {
		if b, ok, err := s.snapshots.Get(ctx, key); err == nil && ok {
			var snap Availability
			if err := json.Unmarshal(b, &snap); err == nil {
				return &snap, nil
			}
		}
	}
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	seats, err := s.seats.AvailableBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap := Availability{SessionID: sessionID, Count: len(seats), SeatIDs: make([]uint64, 0, len(seats))}
	for _, seat := range seats {
		snap.SeatIDs = append(snap.SeatIDs, seat.ID)
	}
	if s.snapshots != nil {
		if b, err := json.Marshal(snap); err == nil {
			if err := s.snapshots.Set(ctx, key, b, s.cfg.SnapshotTTL); err != nil {
				log.Printf("availability: snapshot cache write failed: %v", err)
			}
		}
	}
	return &snap, nil
}

// dedupeSorted returns the unique, ascending seat ids of the request.
// Sorting gives every concurrent creator the same acquisition order, which
// is what keeps cross-request deadlock cycles impossible.
func dedupeSorted(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
