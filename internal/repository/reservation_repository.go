package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/showgrid/seat-reservation/internal/model"
)

// ReservationRepo provides persistence for reservations.  One row claims
// exactly one seat; a multi-seat request produces one row per seat inside
// a single transaction.  Status changes go through UpdateStatusTx, whose
// WHERE clause carries the expected current status so an illegal or raced
// transition simply affects zero rows.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// CreateTx inserts a new PENDING reservation within the scope of an
// existing transaction and populates the generated ID on the passed
// record.  The caller must commit or roll back the transaction.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations (session_id, seat_id, user_id, status, expires_at)
	           VALUES (?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q,
		res.SessionID, res.SeatID, res.UserID, res.Status, mysqlTime(res.ExpiresAt))
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// GetByID returns a reservation by id.  Returns ErrNotFound when no row
// exists.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	const q = `SELECT id, session_id, seat_id, user_id, status, expires_at, created_at, updated_at
	           FROM reservations WHERE id = ?`
	return scanReservation(r.db.QueryRowContext(ctx, q, id))
}

// GetForUpdateTx re-reads a reservation with a row lock inside the
// caller's transaction.  The sweeper and the user-facing transitions both
// go through this read so a concurrent cancel/confirm/expire on the same
// row serializes instead of racing.  Returns ErrNotFound when no row
// exists.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error) {
	const q = `SELECT id, session_id, seat_id, user_id, status, expires_at, created_at, updated_at
	           FROM reservations WHERE id = ? FOR UPDATE`
	return scanReservation(tx.QueryRowContext(ctx, q, id))
}

// UpdateStatusTx conditionally moves a reservation from one status to
// another, returning whether the transition happened.  Zero affected rows
// means the row was missing or no longer in the expected status; callers
// decide which by their preceding locked read.
func (r *ReservationRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, from, to string) (bool, error) {
	const q = `UPDATE reservations
	           SET status = ?, updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteTx removes a reservation row.  Used only by user cancellation of a
// PENDING reservation; expired reservations are kept as terminal rows.
func (r *ReservationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	return err
}

// ListExpiredPending returns up to limit ids of PENDING reservations whose
// expires_at is in the past, oldest first so worst-case staleness stays
// bounded.  The rows are not locked here: each candidate is re-read under
// FOR UPDATE in its own transaction before anything changes.
func (r *ReservationRepo) ListExpiredPending(ctx context.Context, limit int) ([]uint64, error) {
	const q = `SELECT id FROM reservations
	           WHERE status = 'PENDING' AND expires_at <= UTC_TIMESTAMP()
	           ORDER BY expires_at ASC
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListByUser returns all reservations of a user, newest first.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	const q = `SELECT id, session_id, seat_id, user_id, status, expires_at, created_at, updated_at
	           FROM reservations
	           WHERE user_id = ?
	           ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]model.Reservation, 0)
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(&res.ID, &res.SessionID, &res.SeatID, &res.UserID,
			&res.Status, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var res model.Reservation
	err := row.Scan(&res.ID, &res.SessionID, &res.SeatID, &res.UserID,
		&res.Status, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// mysqlTime formats t the way the DATETIME columns expect.
func mysqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
