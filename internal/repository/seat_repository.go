package repository // repository defines data access for seats

import (
	"context"
	"database/sql"
	"errors"

	"github.com/showgrid/seat-reservation/internal/model"
)

// SeatRepo is the seat ledger.  The only mutation it offers is the
// conditional transition: a single atomic UPDATE that moves a seat between
// availability states when — and only when — it is currently in the
// expected state and belongs to the expected session.  There is no
// read-then-write variant; the race window simply does not exist.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// TransitionTx atomically sets the seat's status to `to` iff its current
// status is `from` and it belongs to sessionID.  It returns whether the
// transition happened.  A false result is informational, not exceptional:
// callers that need to know why should follow up with GetTx and inspect
// the row.  The version column increments on every successful transition
// so lost updates remain detectable.
func (r *SeatRepo) TransitionTx(ctx context.Context, tx *sql.Tx, sessionID, seatID uint64, from, to string) (bool, error) {
	const q = `UPDATE seats
	           SET status = ?, version = version + 1, updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND session_id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, seatID, sessionID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetTx reads a seat inside the caller's transaction.  It exists for the
// diagnostic read after a failed transition; the success path never needs
// it.  Returns ErrNotFound when the seat does not exist.
func (r *SeatRepo) GetTx(ctx context.Context, tx *sql.Tx, seatID uint64) (*model.Seat, error) {
	const q = `SELECT id, session_id, label, status, version, created_at, updated_at
	           FROM seats WHERE id = ?`
	var s model.Seat
	err := tx.QueryRowContext(ctx, q, seatID).
		Scan(&s.ID, &s.SessionID, &s.Label, &s.Status, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// AvailableBySession returns the id and label of every AVAILABLE seat in a
// session, ordered by label for deterministic output.  This feeds the
// cached availability snapshot; it deliberately runs outside any
// transaction and takes no locks.
func (r *SeatRepo) AvailableBySession(ctx context.Context, sessionID uint64) ([]model.Seat, error) {
	const q = `SELECT id, session_id, label, status, version, created_at, updated_at
	           FROM seats
	           WHERE session_id = ? AND status = 'AVAILABLE'
	           ORDER BY label, id`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Label, &s.Status, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
