package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/showgrid/seat-reservation/internal/model"
)

// SessionRepo reads the sessions this core validates reservations against.
// Session scheduling and CRUD are an external collaborator's concern; the
// core only needs the status and the seat count for the eligibility check.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo constructs a SessionRepo with the given DB handle.
func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// GetByID returns a session with its derived seat count.  Returns
// ErrNotFound when the session does not exist.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (*model.Session, error) {
	const q = `SELECT s.id, s.status,
	                  (SELECT COUNT(*) FROM seats WHERE session_id = s.id)
	           FROM sessions s WHERE s.id = ?`
	var sess model.Session
	err := r.db.QueryRowContext(ctx, q, id).Scan(&sess.ID, &sess.Status, &sess.SeatCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}
