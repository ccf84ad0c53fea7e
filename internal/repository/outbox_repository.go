package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/showgrid/seat-reservation/internal/model"
	"github.com/showgrid/seat-reservation/internal/queue"
)

// OutboxRepo persists the two domain event streams: reservation_created_outbox
// and reservation_closed_outbox.  Rows are inserted in the same transaction
// as the state change they describe, which is the entire point of the
// pattern — the event is durable iff the change is.  After commit the rows
// belong to the relay: it alone flips published and advances the retry
// bookkeeping, and retention alone deletes published rows past the window.
type OutboxRepo struct {
	db *sql.DB
}

// NewOutboxRepo returns an OutboxRepo bound to the given database.
func NewOutboxRepo(db *sql.DB) *OutboxRepo { return &OutboxRepo{db: db} }

// InsertCreatedTx appends a creation event within the caller's transaction.
func (r *OutboxRepo) InsertCreatedTx(ctx context.Context, tx *sql.Tx, e *model.CreatedOutboxEntry) error {
	const q = `INSERT INTO reservation_created_outbox
	           (reservation_id, session_id, seat_id, user_id, expires_at)
	           VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		e.ReservationID, e.SessionID, e.SeatID, e.UserID, mysqlTime(e.ExpiresAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// InsertClosedTx appends an expiration/cancellation event within the
// caller's transaction.
func (r *OutboxRepo) InsertClosedTx(ctx context.Context, tx *sql.Tx, e *model.ClosedOutboxEntry) error {
	const q = `INSERT INTO reservation_closed_outbox
	           (reservation_id, session_id, seat_id, seat_released, reason)
	           VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		e.ReservationID, e.SessionID, e.SeatID, e.SeatReleased, e.Reason)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// CreatedStream returns the relay-facing view of the creation stream.
func (r *OutboxRepo) CreatedStream() *CreatedStream { return &CreatedStream{db: r.db} }

// ClosedStream returns the relay-facing view of the closed stream.
func (r *OutboxRepo) ClosedStream() *ClosedStream { return &ClosedStream{db: r.db} }

// dueWhere selects rows eligible for a publish attempt: unpublished, below
// the retry ceiling, and either never retried or past their scheduled
// retry time.  Rows at or above the ceiling are poison and stay out of the
// result forever; they surface through out-of-band monitoring, not by
// blocking the pipeline.
const dueWhere = ` WHERE published = 0
	             AND retry_count < ?
	             AND (next_retry_at IS NULL OR next_retry_at <= UTC_TIMESTAMP())
	           ORDER BY created_at ASC
	           LIMIT ?`

// CreatedStream adapts the creation table to the relay's stream contract.
type CreatedStream struct {
	db *sql.DB
}

// Name identifies the stream in logs.
func (s *CreatedStream) Name() string { return "reservation_created_outbox" }

// Due returns up to limit publishable creation rows, oldest first.
func (s *CreatedStream) Due(ctx context.Context, limit, maxRetries int) ([]model.OutboxMessage, error) {
	const q = `SELECT id, reservation_id, session_id, seat_id, user_id, expires_at, retry_count
	           FROM reservation_created_outbox` + dueWhere
	rows, err := s.db.QueryContext(ctx, q, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []model.OutboxMessage
	for rows.Next() {
		var m model.OutboxMessage
		var ev queue.ReservationCreatedEvent
		if err := rows.Scan(&m.ID, &ev.ReservationID, &ev.SessionID, &ev.SeatID,
			&ev.UserID, &ev.ExpiresAt, &m.RetryCount); err != nil {
			return nil, err
		}
		m.EventType = queue.EventReservationCreated
		m.Payload = ev
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkPublished flips the row to published.  Published rows never match
// the Due predicate again.
func (s *CreatedStream) MarkPublished(ctx context.Context, id uint64) error {
	return markPublished(ctx, s.db, "reservation_created_outbox", id)
}

// Reschedule records a failed attempt and the time of the next one.
func (s *CreatedStream) Reschedule(ctx context.Context, id uint64, retryCount uint32, nextRetryAt time.Time) error {
	return reschedule(ctx, s.db, "reservation_created_outbox", id, retryCount, nextRetryAt)
}

// DeletePublishedBefore removes published rows created before cutoff and
// returns how many were deleted.  Unpublished rows are never touched, no
// matter how old.
func (s *CreatedStream) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deletePublishedBefore(ctx, s.db, "reservation_created_outbox", cutoff)
}

// ClosedStream adapts the expiration/cancellation table to the relay's
// stream contract.
type ClosedStream struct {
	db *sql.DB
}

// Name identifies the stream in logs.
func (s *ClosedStream) Name() string { return "reservation_closed_outbox" }

// Due returns up to limit publishable closed rows, oldest first.
func (s *ClosedStream) Due(ctx context.Context, limit, maxRetries int) ([]model.OutboxMessage, error) {
	const q = `SELECT id, reservation_id, session_id, seat_id, seat_released, reason, retry_count
	           FROM reservation_closed_outbox` + dueWhere
	rows, err := s.db.QueryContext(ctx, q, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []model.OutboxMessage
	for rows.Next() {
		var m model.OutboxMessage
		var ev queue.ReservationClosedEvent
		if err := rows.Scan(&m.ID, &ev.ReservationID, &ev.SessionID, &ev.SeatID,
			&ev.SeatReleased, &ev.Reason, &m.RetryCount); err != nil {
			return nil, err
		}
		m.EventType = queue.EventReservationClosed
		m.Payload = ev
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkPublished flips the row to published.
func (s *ClosedStream) MarkPublished(ctx context.Context, id uint64) error {
	return markPublished(ctx, s.db, "reservation_closed_outbox", id)
}

// Reschedule records a failed attempt and the time of the next one.
func (s *ClosedStream) Reschedule(ctx context.Context, id uint64, retryCount uint32, nextRetryAt time.Time) error {
	return reschedule(ctx, s.db, "reservation_closed_outbox", id, retryCount, nextRetryAt)
}

// DeletePublishedBefore removes published rows created before cutoff.
func (s *ClosedStream) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deletePublishedBefore(ctx, s.db, "reservation_closed_outbox", cutoff)
}

func markPublished(ctx context.Context, db *sql.DB, table string, id uint64) error {
	_, err := db.ExecContext(ctx, `UPDATE `+table+` SET published = 1 WHERE id = ?`, id)
	return err
}

func reschedule(ctx context.Context, db *sql.DB, table string, id uint64, retryCount uint32, nextRetryAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE `+table+` SET retry_count = ?, next_retry_at = ? WHERE id = ?`,
		retryCount, mysqlTime(nextRetryAt), id)
	return err
}

func deletePublishedBefore(ctx context.Context, db *sql.DB, table string, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE published = 1 AND created_at < ?`, mysqlTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
