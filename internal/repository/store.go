package repository

import (
	"context"
	"database/sql"
)

// Store owns the database handle and runs units of work.  Services depend
// on RunTx rather than on *sql.DB directly so tests can substitute a
// runner that skips the database entirely.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store bound to the given database.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for repository constructors.
func (s *Store) DB() *sql.DB { return s.db }

// RunTx executes fn inside a transaction.  The transaction commits when fn
// returns nil and rolls back otherwise, including on panic.  Rollback after
// a failed commit is harmless, so the deferred rollback covers every exit
// path.
func (s *Store) RunTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
