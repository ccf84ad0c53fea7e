// Package repository implements data access for the reservation core on
// database/sql.  Repositories hold a *sql.DB; methods with a Tx suffix run
// inside a caller-supplied *sql.Tx so several writes can share one
// transaction.  All timestamps are stored and compared in UTC.
package repository

import "errors"

// ErrNotFound is returned when a lookup yields no rows.  Higher layers
// translate it into their own taxonomy (404 on the request path, a skipped
// candidate inside the sweeper).
var ErrNotFound = errors.New("not found")
