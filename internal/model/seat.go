package model

import "time"

// Seat availability states.  A seat carries at most one active claim at a
// time; RESERVED and SOLD are both active claims.  The ledger moves a seat
// between states only through the conditional transition in
// repository.SeatRepo, never by a plain write.
const (
	SeatAvailable = "AVAILABLE"
	SeatReserved  = "RESERVED"
	SeatSold      = "SOLD"
)

// Seat is one sellable seat inside a session.  Version increments on every
// status change; it is maintained by the conditional UPDATE itself and is
// never read by business logic — it exists so that lost updates are
// detectable when inspecting the table.
type Seat struct {
	ID        uint64    // seats.id
	SessionID uint64    // seats.session_id
	Label     string    // seats.label, e.g. "A12"
	Status    string    // seats.status
	Version   uint64    // seats.version
	CreatedAt time.Time // seats.created_at
	UpdatedAt time.Time // seats.updated_at
}
