package model

import "time"

// Reservation states.  PENDING is the only non-terminal state; CONFIRMED,
// EXPIRED and CANCELLED are terminal and no transition leaves them.  The
// transitions themselves are owned by the system: clients never set a
// status directly.
const (
	ReservationPending   = "PENDING"
	ReservationConfirmed = "CONFIRMED"
	ReservationExpired   = "EXPIRED"
	ReservationCancelled = "CANCELLED"
)

// Reasons recorded on the closed-outbox stream when a reservation leaves
// PENDING without being confirmed.
const (
	CloseReasonExpired   = "expired"
	CloseReasonCancelled = "cancelled"
)

// Reservation is a single user's short-lived claim on a single seat of a
// session.  ExpiresAt is the domain-level timeout: a PENDING reservation
// whose ExpiresAt has passed is picked up by the sweeper and transitioned
// to EXPIRED independently of any request traffic.
type Reservation struct {
	ID        uint64    // reservations.id
	SessionID uint64    // reservations.session_id
	SeatID    uint64    // reservations.seat_id
	UserID    uint64    // reservations.user_id
	Status    string    // reservations.status
	ExpiresAt time.Time // reservations.expires_at
	CreatedAt time.Time // reservations.created_at
	UpdatedAt time.Time // reservations.updated_at
}
