// Package queue defines message payloads exchanged over the message broker
// and the publisher/consumer that move them.  Queue names double as event
// types: messages go to the default exchange with the queue name as the
// routing key.
package queue

import "time"

// Event types carried on the bus.  The creation stream announces a new
// PENDING reservation; the closed stream announces that a reservation left
// PENDING without being confirmed (expiry or user cancellation).
const (
	EventReservationCreated = "reservation.created"
	EventReservationClosed  = "reservation.closed"
)

// ReservationCreatedEvent is published for every seat claimed by a new
// reservation.  The schema is stable: downstream consumers log, audit and
// invalidate derived caches from it without querying the primary database.
type ReservationCreatedEvent struct {
	ReservationID uint64    `json:"reservation_id"`
	SessionID     uint64    `json:"session_id"`
	SeatID        uint64    `json:"seat_id"`
	UserID        uint64    `json:"user_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ReservationClosedEvent is published when a reservation expires or is
// cancelled.  SeatReleased tells consumers whether the closing transaction
// actually returned the seat to AVAILABLE; Reason is one of the
// model.CloseReason constants.
type ReservationClosedEvent struct {
	ReservationID uint64 `json:"reservation_id"`
	SeatID        uint64 `json:"seat_id"`
	SessionID     uint64 `json:"session_id"`
	SeatReleased  bool   `json:"seat_released"`
	Reason        string `json:"reason"`
}
