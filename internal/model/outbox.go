package model

import "time"

// CreatedOutboxEntry is a row of the reservation_created_outbox stream.  It
// is inserted in the same transaction as the reservation it describes, so
// the event is durable exactly when the reservation is.  Published,
// RetryCount and NextRetryAt are owned by the relay; nothing else writes
// them.
type CreatedOutboxEntry struct {
	ID            uint64
	ReservationID uint64
	SessionID     uint64
	SeatID        uint64
	UserID        uint64
	ExpiresAt     time.Time
	Published     bool
	RetryCount    uint32
	NextRetryAt   *time.Time
	CreatedAt     time.Time
}

// ClosedOutboxEntry is a row of the reservation_closed_outbox stream,
// covering both expiration and user cancellation.  SeatReleased records
// whether the seat's RESERVED -> AVAILABLE transition actually happened in
// the closing transaction; a false value means the seat had already moved
// independently.
type ClosedOutboxEntry struct {
	ID            uint64
	ReservationID uint64
	SessionID     uint64
	SeatID        uint64
	SeatReleased  bool
	Reason        string
	Published     bool
	RetryCount    uint32
	NextRetryAt   *time.Time
	CreatedAt     time.Time
}

// OutboxMessage is the relay-facing view of one publishable outbox row:
// just enough to publish it and to account for a failed attempt.  Payload
// holds the typed event struct that will be marshalled onto the bus.
type OutboxMessage struct {
	ID         uint64
	RetryCount uint32
	EventType  string
	Payload    any
}
