// Package service implements the reservation lifecycle: race-free seat
// acquisition and release, the PENDING -> {CONFIRMED, EXPIRED, CANCELLED}
// state machine, and the transactional outbox writes that ride along with
// every state change.
package service

import "errors"

// Sentinel errors forming the caller-facing taxonomy.  Handlers translate
// them into stable HTTP categories: not-found (404), bad-request (400),
// conflict (409) and forbidden (403).  None of these are retried by the
// system itself — a conflict means "pick a different seat", not "try
// again".
var (
	// not-found family
	ErrSessionNotFound     = errors.New("session not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrSeatNotFound        = errors.New("seat not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// bad-request family
	ErrNoSeats          = errors.New("no seats requested")
	ErrSessionNotActive = errors.New("session is not accepting reservations")
	ErrSessionTooSmall  = errors.New("session is below the minimum seat count")
	ErrSeatWrongSession = errors.New("seat does not belong to this session")

	// conflict family
	ErrSeatUnavailable   = errors.New("seat is not available")
	ErrInvalidTransition = errors.New("reservation is no longer pending")

	// forbidden family
	ErrForbidden = errors.New("reservation belongs to another user")
)
