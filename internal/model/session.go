package model

// Session states.  Only ACTIVE sessions accept new reservations.
const (
	SessionActive   = "ACTIVE"
	SessionClosed   = "CLOSED"
	SessionArchived = "ARCHIVED"
)

// Session is the screening a seat belongs to.  This core only reads
// sessions: scheduling and CRUD live in an external collaborator.  SeatCount
// is derived from the seats table at read time and is used for the
// minimum-seats eligibility check on reservation creation.
type Session struct {
	ID        uint64 // sessions.id
	Status    string // sessions.status
	SeatCount uint32 // derived: number of seats attached to the session
}
