package cache

import "fmt"

// Key namespace for everything this service stores in Redis.  Versioned so
// that a wire-format change can roll out without reading stale entries.
const ns = "resv:v1"

// KeyAvailability is the derived seat-availability snapshot of a session.
func KeyAvailability(sessionID uint64) string {
	return fmt.Sprintf("%s:avail:%d", ns, sessionID)
}

// KeyIdempotency stores the cached response for a client idempotency key.
// The user id is part of the key so two users cannot collide on the same
// client-chosen token.
func KeyIdempotency(userID uint64, key string) string {
	return fmt.Sprintf("%s:idem:%d:%s", ns, userID, key)
}

// KeyIdempotencyLock guards a single execution per idempotency key.
func KeyIdempotencyLock(userID uint64, key string) string {
	return fmt.Sprintf("%s:idem-lock:%d:%s", ns, userID, key)
}

// KeyDedup marks an (eventType, uniqueID) pair as already processed.
func KeyDedup(eventType string, uniqueID uint64) string {
	return fmt.Sprintf("%s:dedup:%s:%d", ns, eventType, uniqueID)
}

// KeyJobLock names the cluster lock of a periodic job.
func KeyJobLock(job string) string {
	return fmt.Sprintf("%s:job-lock:%s", ns, job)
}
