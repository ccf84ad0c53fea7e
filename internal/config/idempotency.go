package config

import "time"

// IdempotencyConfig tunes the request deduplication gateway.  LockTTL bounds
// the worst-case handler duration (a crashed holder unblocks the key after
// LockTTL); PollInterval/PollTimeout bound how long a concurrent duplicate
// waits for the winning request's response before giving up with a
// retryable error.
type IdempotencyConfig struct {
	ResponseTTL  time.Duration // how long a cached response replays
	LockTTL      time.Duration // per-key execution lock TTL
	PollInterval time.Duration // cache poll interval for losing requests
	PollTimeout  time.Duration // overall wait bound for losing requests
	DedupTTL     time.Duration // consumer-side dedup marker TTL
}

// LoadIdempotencyConfig reads gateway tunables from the environment,
// falling back to defaults when unset.  DedupTTL must exceed the broker's
// maximum redelivery window or duplicates can slip past the marker.
func LoadIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		ResponseTTL:  parseDur(getenv("IDEMPOTENCY_TTL", "10m"), 10*time.Minute),
		LockTTL:      parseDur(getenv("IDEMPOTENCY_LOCK_TTL", "30s"), 30*time.Second),
		PollInterval: parseDur(getenv("IDEMPOTENCY_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
		PollTimeout:  parseDur(getenv("IDEMPOTENCY_POLL_TIMEOUT", "5s"), 5*time.Second),
		DedupTTL:     parseDur(getenv("DEDUP_TTL", "24h"), 24*time.Hour),
	}
}
