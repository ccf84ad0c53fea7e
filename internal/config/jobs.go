package config

import "time"

// JobsConfig carries the knobs for the reservation lifecycle and the three
// periodic jobs (expiration sweeper, outbox relay, outbox retention).  Every
// value has a default so a bare environment still produces a working
// deployment; lock TTLs must exceed the expected duration of one job tick so
// a crashed holder self-heals without leaving the job blocked.
type JobsConfig struct {
	ReservationTTL  time.Duration // how long a PENDING reservation holds its seat
	MinSessionSeats int           // minimum seats a session needs to accept reservations

	SweepPeriod  time.Duration // sweeper tick interval
	SweepBatch   int           // max expired reservations processed per tick
	SweepLockTTL time.Duration // cluster lock TTL for the sweeper

	RelayPeriod     time.Duration // relay tick interval
	RelayBatch      int           // max outbox rows per stream per tick
	RelayLockTTL    time.Duration // cluster lock TTL for the relay
	RelayBackoff    time.Duration // base delay of the exponential publish backoff
	RelayBackoffMax time.Duration // ceiling of the publish backoff
	RelayMaxRetries int           // attempts before a row is abandoned as poison

	RetentionPeriod  time.Duration // retention tick interval
	RetentionWindow  time.Duration // published rows older than this are deleted
	RetentionLockTTL time.Duration // cluster lock TTL for retention
}

// LoadJobsConfig reads job tunables from the environment, falling back to
// defaults when unset.
func LoadJobsConfig() JobsConfig {
	return JobsConfig{
		ReservationTTL:  parseDur(getenv("RESERVATION_TTL", "5m"), 5*time.Minute),
		MinSessionSeats: atoi(getenv("MIN_SESSION_SEATS", "16"), 16),

		SweepPeriod:  parseDur(getenv("SWEEP_PERIOD", "10s"), 10*time.Second),
		SweepBatch:   atoi(getenv("SWEEP_BATCH", "100"), 100),
		SweepLockTTL: parseDur(getenv("SWEEP_LOCK_TTL", "30s"), 30*time.Second),

		RelayPeriod:     parseDur(getenv("RELAY_PERIOD", "5s"), 5*time.Second),
		RelayBatch:      atoi(getenv("RELAY_BATCH", "50"), 50),
		RelayLockTTL:    parseDur(getenv("RELAY_LOCK_TTL", "30s"), 30*time.Second),
		RelayBackoff:    parseDur(getenv("RELAY_BACKOFF_BASE", "30s"), 30*time.Second),
		RelayBackoffMax: parseDur(getenv("RELAY_BACKOFF_MAX", "1h"), time.Hour),
		RelayMaxRetries: atoi(getenv("RELAY_MAX_RETRIES", "8"), 8),

		RetentionPeriod:  parseDur(getenv("RETENTION_PERIOD", "1h"), time.Hour),
		RetentionWindow:  parseDur(getenv("RETENTION_WINDOW", "72h"), 72*time.Hour),
		RetentionLockTTL: parseDur(getenv("RETENTION_LOCK_TTL", "60s"), 60*time.Second),
	}
}
