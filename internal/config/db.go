package config

import (
	"time"

	"github.com/showgrid/seat-reservation/internal/database"
)

// LoadDBPool reads the MySQL pool tunables from the environment, falling
// back to defaults when unset.
func LoadDBPool() database.Pool {
	return database.Pool{
		MaxOpen:     atoi(getenv("DB_MAX_OPEN_CONNS", "25"), 25),
		MaxIdle:     atoi(getenv("DB_MAX_IDLE_CONNS", "25"), 25),
		MaxLifetime: parseDur(getenv("DB_CONN_MAX_LIFETIME", "30m"), 30*time.Minute),
		PingTimeout: parseDur(getenv("DB_PING_TIMEOUT", "5s"), 5*time.Second),
	}
}
