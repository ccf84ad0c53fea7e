package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports process liveness and dependency reachability.
type HealthHandler struct {
	db  *sql.DB
	rdb *redis.Client
}

// NewHealthHandler builds a HealthHandler.  Either dependency may be nil.
func NewHealthHandler(db *sql.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb}
}

// Check pings the database and Redis with a short deadline.  Any failing
// dependency turns the response into 503 but the body still names which
// one is down.
// GET /healthz
func (h *HealthHandler) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := echo.Map{}
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			deps["mysql"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			deps["mysql"] = "up"
		}
	}
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			deps["redis"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			deps["redis"] = "up"
		}
	}
	return c.JSON(status, echo.Map{"status": http.StatusText(status), "dependencies": deps})
}
