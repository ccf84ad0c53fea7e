// Package router maps HTTP routes onto handlers and assembles the
// middleware chain for each route group.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/showgrid/seat-reservation/internal/handler"
	"github.com/showgrid/seat-reservation/internal/middleware"
)

// RoleSystem is the token role allowed to confirm reservations.  Human
// customers never carry it; it belongs to the payment/sale backend.
const RoleSystem = "SYSTEM"

// Register wires all routes.  idem is the idempotency middleware built in
// main; it wraps only the mutating reservation routes.
func Register(e *echo.Echo, r *handler.ReservationHandler, h *handler.HealthHandler, jwtSecret string, idem echo.MiddlewareFunc) {
	e.GET("/healthz", h.Check)

	v1 := e.Group("/api/v1")

	// availability is a public read: guests browse seats before signing in
	v1.GET("/sessions/:id/availability", r.Availability)

	auth := v1.Group("", middleware.JWTAuth(jwtSecret))
	auth.GET("/reservations", r.ListMine)
	auth.GET("/reservations/:id", r.Get)
	auth.POST("/reservations", r.Create, idem)
	auth.DELETE("/reservations/:id", r.Cancel, idem)

	system := auth.Group("", middleware.RequireRole(RoleSystem))
	system.POST("/reservations/:id/confirm", r.Confirm, idem)
}
