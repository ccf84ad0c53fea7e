// Package handler exposes the reservation API over HTTP.  Handlers bind
// and validate input, call the service layer and translate its sentinel
// errors into stable HTTP status codes; they hold no business logic.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/showgrid/seat-reservation/internal/middleware"
	"github.com/showgrid/seat-reservation/internal/model"
	"github.com/showgrid/seat-reservation/internal/service"
)

// Reservations is the handler-facing service surface.  Satisfied by
// service.ReservationService.
type Reservations interface {
	Create(ctx context.Context, sessionID uint64, seatIDs []uint64, userID uint64) ([]model.Reservation, error)
	Cancel(ctx context.Context, id, userID uint64) error
	Confirm(ctx context.Context, id uint64) error
	Get(ctx context.Context, id, userID uint64) (*model.Reservation, error)
	ListMine(ctx context.Context, userID uint64) ([]model.Reservation, error)
	Availability(ctx context.Context, sessionID uint64) (*service.Availability, error)
}

// ReservationHandler serves the reservation routes.
type ReservationHandler struct {
	svc Reservations
}

// NewReservationHandler builds a ReservationHandler.
func NewReservationHandler(svc Reservations) *ReservationHandler {
	return &ReservationHandler{svc: svc}
}

// createRequest is the body of POST /reservations.
type createRequest struct {
	SessionID uint64   `json:"session_id"`
	SeatIDs   []uint64 `json:"seat_ids"`
}

// Create reserves the requested seats for the authenticated user.
// POST /api/v1/reservations
func (h *ReservationHandler) Create(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.SessionID == 0 || len(req.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id and seat_ids are required"})
	}

	created, err := h.svc.Create(c.Request().Context(), req.SessionID, req.SeatIDs, userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"reservations": created})
}

// Cancel releases the caller's own pending reservation.
// DELETE /api/v1/reservations/:id
func (h *ReservationHandler) Cancel(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	if err := h.svc.Cancel(c.Request().Context(), id, userID); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "reservation cancelled"})
}

// Confirm finalizes a pending reservation into a sale.  Reserved for the
// payment system role; the route is gated by RequireRole.
// POST /api/v1/reservations/:id/confirm
func (h *ReservationHandler) Confirm(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	if err := h.svc.Confirm(c.Request().Context(), id); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "reservation confirmed"})
}

// Get returns one of the caller's reservations.
// GET /api/v1/reservations/:id
func (h *ReservationHandler) Get(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	res, err := h.svc.Get(c.Request().Context(), id, userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ListMine returns all reservations of the authenticated user.
// GET /api/v1/reservations
func (h *ReservationHandler) ListMine(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}
	list, err := h.svc.ListMine(c.Request().Context(), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": list})
}

// Availability returns the available seats of a session.
// GET /api/v1/sessions/:id/availability
func (h *ReservationHandler) Availability(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	snap, err := h.svc.Availability(c.Request().Context(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// pathID parses the :id path parameter.
func pathID(c echo.Context) (uint64, error) {
	return strconv.ParseUint(c.Param("id"), 10, 64)
}

// writeServiceError maps service sentinels onto the HTTP error taxonomy.
// Anything unrecognized is a 500 with a generic body; the cause stays in
// the logs, not on the wire.
func writeServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrSeatNotFound),
		errors.Is(err, service.ErrReservationNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNoSeats),
		errors.Is(err, service.ErrSessionNotActive),
		errors.Is(err, service.ErrSessionTooSmall),
		errors.Is(err, service.ErrSeatWrongSession):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrSeatUnavailable),
		errors.Is(err, service.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	default:
		c.Logger().Errorf("reservation handler: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
