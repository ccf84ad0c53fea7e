package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/showgrid/seat-reservation/internal/middleware"
	"github.com/showgrid/seat-reservation/internal/model"
	"github.com/showgrid/seat-reservation/internal/service"
)

// stubService returns canned results per method.
type stubService struct {
	createErr  error
	created    []model.Reservation
	cancelErr  error
	confirmErr error
	getRes     *model.Reservation
	getErr     error
	list       []model.Reservation
	availErr   error
	avail      *service.Availability
}

func (s *stubService) Create(context.Context, uint64, []uint64, uint64) ([]model.Reservation, error) {
	return s.created, s.createErr
}
func (s *stubService) Cancel(context.Context, uint64, uint64) error { return s.cancelErr }
func (s *stubService) Confirm(context.Context, uint64) error        { return s.confirmErr }
func (s *stubService) Get(context.Context, uint64, uint64) (*model.Reservation, error) {
	return s.getRes, s.getErr
}
func (s *stubService) ListMine(context.Context, uint64) ([]model.Reservation, error) {
	return s.list, nil
}
func (s *stubService) Availability(context.Context, uint64) (*service.Availability, error) {
	return s.avail, s.availErr
}

// request runs one request through a fresh Echo with the given stub and an
// auth shim that sets the user id.
func request(svc *stubService, method, path, body string) *httptest.ResponseRecorder {
	e := echo.New()
	auth := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.CtxUserID, uint64(7))
			return next(c)
		}
	}
	h := NewReservationHandler(svc)
	e.POST("/api/v1/reservations", h.Create, auth)
	e.DELETE("/api/v1/reservations/:id", h.Cancel, auth)
	e.POST("/api/v1/reservations/:id/confirm", h.Confirm, auth)
	e.GET("/api/v1/reservations/:id", h.Get, auth)
	e.GET("/api/v1/reservations", h.ListMine, auth)
	e.GET("/api/v1/sessions/:id/availability", h.Availability)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateReturnsCreated(t *testing.T) {
	svc := &stubService{created: []model.Reservation{{
		ID: 1, SessionID: 1, SeatID: 3, UserID: 7,
		Status: model.ReservationPending, ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}}}
	rec := request(svc, http.MethodPost, "/api/v1/reservations", `{"session_id":1,"seat_ids":[3]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var out struct {
		Reservations []model.Reservation `json:"reservations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Reservations) != 1 || out.Reservations[0].SeatID != 3 {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestCreateRejectsEmptyBody(t *testing.T) {
	rec := request(&stubService{}, http.MethodPost, "/api/v1/reservations", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"session not found", service.ErrSessionNotFound, http.StatusNotFound},
		{"seat not found", service.ErrSeatNotFound, http.StatusNotFound},
		{"session closed", service.ErrSessionNotActive, http.StatusBadRequest},
		{"session too small", service.ErrSessionTooSmall, http.StatusBadRequest},
		{"wrong session seat", service.ErrSeatWrongSession, http.StatusBadRequest},
		{"seat taken", service.ErrSeatUnavailable, http.StatusConflict},
		{"not pending", service.ErrInvalidTransition, http.StatusConflict},
		{"foreign reservation", service.ErrForbidden, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{createErr: tc.err}
			rec := request(svc, http.MethodPost, "/api/v1/reservations", `{"session_id":1,"seat_ids":[3]}`)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestCancelMapsErrors(t *testing.T) {
	rec := request(&stubService{cancelErr: service.ErrReservationNotFound},
		http.MethodDelete, "/api/v1/reservations/5", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = request(&stubService{}, http.MethodDelete, "/api/v1/reservations/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestAvailabilityIsPublic(t *testing.T) {
	svc := &stubService{avail: &service.Availability{SessionID: 1, Count: 2, SeatIDs: []uint64{3, 4}}}
	rec := request(svc, http.MethodGet, "/api/v1/sessions/1/availability", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap service.Availability
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Count != 2 {
		t.Fatalf("count = %d, want 2", snap.Count)
	}
}
