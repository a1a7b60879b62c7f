package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/talktorobson/yellow-grid-booking/internal/domain"
	"github.com/talktorobson/yellow-grid-booking/internal/service/booking"
)

type fakeBookingSvc struct {
	booking  *domain.Booking
	err      error
	lastReq  booking.PreBookRequest
	cancelID uuid.UUID
}

func (f *fakeBookingSvc) PreBook(_ context.Context, req booking.PreBookRequest) (*domain.Booking, error) {
	f.lastReq = req
	return f.booking, f.err
}

func (f *fakeBookingSvc) Confirm(_ context.Context, _ uuid.UUID) (*domain.Booking, error) {
	return f.booking, f.err
}

func (f *fakeBookingSvc) Cancel(_ context.Context, id uuid.UUID, _ string) (*domain.Booking, error) {
	f.cancelID = id
	return f.booking, f.err
}

func (f *fakeBookingSvc) Get(_ context.Context, _ uuid.UUID) (*domain.Booking, error) {
	return f.booking, f.err
}

func (f *fakeBookingSvc) GetByOrder(_ context.Context, _ string) ([]*domain.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*domain.Booking{f.booking}, nil
}

func (f *fakeBookingSvc) ReapExpired(_ context.Context) (int, error) {
	return 0, f.err
}

func newBookingApp(svc booking.Service) *fiber.App {
	app := fiber.New()
	h := NewBookingHandler(svc)
	app.Post("/bookings", h.PreBook)
	app.Post("/bookings/:id/confirm", h.Confirm)
	app.Post("/bookings/:id/cancel", h.Cancel)
	app.Get("/bookings/:id", h.GetByID)
	return app
}

func sampleBooking() *domain.Booking {
	return &domain.Booking{
		ID:       uuid.New(),
		OrderID:  "SO-1",
		HoldID:   uuid.New(),
		Status:   domain.BookingPreBooked,
		SlotKeys: []string{"PROV-7|2025-06-01|08:00-10:00"},
	}
}

func TestPreBookEndpoint(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := &fakeBookingSvc{booking: sampleBooking()}
		app := newBookingApp(svc)

		body := `{"order_id":"SO-1","slots":[{"key":"PROV-7|2025-06-01|08:00-10:00"}],"ttl_hours":24}`
		req := httptest.NewRequest("POST", "/bookings", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusCreated {
			t.Fatalf("expected 201, got %d", resp.StatusCode)
		}
		if svc.lastReq.TTL != 24*time.Hour {
			t.Fatalf("ttl_hours not propagated: %v", svc.lastReq.TTL)
		}
	})

	t.Run("slot conflict returns keys", func(t *testing.T) {
		svc := &fakeBookingSvc{err: &domain.ConflictError{Keys: []string{"PROV-7|2025-06-01|08:00-10:00"}}}
		app := newBookingApp(svc)

		body := `{"order_id":"SO-2","slots":[{"key":"PROV-7|2025-06-01|08:00-10:00"}]}`
		req := httptest.NewRequest("POST", "/bookings", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusConflict {
			t.Fatalf("expected 409, got %d", resp.StatusCode)
		}

		var payload struct {
			ConflictingKeys []string `json:"conflicting_keys"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(payload.ConflictingKeys) != 1 {
			t.Fatalf("expected 1 conflicting key, got %+v", payload.ConflictingKeys)
		}
	})

	t.Run("missing order_id", func(t *testing.T) {
		app := newBookingApp(&fakeBookingSvc{})

		req := httptest.NewRequest("POST", "/bookings", strings.NewReader(`{"slots":[]}`))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestConfirmEndpointStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"expired hold", domain.ErrHoldExpired, fiber.StatusGone},
		{"invalid transition", domain.ErrInvalidTransition, fiber.StatusConflict},
		{"not found", domain.ErrNotFound, fiber.StatusNotFound},
		{"registry down", domain.ErrUnavailable, fiber.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newBookingApp(&fakeBookingSvc{err: tc.err})

			req := httptest.NewRequest("POST", "/bookings/"+uuid.NewString()+"/confirm", nil)
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestCancelEndpointAcceptsEmptyBody(t *testing.T) {
	svc := &fakeBookingSvc{booking: sampleBooking()}
	app := newBookingApp(svc)

	id := uuid.New()
	req := httptest.NewRequest("POST", "/bookings/"+id.String()+"/cancel", nil)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if svc.cancelID != id {
		t.Fatalf("cancel routed to wrong booking: %s", svc.cancelID)
	}
}

func TestGetEndpointRejectsBadID(t *testing.T) {
	app := newBookingApp(&fakeBookingSvc{})

	req := httptest.NewRequest("GET", "/bookings/not-a-uuid", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
