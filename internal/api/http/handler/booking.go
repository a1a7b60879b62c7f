package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/talktorobson/yellow-grid-booking/internal/domain"
	"github.com/talktorobson/yellow-grid-booking/internal/service/booking"
)

type BookingHandler struct {
	svc booking.Service
}

func NewBookingHandler(svc booking.Service) *BookingHandler {
	return &BookingHandler{svc: svc}
}

func mapBookingError(c fiber.Ctx, err error) error {
	var conflictErr *domain.ConflictError
	switch {
	case errors.As(err, &conflictErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":            conflictErr.Error(),
			"conflicting_keys": conflictErr.Keys,
		})
	case errors.Is(err, domain.ErrSlotUnavailable):
		return conflict(c, err.Error())
	case errors.Is(err, domain.ErrHoldExpired):
		return gone(c, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return conflict(c, err.Error())
	case errors.Is(err, domain.ErrStaleTransition):
		return conflict(c, err.Error())
	case errors.Is(err, domain.ErrDuplicateHold):
		return conflict(c, err.Error())
	case errors.Is(err, domain.ErrInvalidSlotSet):
		return badRequest(c, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return notFound(c, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		return serviceUnavailable(c, err.Error())
	default:
		return internalError(c)
	}
}

// POST /bookings
func (h *BookingHandler) PreBook(c fiber.Ctx) error {
	var body struct {
		OrderID     string             `json:"order_id"`
		Slots       []domain.SlotClaim `json:"slots"`
		RequestedBy string             `json:"requested_by"`
		CountryCode string             `json:"country_code"`
		TTLHours    int                `json:"ttl_hours"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.OrderID == "" {
		return badRequest(c, "order_id is required")
	}

	req := booking.PreBookRequest{
		OrderID:     body.OrderID,
		Slots:       body.Slots,
		RequestedBy: body.RequestedBy,
		CountryCode: body.CountryCode,
	}
	if body.TTLHours > 0 {
		req.TTL = time.Duration(body.TTLHours) * time.Hour
	}

	b, err := h.svc.PreBook(c.Context(), req)
	if err != nil {
		return mapBookingError(c, err)
	}

	return created(c, b)
}

// POST /bookings/:id/confirm
func (h *BookingHandler) Confirm(c fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid booking id")
	}

	b, err := h.svc.Confirm(c.Context(), bookingID)
	if err != nil {
		return mapBookingError(c, err)
	}

	return ok(c, b)
}

// POST /bookings/:id/cancel
func (h *BookingHandler) Cancel(c fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid booking id")
	}

	var body struct {
		Reason string `json:"reason"`
	}
	// body is optional for a cancel
	_ = c.Bind().JSON(&body)

	b, err := h.svc.Cancel(c.Context(), bookingID, body.Reason)
	if err != nil {
		return mapBookingError(c, err)
	}

	return ok(c, b)
}

// GET /bookings/:id
func (h *BookingHandler) GetByID(c fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid booking id")
	}

	b, err := h.svc.Get(c.Context(), bookingID)
	if err != nil {
		return mapBookingError(c, err)
	}

	return ok(c, b)
}

// GET /bookings?order_id=SO-123
func (h *BookingHandler) ListByOrder(c fiber.Ctx) error {
	orderID := c.Query("order_id")
	if orderID == "" {
		return badRequest(c, "order_id is required")
	}

	bookings, err := h.svc.GetByOrder(c.Context(), orderID)
	if err != nil {
		return mapBookingError(c, err)
	}

	return ok(c, bookings)
}
