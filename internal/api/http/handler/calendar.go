package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/talktorobson/yellow-grid-booking/internal/domain"
	"github.com/talktorobson/yellow-grid-booking/internal/service/calendar"
)

type CalendarHandler struct {
	svc calendar.Service
}

func NewCalendarHandler(svc calendar.Service) *CalendarHandler {
	return &CalendarHandler{svc: svc}
}

func parseDateRange(c fiber.Ctx) (from, to time.Time, err error) {
	from, err = time.Parse("2006-01-02", c.Query("from"))
	if err != nil {
		return
	}
	to, err = time.Parse("2006-01-02", c.Query("to"))
	return
}

func parseResourceIDs(c fiber.Ctx) []string {
	raw := c.Query("resource_ids")
	if raw == "" {
		return nil
	}
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func mapCalendarError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrUnavailable):
		return serviceUnavailable(c, err.Error())
	default:
		return badRequest(c, err.Error())
	}
}

// GET /calendar/orders?from=2025-06-01&to=2025-06-07&resource_ids=PROV-7&country_code=FR
func (h *CalendarHandler) ScheduledOrders(c fiber.Ctx) error {
	from, to, err := parseDateRange(c)
	if err != nil {
		return badRequest(c, "from and to must be YYYY-MM-DD dates")
	}

	summaries, err := h.svc.ScheduledOrders(c.Context(), calendar.OrdersRequest{
		From:        from,
		To:          to,
		ResourceIDs: parseResourceIDs(c),
		CountryCode: c.Query("country_code"),
	})
	if err != nil {
		return mapCalendarError(c, err)
	}

	return ok(c, summaries)
}

// GET /calendar/utilization?from=2025-06-01&to=2025-06-07&resource_ids=PROV-7,TEAM-3
func (h *CalendarHandler) Utilization(c fiber.Ctx) error {
	from, to, err := parseDateRange(c)
	if err != nil {
		return badRequest(c, "from and to must be YYYY-MM-DD dates")
	}

	records, err := h.svc.Utilization(c.Context(), calendar.UtilizationRequest{
		From:        from,
		To:          to,
		ResourceIDs: parseResourceIDs(c),
	})
	if err != nil {
		return mapCalendarError(c, err)
	}

	return ok(c, records)
}
