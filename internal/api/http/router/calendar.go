package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/talktorobson/yellow-grid-booking/internal/api/http/handler"
)

func (r *Router) registerCalendarRoutes(api fiber.Router, ch *handler.CalendarHandler) {
	cal := api.Group("/calendar")

	cal.Get("/orders", ch.ScheduledOrders)
	cal.Get("/utilization", ch.Utilization)
}
