package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/talktorobson/yellow-grid-booking/internal/api/http/handler"
)

func (r *Router) registerBookingRoutes(api fiber.Router, bh *handler.BookingHandler) {
	bookings := api.Group("/bookings")

	bookings.Get("/", bh.ListByOrder)
	bookings.Post("/", bh.PreBook)

	b := bookings.Group("/:id")
	b.Get("/", bh.GetByID)
	b.Post("/confirm", bh.Confirm)
	b.Post("/cancel", bh.Cancel)
}
