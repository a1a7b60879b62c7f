package router

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/talktorobson/yellow-grid-booking/config"
	"github.com/talktorobson/yellow-grid-booking/internal/api/http/handler"
	"github.com/talktorobson/yellow-grid-booking/internal/service/booking"
	"github.com/talktorobson/yellow-grid-booking/internal/service/calendar"
)

// Module provides the Router to the fx graph.
var Module = fx.Module("router", fx.Provide(NewRouter))

type Params struct {
	fx.In

	Cfg         *config.Config
	BookingSvc  booking.Service
	CalendarSvc calendar.Service
}

type Router struct {
	p Params
}

func NewRouter(p Params) *Router {
	return &Router{p: p}
}

func (r *Router) Register(app *fiber.App) {
	// 1. Health & Metrics
	r.registerSystemRoutes(app)

	// 2. Initialize Handlers
	bookingH := handler.NewBookingHandler(r.p.BookingSvc)
	calendarH := handler.NewCalendarHandler(r.p.CalendarSvc)

	api := app.Group("/api/v1")

	// 3. Delegate to sub-files
	r.registerBookingRoutes(api, bookingH)
	r.registerCalendarRoutes(api, calendarH)
}

func (r *Router) registerSystemRoutes(app *fiber.App) {
	app.Get(healthcheck.LivenessEndpoint, healthcheck.New())
	app.Get(healthcheck.ReadinessEndpoint, healthcheck.New())
	app.Get(healthcheck.StartupEndpoint, healthcheck.New())

	if r.p.Cfg.Observability.Enabled && r.p.Cfg.Observability.Metrics.Enabled {
		path := r.p.Cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		app.Get(path, adaptor.HTTPHandler(promhttp.Handler()))
	}
}
