package app

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/talktorobson/yellow-grid-booking/config"
	"github.com/talktorobson/yellow-grid-booking/internal/clock"
	"github.com/talktorobson/yellow-grid-booking/internal/events"
	"github.com/talktorobson/yellow-grid-booking/internal/ledger"
	"github.com/talktorobson/yellow-grid-booking/internal/registry"
	"github.com/talktorobson/yellow-grid-booking/internal/service/booking"
	"github.com/talktorobson/yellow-grid-booking/internal/service/calendar"
)

// ServiceModule provides all application service dependencies.
var ServiceModule = fx.Module("services",
	fx.Provide(
		ProvideClock,
		ProvideSlotRegistry,
		ProvideLedger,
		ProvidePublisher,
		ProvideBookingService,
		ProvideCalendarService,
	),
)

func ProvideClock() clock.Clock {
	return clock.NewSystem()
}

func ProvideSlotRegistry(rdb *redis.Client, clk clock.Clock) *registry.Registry {
	return registry.New(rdb, clk)
}

func ProvideLedger(pool *pgxpool.Pool) *ledger.Ledger {
	return ledger.New(pool)
}

func ProvidePublisher(nc *nats.Conn) *events.NatsPublisher {
	return events.NewNatsPublisher(nc)
}

func ProvideBookingService(reg *registry.Registry, led *ledger.Ledger, pub *events.NatsPublisher, clk clock.Clock, cfg *config.Config) booking.Service {
	return booking.New(reg, led, pub, clk, cfg.Booking.SweepBatchSize,
		booking.WithDefaultTTL(holdTTL(cfg)))
}

func ProvideCalendarService(led *ledger.Ledger, cfg *config.Config) calendar.Service {
	capacity := calendar.StaticCapacity{Minutes: cfg.Calendar.DailyCapacityMinutes}
	if capacity.Minutes <= 0 {
		capacity.Minutes = 8 * 60
	}
	return calendar.New(led, capacity)
}

// holdTTL resolves the configured hold TTL, falling back to the service
// default when unset.
func holdTTL(cfg *config.Config) time.Duration {
	if cfg.Booking.HoldTTLHours > 0 {
		return time.Duration(cfg.Booking.HoldTTLHours) * time.Hour
	}
	return booking.DefaultHoldTTL
}
