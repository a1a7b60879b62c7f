package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/fx"

	"github.com/talktorobson/yellow-grid-booking/config"
	"github.com/talktorobson/yellow-grid-booking/internal/events"
	"github.com/talktorobson/yellow-grid-booking/internal/reaper"
	"github.com/talktorobson/yellow-grid-booking/internal/service/booking"
)

// WorkerModule registers the expiry reaper and NATS event workers.
var WorkerModule = fx.Module("workers",
	fx.Invoke(RegisterWorkers),
)

type WorkerParams struct {
	fx.In

	Lc         fx.Lifecycle
	NC         *nats.Conn
	Cfg        *config.Config
	BookingSvc booking.Service
}

func RegisterWorkers(p WorkerParams) {
	interval := reaper.DefaultInterval
	if p.Cfg.Booking.ReaperIntervalSeconds > 0 {
		interval = time.Duration(p.Cfg.Booking.ReaperIntervalSeconds) * time.Second
	}
	r := reaper.New(p.BookingSvc, interval)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.Start()
			startNotificationWorker(p.NC)
			startSalesSyncWorker(p.NC)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// NATS drain handled by ProvideNatsClient
			return r.Stop(ctx)
		},
	})
}

// ---------------------------------------------------------------------------
// notification_worker
// ---------------------------------------------------------------------------

// startNotificationWorker hands every lifecycle event to the notification
// boundary. Dispatch (mail, push) is owned by the notification collaborator;
// this worker only records that the event crossed the boundary.
func startNotificationWorker(nc *nats.Conn) {
	_, err := nc.Subscribe(events.SubjectPrefix+".>", func(msg *nats.Msg) {
		parts := strings.Split(msg.Subject, ".")
		if len(parts) < 4 {
			return
		}
		slog.Info("notification_worker: booking event",
			"event", parts[2],
			"booking_id", parts[3],
		)
	})
	if err != nil {
		slog.Error("notification_worker: subscribe failed", "err", err)
		return
	}

	slog.Info("notification_worker: started")
}

// ---------------------------------------------------------------------------
// sales_sync_worker
// ---------------------------------------------------------------------------

// startSalesSyncWorker mirrors terminal and confirmed transitions back to the
// sales order system, keyed by order id.
func startSalesSyncWorker(nc *nats.Conn) {
	for _, event := range []string{
		events.SubjectPrefix + ".confirmed.*",
		events.SubjectPrefix + ".cancelled.*",
		events.SubjectPrefix + ".expired.*",
	} {
		_, err := nc.Subscribe(event, func(msg *nats.Msg) {
			var payload events.Payload
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				slog.Warn("sales_sync_worker: bad payload", "subject", msg.Subject, "err", err)
				return
			}
			slog.Info("sales_sync_worker: order status sync",
				"order_id", payload.OrderID,
				"booking_id", payload.BookingID,
				"status", payload.Status,
			)
		})
		if err != nil {
			slog.Error("sales_sync_worker: subscribe failed", "subject", event, "err", err)
		}
	}

	slog.Info("sales_sync_worker: started")
}
