// Package events publishes booking lifecycle events over NATS for the
// notification and sales-integration collaborators. Publishing is
// fire-and-forget: failures are logged, never propagated into the booking
// flow, and delivery guarantees belong to the messaging layer.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/talktorobson/yellow-grid-booking/internal/domain"
)

// SubjectPrefix namespaces all booking subjects:
// yellowgrid.booking.<event>.<bookingID>
const SubjectPrefix = "yellowgrid.booking"

type Payload struct {
	BookingID   string               `json:"booking_id"`
	OrderID     string               `json:"order_id"`
	Status      domain.BookingStatus `json:"status"`
	SlotKeys    []string             `json:"slot_keys"`
	ResourceIDs []string             `json:"resource_ids"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

type NatsPublisher struct {
	nc *nats.Conn
}

func NewNatsPublisher(nc *nats.Conn) *NatsPublisher {
	return &NatsPublisher{nc: nc}
}

func (p *NatsPublisher) Publish(_ context.Context, event string, b *domain.Booking) {
	payload, err := json.Marshal(Payload{
		BookingID:   b.ID.String(),
		OrderID:     b.OrderID,
		Status:      b.Status,
		SlotKeys:    b.SlotKeys,
		ResourceIDs: b.ResourceIDs,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		slog.Error("marshal booking event", "event", event, "booking_id", b.ID, "err", err)
		return
	}

	subject := SubjectPrefix + "." + event + "." + b.ID.String()
	if err := p.nc.Publish(subject, payload); err != nil {
		slog.Warn("publish booking event", "subject", subject, "err", err)
	}
}
