package booking

import (
	"context"

	"github.com/talktorobson/yellow-grid-booking/internal/domain"
)

// Lifecycle event names, appended to the publisher's subject prefix.
const (
	EventPreBooked = "prebooked"
	EventConfirmed = "confirmed"
	EventCancelled = "cancelled"
	EventExpired   = "expired"
)

// NopPublisher drops all events. Used in tests and in deployments without a
// messaging collaborator.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event string, b *domain.Booking) {}
