package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPreBooked BookingStatus = "PRE_BOOKED"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
)

// Terminal reports whether no further transition may leave the status.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingExpired
}

// HoldStatus is the lifecycle of the ephemeral reservation claim. Holds are
// a concurrency-control detail of the registry and are never exposed as a
// read model.
type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldConsumed HoldStatus = "consumed"
	HoldReleased HoldStatus = "released"
	HoldExpired  HoldStatus = "expired"
)

// Booking is the durable record of a slot claim through its full lifecycle.
// Once the originating hold is consumed, this row is the source of truth.
type Booking struct {
	ID           uuid.UUID     `json:"id"`
	OrderID      string        `json:"order_id"`
	HoldID       uuid.UUID     `json:"hold_id"`
	Status       BookingStatus `json:"status"`
	SlotKeys     []string      `json:"slot_keys"`
	ResourceIDs  []string      `json:"resource_ids"`
	CountryCode  string        `json:"country_code,omitempty"`
	RequestedBy  string        `json:"requested_by"`
	StartsOn     time.Time     `json:"starts_on"`
	EndsOn       time.Time     `json:"ends_on"`
	ExpiresAt    time.Time     `json:"expires_at"`
	CreatedAt    time.Time     `json:"created_at"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason *string       `json:"cancel_reason,omitempty"`
}

// TransitionPatch carries the fields a status transition may set. Nil fields
// are left untouched by the ledger.
type TransitionPatch struct {
	ConfirmedAt  *time.Time
	CancelledAt  *time.Time
	CancelReason *string
}
