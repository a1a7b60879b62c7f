// Package calendar serves the read side of the booking engine: scheduled
// orders and utilization, projected from the ledger. It never mutates and
// never looks at holds — expiry is already materialized by the reaper.
package calendar

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/talktorobson/yellow-grid-booking/internal/domain"
)

// ---------------------------------------------------------------------------
// Collaborator contracts
// ---------------------------------------------------------------------------

type Ledger interface {
	ListByResourcesAndRange(ctx context.Context, resourceIDs []string, from, to time.Time) ([]*domain.Booking, error)
}

// CapacitySource supplies available capacity-minutes per resource per day.
// Capacity truth lives with the provider/work-team module upstream.
type CapacitySource interface {
	CapacityMinutes(resourceID string, day time.Time) int
}

// StaticCapacity is a flat schedule: the same daily budget for every
// resource, taken from config.
type StaticCapacity struct {
	Minutes int
}

func (s StaticCapacity) CapacityMinutes(string, time.Time) int { return s.Minutes }

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

type OrdersRequest struct {
	From        time.Time
	To          time.Time
	ResourceIDs []string
	CountryCode string
}

type BookingSummary struct {
	BookingID   uuid.UUID            `json:"booking_id"`
	OrderID     string               `json:"order_id"`
	Status      domain.BookingStatus `json:"status"`
	SlotKeys    []string             `json:"slot_keys"`
	ResourceIDs []string             `json:"resource_ids"`
	CountryCode string               `json:"country_code,omitempty"`
	StartsOn    time.Time            `json:"starts_on"`
	EndsOn      time.Time            `json:"ends_on"`
	ConfirmedAt *time.Time           `json:"confirmed_at,omitempty"`
}

type UtilizationRequest struct {
	From        time.Time
	To          time.Time
	ResourceIDs []string
}

type UtilizationRecord struct {
	ResourceID     string    `json:"resource_id"`
	Date           time.Time `json:"date"`
	BookedMinutes  int       `json:"booked_minutes"`
	CapacityMin    int       `json:"capacity_minutes"`
	UtilizationPct float64   `json:"utilization_pct"`
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	ScheduledOrders(ctx context.Context, req OrdersRequest) ([]BookingSummary, error)
	Utilization(ctx context.Context, req UtilizationRequest) ([]UtilizationRecord, error)
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type calendarService struct {
	ledger   Ledger
	capacity CapacitySource
}

func New(ledger Ledger, capacity CapacitySource) Service {
	return &calendarService{ledger: ledger, capacity: capacity}
}

// ScheduledOrders returns in-flight bookings (PRE_BOOKED or CONFIRMED) in
// the range, joined down to a summary for the calendar view.
func (s *calendarService) ScheduledOrders(ctx context.Context, req OrdersRequest) ([]BookingSummary, error) {
	if req.To.Before(req.From) {
		return nil, fmt.Errorf("date range ends before it starts")
	}
	bookings, err := s.ledger.ListByResourcesAndRange(ctx, req.ResourceIDs, req.From, req.To)
	if err != nil {
		return nil, err
	}

	out := make([]BookingSummary, 0, len(bookings))
	for _, b := range bookings {
		if b.Status != domain.BookingPreBooked && b.Status != domain.BookingConfirmed {
			continue
		}
		if req.CountryCode != "" && b.CountryCode != req.CountryCode {
			continue
		}
		out = append(out, BookingSummary{
			BookingID:   b.ID,
			OrderID:     b.OrderID,
			Status:      b.Status,
			SlotKeys:    b.SlotKeys,
			ResourceIDs: b.ResourceIDs,
			CountryCode: b.CountryCode,
			StartsOn:    b.StartsOn,
			EndsOn:      b.EndsOn,
			ConfirmedAt: b.ConfirmedAt,
		})
	}
	return out, nil
}

// Utilization aggregates booked slot-minutes against available
// capacity-minutes per resource per day. CANCELLED/EXPIRED bookings never
// count; double-counting is impossible because the ledger holds at most one
// live booking per slot.
func (s *calendarService) Utilization(ctx context.Context, req UtilizationRequest) ([]UtilizationRecord, error) {
	if req.To.Before(req.From) {
		return nil, fmt.Errorf("date range ends before it starts")
	}
	bookings, err := s.ledger.ListByResourcesAndRange(ctx, req.ResourceIDs, req.From, req.To)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		resource string
		day      time.Time
	}
	booked := make(map[bucket]int)
	resources := append([]string(nil), req.ResourceIDs...)
	seen := make(map[string]bool, len(resources))
	for _, r := range resources {
		seen[r] = true
	}

	for _, b := range bookings {
		if b.Status.Terminal() {
			continue
		}
		for _, raw := range b.SlotKeys {
			k, err := domain.ParseSlotKey(raw)
			if err != nil {
				return nil, fmt.Errorf("ledger slot key %q: %w", raw, err)
			}
			day, err := k.Day()
			if err != nil {
				return nil, err
			}
			if day.Before(req.From) || day.After(req.To) {
				continue
			}
			if len(req.ResourceIDs) > 0 && !seen[k.ResourceID] {
				continue
			}
			minutes, err := k.Minutes()
			if err != nil {
				return nil, err
			}
			booked[bucket{k.ResourceID, day}] += minutes
			if !seen[k.ResourceID] {
				seen[k.ResourceID] = true
				resources = append(resources, k.ResourceID)
			}
		}
	}

	var out []UtilizationRecord
	for _, resource := range resources {
		for day := req.From; !day.After(req.To); day = day.AddDate(0, 0, 1) {
			capMin := s.capacity.CapacityMinutes(resource, day)
			rec := UtilizationRecord{
				ResourceID:    resource,
				Date:          day,
				BookedMinutes: booked[bucket{resource, day}],
				CapacityMin:   capMin,
			}
			if capMin > 0 {
				rec.UtilizationPct = math.Round(float64(rec.BookedMinutes)/float64(capMin)*10000) / 100
			}
			out = append(out, rec)
		}
	}
	return out, nil
}
