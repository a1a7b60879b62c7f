package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talktorobson/yellow-grid-booking/internal/domain"
)

type fakeLedger struct {
	bookings []*domain.Booking
}

func (f *fakeLedger) ListByResourcesAndRange(_ context.Context, resourceIDs []string, from, to time.Time) ([]*domain.Booking, error) {
	want := make(map[string]bool, len(resourceIDs))
	for _, r := range resourceIDs {
		want[r] = true
	}
	var out []*domain.Booking
	for _, b := range f.bookings {
		if b.StartsOn.After(to) || b.EndsOn.Before(from) {
			continue
		}
		if len(resourceIDs) > 0 {
			match := false
			for _, r := range b.ResourceIDs {
				if want[r] {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, b)
	}
	return out, nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func mkBooking(orderID, resource, date, window string, status domain.BookingStatus, country string) *domain.Booking {
	key := resource + "|" + date + "|" + window
	return &domain.Booking{
		ID:          uuid.New(),
		OrderID:     orderID,
		HoldID:      uuid.New(),
		Status:      status,
		SlotKeys:    []string{key},
		ResourceIDs: []string{resource},
		CountryCode: country,
		StartsOn:    day(date),
		EndsOn:      day(date),
	}
}

func TestScheduledOrders(t *testing.T) {
	led := &fakeLedger{bookings: []*domain.Booking{
		mkBooking("SO-1", "PROV-7", "2025-06-01", "08:00-10:00", domain.BookingConfirmed, "FR"),
		mkBooking("SO-2", "PROV-7", "2025-06-01", "10:00-12:00", domain.BookingPreBooked, "FR"),
		mkBooking("SO-3", "PROV-7", "2025-06-02", "08:00-10:00", domain.BookingCancelled, "FR"),
		mkBooking("SO-4", "PROV-9", "2025-06-02", "08:00-10:00", domain.BookingConfirmed, "ES"),
	}}
	svc := New(led, StaticCapacity{Minutes: 480})

	t.Run("includes in-flight, excludes terminal", func(t *testing.T) {
		got, err := svc.ScheduledOrders(context.Background(), OrdersRequest{
			From: day("2025-06-01"), To: day("2025-06-02"),
		})
		if err != nil {
			t.Fatalf("scheduled orders: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 summaries, got %d", len(got))
		}
		for _, s := range got {
			if s.OrderID == "SO-3" {
				t.Fatal("cancelled booking must be excluded")
			}
		}
	})

	t.Run("country filter", func(t *testing.T) {
		got, err := svc.ScheduledOrders(context.Background(), OrdersRequest{
			From: day("2025-06-01"), To: day("2025-06-02"), CountryCode: "ES",
		})
		if err != nil {
			t.Fatalf("scheduled orders: %v", err)
		}
		if len(got) != 1 || got[0].OrderID != "SO-4" {
			t.Fatalf("expected only SO-4, got %+v", got)
		}
	})

	t.Run("resource filter", func(t *testing.T) {
		got, err := svc.ScheduledOrders(context.Background(), OrdersRequest{
			From: day("2025-06-01"), To: day("2025-06-02"), ResourceIDs: []string{"PROV-9"},
		})
		if err != nil {
			t.Fatalf("scheduled orders: %v", err)
		}
		if len(got) != 1 || got[0].OrderID != "SO-4" {
			t.Fatalf("expected only SO-4, got %+v", got)
		}
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		if _, err := svc.ScheduledOrders(context.Background(), OrdersRequest{
			From: day("2025-06-02"), To: day("2025-06-01"),
		}); err == nil {
			t.Fatal("expected error for inverted range")
		}
	})
}

// One resource with two 2h slots of daily capacity over a 2-day range and a
// single confirmed 2h booking on day 1: 50% then 0%.
func TestUtilizationHalfThenIdle(t *testing.T) {
	led := &fakeLedger{bookings: []*domain.Booking{
		mkBooking("SO-1", "PROV-7", "2025-06-01", "08:00-10:00", domain.BookingConfirmed, ""),
		mkBooking("SO-2", "PROV-7", "2025-06-01", "10:00-12:00", domain.BookingCancelled, ""),
	}}
	svc := New(led, StaticCapacity{Minutes: 240})

	got, err := svc.Utilization(context.Background(), UtilizationRequest{
		From:        day("2025-06-01"),
		To:          day("2025-06-02"),
		ResourceIDs: []string{"PROV-7"},
	})
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].UtilizationPct != 50 {
		t.Fatalf("day 1: expected 50%%, got %v", got[0].UtilizationPct)
	}
	if got[1].UtilizationPct != 0 {
		t.Fatalf("day 2: expected 0%%, got %v", got[1].UtilizationPct)
	}
	if got[0].BookedMinutes != 120 {
		t.Fatalf("cancelled booking leaked into the numerator: %d booked minutes", got[0].BookedMinutes)
	}
}

func TestUtilizationDiscoversResources(t *testing.T) {
	led := &fakeLedger{bookings: []*domain.Booking{
		mkBooking("SO-1", "TEAM-3", "2025-06-01", "08:00-12:00", domain.BookingPreBooked, ""),
	}}
	svc := New(led, StaticCapacity{Minutes: 480})

	got, err := svc.Utilization(context.Background(), UtilizationRequest{
		From: day("2025-06-01"), To: day("2025-06-01"),
	})
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if len(got) != 1 || got[0].ResourceID != "TEAM-3" {
		t.Fatalf("expected discovered TEAM-3 record, got %+v", got)
	}
	if got[0].UtilizationPct != 50 {
		t.Fatalf("expected 50%%, got %v", got[0].UtilizationPct)
	}
}
