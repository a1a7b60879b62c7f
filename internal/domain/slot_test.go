package domain

import (
	"errors"
	"testing"
)

func TestParseSlotKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid provider key", "PROV-7|2025-06-01|08:00-10:00", false},
		{"valid work team key", "TEAM-12|2025-06-02|13:30-15:00", false},
		{"missing resource", "|2025-06-01|08:00-10:00", true},
		{"bad date", "PROV-7|06-01-2025|08:00-10:00", true},
		{"missing window separator", "PROV-7|2025-06-01|0800", true},
		{"empty window", "PROV-7|2025-06-01|10:00-10:00", true},
		{"inverted window", "PROV-7|2025-06-01|10:00-08:00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseSlotKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if k.String() != tt.key {
				t.Fatalf("round trip mismatch: got %q, want %q", k.String(), tt.key)
			}
		})
	}
}

func TestSlotKeyMinutes(t *testing.T) {
	k, err := ParseSlotKey("PROV-7|2025-06-01|08:00-10:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m, err := k.Minutes()
	if err != nil {
		t.Fatalf("minutes: %v", err)
	}
	if m != 120 {
		t.Fatalf("expected 120 minutes, got %d", m)
	}
}

func TestNormalizeClaims(t *testing.T) {
	t.Run("sorts and dedupes", func(t *testing.T) {
		claims, err := NormalizeClaims([]SlotClaim{
			{Key: "PROV-9|2025-06-01|08:00-10:00", Capacity: 2},
			{Key: "PROV-1|2025-06-01|08:00-10:00"},
			{Key: "PROV-9|2025-06-01|08:00-10:00", Capacity: 2},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(claims) != 2 {
			t.Fatalf("expected 2 claims, got %d", len(claims))
		}
		if claims[0].Key != "PROV-1|2025-06-01|08:00-10:00" {
			t.Fatalf("claims not sorted: %v", claims)
		}
		if claims[0].Capacity != 1 {
			t.Fatalf("expected capacity default 1, got %d", claims[0].Capacity)
		}
	})

	t.Run("rejects empty set", func(t *testing.T) {
		_, err := NormalizeClaims(nil)
		if !errors.Is(err, ErrInvalidSlotSet) {
			t.Fatalf("expected ErrInvalidSlotSet, got %v", err)
		}
	})

	t.Run("rejects conflicting capacities", func(t *testing.T) {
		_, err := NormalizeClaims([]SlotClaim{
			{Key: "PROV-1|2025-06-01|08:00-10:00", Capacity: 1},
			{Key: "PROV-1|2025-06-01|08:00-10:00", Capacity: 3},
		})
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestConflictErrorUnwrapsToSlotUnavailable(t *testing.T) {
	var err error = &ConflictError{Keys: []string{"PROV-7|2025-06-01|08:00-10:00"}}
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatal("ConflictError must match ErrSlotUnavailable")
	}
}
