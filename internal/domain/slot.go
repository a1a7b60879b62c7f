package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SlotKey addresses a unit of bookable capacity. Slots are never persisted
// as rows; the key is the canonical identity:
//
//	<resourceID>|<YYYY-MM-DD>|<HH:MM-HH:MM>
//
// e.g. "PROV-7|2025-06-01|08:00-10:00". The resource is a provider or a
// work team; the registry does not care which.
type SlotKey struct {
	ResourceID string
	Date       string // YYYY-MM-DD
	Start      string // HH:MM
	End        string // HH:MM
}

func (k SlotKey) String() string {
	return k.ResourceID + "|" + k.Date + "|" + k.Start + "-" + k.End
}

// Day returns the slot date as a time in UTC.
func (k SlotKey) Day() (time.Time, error) {
	return time.Parse("2006-01-02", k.Date)
}

// Minutes returns the window length of the slot.
func (k SlotKey) Minutes() (int, error) {
	start, err := time.Parse("15:04", k.Start)
	if err != nil {
		return 0, fmt.Errorf("parse window start: %w", err)
	}
	end, err := time.Parse("15:04", k.End)
	if err != nil {
		return 0, fmt.Errorf("parse window end: %w", err)
	}
	m := int(end.Sub(start).Minutes())
	if m <= 0 {
		return 0, fmt.Errorf("slot window %s-%s is empty", k.Start, k.End)
	}
	return m, nil
}

// ParseSlotKey parses the canonical slot-key format.
func ParseSlotKey(s string) (SlotKey, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 || parts[0] == "" {
		return SlotKey{}, fmt.Errorf("malformed slot key %q", s)
	}
	if _, err := time.Parse("2006-01-02", parts[1]); err != nil {
		return SlotKey{}, fmt.Errorf("slot key %q: bad date: %w", s, err)
	}
	window := strings.SplitN(parts[2], "-", 2)
	if len(window) != 2 {
		return SlotKey{}, fmt.Errorf("slot key %q: bad window %q", s, parts[2])
	}
	k := SlotKey{ResourceID: parts[0], Date: parts[1], Start: window[0], End: window[1]}
	if _, err := k.Minutes(); err != nil {
		return SlotKey{}, fmt.Errorf("slot key %q: %w", s, err)
	}
	return k, nil
}

// SlotClaim is one slot in a reservation request. Capacity is supplied by
// the caller because slot rows do not exist anywhere; the provider module
// upstream owns capacity truth. Zero means capacity 1.
type SlotClaim struct {
	Key      string `json:"key"`
	Capacity int    `json:"capacity"`
}

// NormalizeClaims validates, deduplicates and deterministically orders a
// claim set. The fixed ordering is what keeps multi-key reservations free
// of lock-ordering deadlocks downstream.
func NormalizeClaims(claims []SlotClaim) ([]SlotClaim, error) {
	if len(claims) == 0 {
		return nil, fmt.Errorf("%w: empty slot set", ErrInvalidSlotSet)
	}
	seen := make(map[string]SlotClaim, len(claims))
	for _, c := range claims {
		if _, err := ParseSlotKey(c.Key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSlotSet, err)
		}
		if c.Capacity <= 0 {
			c.Capacity = 1
		}
		if prev, ok := seen[c.Key]; ok && prev.Capacity != c.Capacity {
			return nil, fmt.Errorf("%w: conflicting capacities for slot key %q", ErrInvalidSlotSet, c.Key)
		}
		seen[c.Key] = c
	}
	out := make([]SlotClaim, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
