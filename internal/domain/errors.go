package domain

import (
	"errors"
	"strings"
)

var (
	// ErrSlotUnavailable is returned when a reservation loses the capacity
	// race. Callers may retry against a different window.
	ErrSlotUnavailable = errors.New("slot capacity is not available")

	// ErrHoldExpired is returned when a hold's TTL passed before confirm.
	ErrHoldExpired = errors.New("hold has expired")

	// ErrInvalidTransition is a booking state machine violation, e.g.
	// confirming a cancelled booking.
	ErrInvalidTransition = errors.New("invalid booking transition")

	// ErrStaleTransition means a compare-and-swap update lost its race;
	// the caller must re-read and decide, never blind-overwrite.
	ErrStaleTransition = errors.New("booking state changed concurrently")

	// ErrDuplicateHold is a ledger integrity violation: a hold already has
	// a live booking. Never expected in correct operation.
	ErrDuplicateHold = errors.New("hold already has a live booking")

	// ErrNotFound marks an unknown booking or slot.
	ErrNotFound = errors.New("booking not found")

	// ErrUnavailable marks an unreachable storage tier. Distinct from
	// ErrSlotUnavailable on purpose: it fails the whole operation and must
	// never be read as capacity contention.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrInvalidSlotSet marks an empty or malformed reservation request.
	ErrInvalidSlotSet = errors.New("invalid slot set")
)

// ConflictError names the slot keys that blocked a reservation.
type ConflictError struct {
	Keys []string
}

func (e *ConflictError) Error() string {
	return "slot capacity is not available: " + strings.Join(e.Keys, ", ")
}

func (e *ConflictError) Unwrap() error { return ErrSlotUnavailable }
