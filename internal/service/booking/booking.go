package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talktorobson/yellow-grid-booking/internal/clock"
	"github.com/talktorobson/yellow-grid-booking/internal/domain"
)

// DefaultHoldTTL bounds the human-paced gap between a sales quote and a
// confirmed appointment.
const DefaultHoldTTL = 48 * time.Hour

// ---------------------------------------------------------------------------
// Collaborator contracts
// ---------------------------------------------------------------------------

// SlotRegistry is the fast expiring tier: the single arbiter of capacity.
type SlotRegistry interface {
	TryReserve(ctx context.Context, claims []domain.SlotClaim, holdID uuid.UUID, orderID string, ttl time.Duration) error
	Release(ctx context.Context, holdID uuid.UUID) error
	IsExpired(ctx context.Context, holdID uuid.UUID) (bool, error)
	Consume(ctx context.Context, holdID uuid.UUID) error
	Revive(ctx context.Context, holdID uuid.UUID) error
	SweepExpired(ctx context.Context, limit int) ([]uuid.UUID, error)
	// HoldState reports the raw hold status; empty when the hold is gone.
	HoldState(ctx context.Context, holdID uuid.UUID) (domain.HoldStatus, error)
}

// Ledger is the durable tier: the single arbiter of booking status.
type Ledger interface {
	Create(ctx context.Context, b *domain.Booking) error
	Find(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	FindByHold(ctx context.Context, holdID uuid.UUID) (*domain.Booking, error)
	FindByOrder(ctx context.Context, orderID string) ([]*domain.Booking, error)
	ListLive(ctx context.Context, limit int) ([]*domain.Booking, error)
	Transition(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus, patch domain.TransitionPatch) (*domain.Booking, error)
}

// Publisher emits lifecycle events for notification and sales-integration
// collaborators. Fire-and-forget: delivery guarantees are theirs, not ours.
type Publisher interface {
	Publish(ctx context.Context, event string, b *domain.Booking)
}

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

type PreBookRequest struct {
	OrderID     string
	Slots       []domain.SlotClaim
	RequestedBy string
	CountryCode string
	TTL         time.Duration
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	PreBook(ctx context.Context, req PreBookRequest) (*domain.Booking, error)
	Confirm(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (*domain.Booking, error)
	Get(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	GetByOrder(ctx context.Context, orderID string) ([]*domain.Booking, error)

	// ReapExpired reconciles expired holds into the ledger. Called by the
	// reaper, never on the request path.
	ReapExpired(ctx context.Context) (int, error)
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type bookingService struct {
	registry   SlotRegistry
	ledger     Ledger
	events     Publisher
	clk        clock.Clock
	sweepBatch int
	defaultTTL time.Duration
}

type Option func(*bookingService)

// WithDefaultTTL overrides the hold TTL applied when a request does not
// carry one.
func WithDefaultTTL(d time.Duration) Option {
	return func(s *bookingService) {
		if d > 0 {
			s.defaultTTL = d
		}
	}
}

func New(registry SlotRegistry, ledger Ledger, events Publisher, clk clock.Clock, sweepBatch int, opts ...Option) Service {
	if sweepBatch <= 0 {
		sweepBatch = 100
	}
	s := &bookingService{
		registry:   registry,
		ledger:     ledger,
		events:     events,
		clk:        clk,
		sweepBatch: sweepBatch,
		defaultTTL: DefaultHoldTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PreBook reserves the slot set atomically and then writes the PRE_BOOKED
// row. The two tiers are not transactional together, so a ledger failure is
// compensated by releasing the fresh reservation before returning.
func (s *bookingService) PreBook(ctx context.Context, req PreBookRequest) (*domain.Booking, error) {
	claims, err := domain.NormalizeClaims(req.Slots)
	if err != nil {
		return nil, err
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	holdID := uuid.New()
	if err := s.registry.TryReserve(ctx, claims, holdID, req.OrderID, ttl); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	b := &domain.Booking{
		ID:          uuid.New(),
		OrderID:     req.OrderID,
		HoldID:      holdID,
		Status:      domain.BookingPreBooked,
		CountryCode: req.CountryCode,
		RequestedBy: req.RequestedBy,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	for _, c := range claims {
		b.SlotKeys = append(b.SlotKeys, c.Key)
	}
	b.ResourceIDs, b.StartsOn, b.EndsOn, err = describeSlots(b.SlotKeys)
	if err != nil {
		s.compensateReserve(ctx, holdID)
		return nil, err
	}

	if err := s.ledger.Create(ctx, b); err != nil {
		s.compensateReserve(ctx, holdID)
		if errors.Is(err, domain.ErrDuplicateHold) {
			// Contract violation: holdID is freshly generated, a duplicate
			// means ledger integrity is broken. Abort loudly.
			slog.Error("duplicate hold on freshly generated id",
				"hold_id", holdID, "order_id", req.OrderID, "err", err)
		}
		return nil, err
	}

	s.events.Publish(ctx, EventPreBooked, b)
	return b, nil
}

// Confirm promotes a PRE_BOOKED booking whose hold is still alive. The hold
// is consumed (made non-expiring) before the ledger flip; a failed flip
// revives the TTL so capacity is never stranded.
func (s *bookingService) Confirm(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	b, err := s.ledger.Find(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingPreBooked {
		return nil, fmt.Errorf("booking is %s: %w", b.Status, domain.ErrInvalidTransition)
	}

	expired, err := s.registry.IsExpired(ctx, b.HoldID)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, s.healExpired(ctx, b)
	}

	if err := s.registry.Consume(ctx, b.HoldID); err != nil {
		if errors.Is(err, domain.ErrHoldExpired) {
			return nil, s.healExpired(ctx, b)
		}
		return nil, err
	}

	now := s.clk.Now()
	confirmed, err := s.ledger.Transition(ctx, b.ID,
		domain.BookingPreBooked, domain.BookingConfirmed,
		domain.TransitionPatch{ConfirmedAt: &now})
	if err != nil {
		if reviveErr := s.registry.Revive(ctx, b.HoldID); reviveErr != nil {
			slog.Error("revive after failed confirm", "hold_id", b.HoldID, "err", reviveErr)
		}
		return nil, err
	}

	s.events.Publish(ctx, EventConfirmed, confirmed)
	return confirmed, nil
}

// Cancel is idempotent: terminal bookings are returned unchanged and their
// capacity is freed exactly once. Release precedes the ledger write by
// design — a crash in between leaves capacity correctly freed with a
// booking that still looks live, which the next confirm or reap repairs
// via missing-hold detection.
func (s *bookingService) Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (*domain.Booking, error) {
	b, err := s.ledger.Find(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return b, nil
	}

	if err := s.registry.Release(ctx, b.HoldID); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	patch := domain.TransitionPatch{CancelledAt: &now}
	if reason != "" {
		patch.CancelReason = &reason
	}

	// The hold is already released, so the cancel MUST land in the ledger:
	// a concurrent confirm that wins the CAS is now backed by freed
	// capacity, and leaving it CONFIRMED would let another order re-reserve
	// the same keys. Retry from whatever status the race left behind;
	// CONFIRMED -> CANCELLED is a legal transition.
	from := b.Status
	for {
		cancelled, err := s.ledger.Transition(ctx, b.ID, from, domain.BookingCancelled, patch)
		if err == nil {
			s.events.Publish(ctx, EventCancelled, cancelled)
			return cancelled, nil
		}
		if !errors.Is(err, domain.ErrStaleTransition) {
			return nil, err
		}
		current, findErr := s.ledger.Find(ctx, b.ID)
		if findErr != nil {
			return nil, err
		}
		if current.Status.Terminal() {
			// The other writer already terminated it; stay idempotent.
			return current, nil
		}
		from = current.Status
	}
}

func (s *bookingService) Get(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return s.ledger.Find(ctx, bookingID)
}

func (s *bookingService) GetByOrder(ctx context.Context, orderID string) ([]*domain.Booking, error) {
	return s.ledger.FindByOrder(ctx, orderID)
}

// ReapExpired sweeps expired holds out of the registry and materializes
// EXPIRED into the ledger. Races with concurrent confirm/cancel resolve via
// the ledger's compare-and-swap: last transition wins, the loser is a no-op.
func (s *bookingService) ReapExpired(ctx context.Context) (int, error) {
	holdIDs, err := s.registry.SweepExpired(ctx, s.sweepBatch)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, holdID := range holdIDs {
		b, err := s.ledger.FindByHold(ctx, holdID)
		if errors.Is(err, domain.ErrNotFound) {
			continue // already handled by a concurrent confirm/cancel
		}
		if err != nil {
			return reaped, err
		}
		if b.Status != domain.BookingPreBooked {
			continue
		}
		expired, err := s.ledger.Transition(ctx, b.ID,
			domain.BookingPreBooked, domain.BookingExpired, domain.TransitionPatch{})
		if err != nil {
			if errors.Is(err, domain.ErrStaleTransition) || errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return reaped, err
		}
		s.events.Publish(ctx, EventExpired, expired)
		reaped++
	}

	n, err := s.reconcileOrphans(ctx)
	return reaped + n, err
}

// reconcileOrphans finalizes live bookings whose hold no longer backs them.
// This is the repair path for the crash window between a registry release
// and its ledger write: the hold is gone from the sweep index, so only a
// ledger-side scan can find the booking.
func (s *bookingService) reconcileOrphans(ctx context.Context) (int, error) {
	live, err := s.ledger.ListLive(ctx, s.sweepBatch)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, b := range live {
		st, err := s.registry.HoldState(ctx, b.HoldID)
		if err != nil {
			return fixed, err
		}
		if st == domain.HoldActive || st == domain.HoldConsumed {
			continue
		}

		// Capacity is already freed; the ledger has to follow. A released
		// hold is an interrupted cancel, everything else lapsed.
		to, event := domain.BookingCancelled, EventCancelled
		patch := domain.TransitionPatch{}
		if st != domain.HoldReleased && b.Status == domain.BookingPreBooked {
			to, event = domain.BookingExpired, EventExpired
		} else {
			now := s.clk.Now()
			patch.CancelledAt = &now
		}

		done, err := s.ledger.Transition(ctx, b.ID, b.Status, to, patch)
		if err != nil {
			if errors.Is(err, domain.ErrStaleTransition) || errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return fixed, err
		}
		s.events.Publish(ctx, event, done)
		fixed++
	}
	return fixed, nil
}

// healExpired reconciles a booking whose hold died before confirm: the
// booking moves to EXPIRED rather than being left stale, and the caller
// still sees ErrHoldExpired.
func (s *bookingService) healExpired(ctx context.Context, b *domain.Booking) error {
	expired, err := s.ledger.Transition(ctx, b.ID,
		domain.BookingPreBooked, domain.BookingExpired, domain.TransitionPatch{})
	if err != nil {
		if !errors.Is(err, domain.ErrStaleTransition) && !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("self-heal of expired booking failed", "booking_id", b.ID, "err", err)
		}
	} else {
		s.events.Publish(ctx, EventExpired, expired)
	}
	return fmt.Errorf("booking %s: %w", b.ID, domain.ErrHoldExpired)
}

func (s *bookingService) compensateReserve(ctx context.Context, holdID uuid.UUID) {
	if err := s.registry.Release(ctx, holdID); err != nil {
		// The hold still has its TTL; capacity converges once it lapses.
		slog.Error("compensating release failed", "hold_id", holdID, "err", err)
	}
}

func describeSlots(keys []string) (resourceIDs []string, startsOn, endsOn time.Time, err error) {
	seen := map[string]bool{}
	for _, raw := range keys {
		k, perr := domain.ParseSlotKey(raw)
		if perr != nil {
			return nil, time.Time{}, time.Time{}, perr
		}
		day, derr := k.Day()
		if derr != nil {
			return nil, time.Time{}, time.Time{}, derr
		}
		if startsOn.IsZero() || day.Before(startsOn) {
			startsOn = day
		}
		if day.After(endsOn) {
			endsOn = day
		}
		if !seen[k.ResourceID] {
			seen[k.ResourceID] = true
			resourceIDs = append(resourceIDs, k.ResourceID)
		}
	}
	return resourceIDs, startsOn, endsOn, nil
}
