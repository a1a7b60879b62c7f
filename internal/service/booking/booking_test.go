package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talktorobson/yellow-grid-booking/internal/clock"
	"github.com/talktorobson/yellow-grid-booking/internal/domain"
)

// ---------------------------------------------------------------------------
// Fakes — same contracts as the Redis registry and Postgres ledger
// ---------------------------------------------------------------------------

type fakeHold struct {
	claims    []domain.SlotClaim
	status    domain.HoldStatus
	expiresAt time.Time
}

type fakeRegistry struct {
	mu    sync.Mutex
	clk   clock.Clock
	holds map[uuid.UUID]*fakeHold

	// releaseHook, when set, runs once at the start of the next Release,
	// before any state changes. Lets a test interleave a competing call
	// inside the release-then-transition window of Cancel.
	releaseHook func()
}

func newFakeRegistry(clk clock.Clock) *fakeRegistry {
	return &fakeRegistry{clk: clk, holds: make(map[uuid.UUID]*fakeHold)}
}

func (r *fakeRegistry) live(h *fakeHold, now time.Time) bool {
	switch h.status {
	case domain.HoldConsumed:
		return true
	case domain.HoldActive:
		return h.expiresAt.After(now)
	default:
		return false
	}
}

func (r *fakeRegistry) TryReserve(_ context.Context, claims []domain.SlotClaim, holdID uuid.UUID, _ string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clk.Now()

	var conflicts []string
	for _, c := range claims {
		count := 0
		for _, h := range r.holds {
			if !r.live(h, now) {
				continue
			}
			for _, hc := range h.claims {
				if hc.Key == c.Key {
					count++
				}
			}
		}
		if count+1 > c.Capacity {
			conflicts = append(conflicts, c.Key)
		}
	}
	if len(conflicts) > 0 {
		return &domain.ConflictError{Keys: conflicts}
	}
	r.holds[holdID] = &fakeHold{
		claims:    claims,
		status:    domain.HoldActive,
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (r *fakeRegistry) Release(_ context.Context, holdID uuid.UUID) error {
	if r.releaseHook != nil {
		hook := r.releaseHook
		r.releaseHook = nil
		hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.holds[holdID]; ok && (h.status == domain.HoldActive || h.status == domain.HoldConsumed) {
		h.status = domain.HoldReleased
	}
	return nil
}

func (r *fakeRegistry) IsExpired(_ context.Context, holdID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[holdID]
	if !ok {
		return true, nil
	}
	switch h.status {
	case domain.HoldExpired:
		return true, nil
	case domain.HoldActive:
		return !h.expiresAt.After(r.clk.Now()), nil
	default:
		return false, nil
	}
}

func (r *fakeRegistry) HoldState(_ context.Context, holdID uuid.UUID) (domain.HoldStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[holdID]
	if !ok {
		return "", nil
	}
	return h.status, nil
}

func (r *fakeRegistry) Consume(_ context.Context, holdID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[holdID]
	if !ok {
		return domain.ErrHoldExpired
	}
	if h.status == domain.HoldConsumed {
		return nil
	}
	if h.status != domain.HoldActive || !h.expiresAt.After(r.clk.Now()) {
		return domain.ErrHoldExpired
	}
	h.status = domain.HoldConsumed
	return nil
}

func (r *fakeRegistry) Revive(_ context.Context, holdID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.holds[holdID]; ok && h.status == domain.HoldConsumed {
		h.status = domain.HoldActive
	}
	return nil
}

func (r *fakeRegistry) SweepExpired(_ context.Context, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clk.Now()
	var out []uuid.UUID
	for id, h := range r.holds {
		if len(out) >= limit {
			break
		}
		if h.status == domain.HoldActive && !h.expiresAt.After(now) {
			h.status = domain.HoldExpired
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeLedger struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*domain.Booking
	createErr  error
	numCreates int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[uuid.UUID]*domain.Booking)}
}

func (l *fakeLedger) Create(_ context.Context, b *domain.Booking) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.numCreates++
	if l.createErr != nil {
		return l.createErr
	}
	for _, row := range l.rows {
		if row.HoldID == b.HoldID && !row.Status.Terminal() {
			return domain.ErrDuplicateHold
		}
	}
	cp := *b
	l.rows[b.ID] = &cp
	return nil
}

func (l *fakeLedger) Find(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (l *fakeLedger) FindByHold(_ context.Context, holdID uuid.UUID) (*domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range l.rows {
		if row.HoldID == holdID && !row.Status.Terminal() {
			cp := *row
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (l *fakeLedger) FindByOrder(_ context.Context, orderID string) ([]*domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Booking
	for _, row := range l.rows {
		if row.OrderID == orderID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *fakeLedger) ListLive(_ context.Context, limit int) ([]*domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Booking
	for _, row := range l.rows {
		if len(out) >= limit {
			break
		}
		if !row.Status.Terminal() {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *fakeLedger) Transition(_ context.Context, id uuid.UUID, from, to domain.BookingStatus, patch domain.TransitionPatch) (*domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if row.Status != from {
		return nil, domain.ErrStaleTransition
	}
	row.Status = to
	if patch.ConfirmedAt != nil {
		row.ConfirmedAt = patch.ConfirmedAt
	}
	if patch.CancelledAt != nil {
		row.CancelledAt = patch.CancelledAt
	}
	if patch.CancelReason != nil {
		row.CancelReason = patch.CancelReason
	}
	cp := *row
	return &cp, nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

const hotKey = "PROV-7|2025-06-01|08:00-10:00"

func newTestService(t *testing.T) (Service, *fakeRegistry, *fakeLedger, *clock.Fixed) {
	t.Helper()
	clk := clock.NewFixed(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	reg := newFakeRegistry(clk)
	led := newFakeLedger()
	svc := New(reg, led, NopPublisher{}, clk, 100)
	return svc, reg, led, clk
}

func preBookOne(t *testing.T, svc Service, orderID, key string, ttl time.Duration) *domain.Booking {
	t.Helper()
	b, err := svc.PreBook(context.Background(), PreBookRequest{
		OrderID:     orderID,
		Slots:       []domain.SlotClaim{{Key: key, Capacity: 1}},
		RequestedBy: "tech-ops",
		TTL:         ttl,
	})
	if err != nil {
		t.Fatalf("preBook: %v", err)
	}
	return b
}

func TestPreBookConcurrentExclusivity(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.PreBook(ctx, PreBookRequest{
				OrderID: "SO-9",
				Slots:   []domain.SlotClaim{{Key: hotKey, Capacity: 1}},
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrSlotUnavailable):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner for capacity=1, got %d", wins)
	}
}

func TestPreBookAllOrNothing(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	otherKey := "PROV-8|2025-06-01|08:00-10:00"
	preBookOne(t, svc, "SO-1", hotKey, 0)

	// Second order wants the contended key plus a free one: neither must be
	// reserved.
	_, err := svc.PreBook(ctx, PreBookRequest{
		OrderID: "SO-2",
		Slots: []domain.SlotClaim{
			{Key: hotKey, Capacity: 1},
			{Key: otherKey, Capacity: 1},
		},
	})
	var ce *domain.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(ce.Keys) != 1 || ce.Keys[0] != hotKey {
		t.Fatalf("conflict should name the contended key only, got %v", ce.Keys)
	}

	// The free key must still be reservable by someone else.
	preBookOne(t, svc, "SO-3", otherKey, 0)
}

func TestCancelIdempotentFreesCapacityOnce(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	b := preBookOne(t, svc, "SO-1", hotKey, 0)

	first, err := svc.Cancel(ctx, b.ID, "customer withdrew")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if first.Status != domain.BookingCancelled {
		t.Fatalf("expected CANCELLED, got %s", first.Status)
	}

	second, err := svc.Cancel(ctx, b.ID, "customer withdrew again")
	if err != nil {
		t.Fatalf("second cancel must be a no-op, got %v", err)
	}
	if second.Status != domain.BookingCancelled {
		t.Fatalf("expected CANCELLED on repeat, got %s", second.Status)
	}
	if second.CancelReason == nil || *second.CancelReason != "customer withdrew" {
		t.Fatalf("repeat cancel must not overwrite the original reason")
	}

	// Capacity returned to baseline exactly once.
	preBookOne(t, svc, "SO-2", hotKey, 0)
}

func TestConfirmAfterExpiry(t *testing.T) {
	svc, _, led, clk := newTestService(t)
	ctx := context.Background()

	b := preBookOne(t, svc, "SO-1", hotKey, time.Hour)
	clk.Advance(2 * time.Hour)

	_, err := svc.Confirm(ctx, b.ID)
	if !errors.Is(err, domain.ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}

	got, err := led.Find(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.BookingExpired {
		t.Fatalf("booking must self-heal to EXPIRED, got %s", got.Status)
	}
}

func TestConfirmSurvivesTTLAndCancelFrees(t *testing.T) {
	svc, _, _, clk := newTestService(t)
	ctx := context.Background()

	b := preBookOne(t, svc, "SO-1", hotKey, time.Hour)
	confirmed, err := svc.Confirm(ctx, b.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.BookingConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("bad confirmed booking: %+v", confirmed)
	}

	// The reservation is now booking-bound: far past the TTL it still holds
	// capacity and the reaper must not touch it.
	clk.Advance(72 * time.Hour)
	if n, err := svc.ReapExpired(ctx); err != nil || n != 0 {
		t.Fatalf("reaper must skip consumed holds, reaped=%d err=%v", n, err)
	}
	if _, err := svc.PreBook(ctx, PreBookRequest{
		OrderID: "SO-2",
		Slots:   []domain.SlotClaim{{Key: hotKey, Capacity: 1}},
	}); !errors.Is(err, domain.ErrSlotUnavailable) {
		t.Fatalf("confirmed booking must still hold capacity, got %v", err)
	}

	// Cancelling a confirmed booking always frees capacity.
	if _, err := svc.Cancel(ctx, b.ID, "rescheduled"); err != nil {
		t.Fatalf("cancel confirmed: %v", err)
	}
	preBookOne(t, svc, "SO-3", hotKey, 0)
}

func TestCancelLosingConfirmRaceStillCancels(t *testing.T) {
	svc, reg, led, _ := newTestService(t)
	ctx := context.Background()

	b := preBookOne(t, svc, "SO-1", hotKey, 0)

	// A confirm lands inside cancel's window between its status read and the
	// registry release. The cancel has already freed the capacity, so it must
	// still win the ledger: a CONFIRMED booking over a released hold would let
	// another order double-book the same keys.
	reg.releaseHook = func() {
		if _, err := svc.Confirm(ctx, b.ID); err != nil {
			t.Errorf("interleaved confirm: %v", err)
		}
	}

	cancelled, err := svc.Cancel(ctx, b.ID, "customer withdrew")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.BookingCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	got, err := led.Find(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.BookingCancelled {
		t.Fatalf("ledger must converge to CANCELLED, got %s", got.Status)
	}

	// Capacity and ledger agree: the key is reservable again.
	preBookOne(t, svc, "SO-2", hotKey, 0)
}

func TestConfirmInvalidTransition(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	b := preBookOne(t, svc, "SO-1", hotKey, 0)
	if _, err := svc.Cancel(ctx, b.ID, "nope"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err := svc.Confirm(ctx, b.ID)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPreBookCompensatesLedgerFailure(t *testing.T) {
	svc, _, led, _ := newTestService(t)
	ctx := context.Background()

	led.createErr = errors.New("ledger down")
	_, err := svc.PreBook(ctx, PreBookRequest{
		OrderID: "SO-1",
		Slots:   []domain.SlotClaim{{Key: hotKey, Capacity: 1}},
	})
	if err == nil {
		t.Fatal("expected error when ledger write fails")
	}

	// The compensating release must have freed the reservation.
	led.createErr = nil
	preBookOne(t, svc, "SO-2", hotKey, 0)
}

func TestReaperConvergence(t *testing.T) {
	svc, _, led, clk := newTestService(t)
	ctx := context.Background()

	b := preBookOne(t, svc, "SO-1", hotKey, time.Second)
	clk.Advance(2 * time.Second)

	n, err := svc.ReapExpired(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped booking, got %d", n)
	}

	got, err := led.Find(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.BookingExpired {
		t.Fatalf("expected EXPIRED, got %s", got.Status)
	}

	// The slot key is reservable again.
	preBookOne(t, svc, "SO-2", hotKey, 0)
}

func TestReaperFinishesInterruptedCancel(t *testing.T) {
	svc, reg, led, _ := newTestService(t)
	ctx := context.Background()

	b := preBookOne(t, svc, "SO-1", hotKey, 0)
	if _, err := svc.Confirm(ctx, b.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Crash window: the cancel released the hold but never reached the
	// ledger. The booking looks CONFIRMED while its capacity is gone.
	if err := reg.Release(ctx, b.HoldID); err != nil {
		t.Fatalf("release: %v", err)
	}

	n, err := svc.ReapExpired(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reconciled booking, got %d", n)
	}

	got, err := led.Find(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.BookingCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	if got.CancelledAt == nil {
		t.Fatal("reconciled cancel must stamp cancelled_at")
	}

	preBookOne(t, svc, "SO-2", hotKey, 0)
}

func TestReaperExpiresBookingWithVanishedHold(t *testing.T) {
	svc, reg, led, _ := newTestService(t)
	ctx := context.Background()

	b := preBookOne(t, svc, "SO-1", hotKey, 0)

	// The hold hash is gone entirely, e.g. lost to an eviction; the sweep
	// index no longer knows it, so only the ledger-side pass can see it.
	reg.mu.Lock()
	delete(reg.holds, b.HoldID)
	reg.mu.Unlock()

	n, err := svc.ReapExpired(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reconciled booking, got %d", n)
	}

	got, err := led.Find(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.BookingExpired {
		t.Fatalf("expected EXPIRED, got %s", got.Status)
	}
}

func TestDuplicateHoldIsSurfacedNotSwallowed(t *testing.T) {
	svc, _, led, _ := newTestService(t)
	ctx := context.Background()

	led.createErr = domain.ErrDuplicateHold
	_, err := svc.PreBook(ctx, PreBookRequest{
		OrderID: "SO-1",
		Slots:   []domain.SlotClaim{{Key: hotKey, Capacity: 1}},
	})
	if !errors.Is(err, domain.ErrDuplicateHold) {
		t.Fatalf("expected ErrDuplicateHold, got %v", err)
	}
}

// The full scenario from the product brief: pre-book, contended retry,
// cancel, retry succeeds.
func TestScenarioContendedRetry(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.PreBook(ctx, PreBookRequest{
		OrderID: "SO-1",
		Slots:   []domain.SlotClaim{{Key: hotKey, Capacity: 1}},
		TTL:     48 * time.Hour,
	})
	if err != nil {
		t.Fatalf("first preBook: %v", err)
	}
	if first.Status != domain.BookingPreBooked {
		t.Fatalf("expected PRE_BOOKED, got %s", first.Status)
	}
	if !first.ExpiresAt.After(first.CreatedAt) {
		t.Fatalf("expiresAt must follow createdAt")
	}

	_, err = svc.PreBook(ctx, PreBookRequest{
		OrderID: "SO-2",
		Slots:   []domain.SlotClaim{{Key: hotKey, Capacity: 1}},
	})
	if !errors.Is(err, domain.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	if _, err := svc.Cancel(ctx, first.ID, "quote declined"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	second, err := svc.PreBook(ctx, PreBookRequest{
		OrderID: "SO-2",
		Slots:   []domain.SlotClaim{{Key: hotKey, Capacity: 1}},
	})
	if err != nil {
		t.Fatalf("retry preBook: %v", err)
	}
	if second.Status != domain.BookingPreBooked {
		t.Fatalf("expected PRE_BOOKED, got %s", second.Status)
	}
}
