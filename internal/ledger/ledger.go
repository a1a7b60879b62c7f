// Package ledger is the durable tier of the booking engine: an
// append-oriented Postgres record of booking lifecycle. It is the single
// arbiter of booking status and history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talktorobson/yellow-grid-booking/internal/domain"
)

type Ledger struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

const bookingColumns = `id, order_id, hold_id, status, slot_keys, resource_ids,
	country_code, requested_by, starts_on, ends_on, expires_at, created_at,
	confirmed_at, cancelled_at, cancel_reason`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.OrderID, &b.HoldID, &b.Status, &b.SlotKeys, &b.ResourceIDs,
		&b.CountryCode, &b.RequestedBy, &b.StartsOn, &b.EndsOn, &b.ExpiresAt,
		&b.CreatedAt, &b.ConfirmedAt, &b.CancelledAt, &b.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create persists a new PRE_BOOKED booking. A partial unique index over
// live statuses enforces at-most-one booking per hold; a violation surfaces
// as ErrDuplicateHold.
func (l *Ledger) Create(ctx context.Context, b *domain.Booking) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO bookings (id, order_id, hold_id, status, slot_keys,
			resource_ids, country_code, requested_by, starts_on, ends_on,
			expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.OrderID, b.HoldID, b.Status, b.SlotKeys, b.ResourceIDs,
		b.CountryCode, b.RequestedBy, b.StartsOn, b.EndsOn, b.ExpiresAt,
		b.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("hold %s: %w", b.HoldID, domain.ErrDuplicateHold)
		}
		return fmt.Errorf("%w: create booking: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// Transition is a compare-and-swap status update: it applies only when the
// current status equals from. A lost race surfaces as ErrStaleTransition so
// the caller re-reads instead of blind-overwriting.
func (l *Ledger) Transition(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus, patch domain.TransitionPatch) (*domain.Booking, error) {
	row := l.pool.QueryRow(ctx, `
		UPDATE bookings SET
			status = $3,
			confirmed_at = COALESCE($4, confirmed_at),
			cancelled_at = COALESCE($5, cancelled_at),
			cancel_reason = COALESCE($6, cancel_reason)
		WHERE id = $1 AND status = $2
		RETURNING `+bookingColumns,
		id, from, to, patch.ConfirmedAt, patch.CancelledAt, patch.CancelReason,
	)
	b, err := scanBooking(row)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transition booking: %v", domain.ErrUnavailable, err)
	}

	// CAS missed: distinguish unknown booking from a concurrent transition.
	var current domain.BookingStatus
	err = l.pool.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, id).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, domain.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: transition re-read: %v", domain.ErrUnavailable, err)
	default:
		return nil, fmt.Errorf("status is %s, expected %s: %w", current, from, domain.ErrStaleTransition)
	}
}

func (l *Ledger) Find(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(l.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find booking: %v", domain.ErrUnavailable, err)
	}
	return b, nil
}

// FindByHold returns the live (non-terminal) booking for a hold, used by the
// reaper to reconcile swept holds into the ledger.
func (l *Ledger) FindByHold(ctx context.Context, holdID uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(l.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE hold_id = $1 AND status IN ($2, $3)`,
		holdID, domain.BookingPreBooked, domain.BookingConfirmed))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find booking by hold: %v", domain.ErrUnavailable, err)
	}
	return b, nil
}

func (l *Ledger) FindByOrder(ctx context.Context, orderID string) ([]*domain.Booking, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: list bookings by order: %v", domain.ErrUnavailable, err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// ListLive returns non-terminal bookings, oldest first, for registry
// reconciliation by the reaper.
func (l *Ledger) ListLive(ctx context.Context, limit int) ([]*domain.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status IN ($1, $2) ORDER BY created_at LIMIT $3`,
		domain.BookingPreBooked, domain.BookingConfirmed, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list live bookings: %v", domain.ErrUnavailable, err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// ListByResourcesAndRange returns bookings whose schedule overlaps the date
// range; an empty resourceIDs slice means all resources.
func (l *Ledger) ListByResourcesAndRange(ctx context.Context, resourceIDs []string, from, to time.Time) ([]*domain.Booking, error) {
	if resourceIDs == nil {
		resourceIDs = []string{}
	}
	rows, err := l.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE starts_on <= $2 AND ends_on >= $1
		   AND (cardinality($3::text[]) = 0 OR resource_ids && $3)
		 ORDER BY starts_on, created_at`,
		from, to, resourceIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: list bookings by range: %v", domain.ErrUnavailable, err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

func collectBookings(rows pgx.Rows) ([]*domain.Booking, error) {
	var out []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan booking: %v", domain.ErrUnavailable, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate bookings: %v", domain.ErrUnavailable, err)
	}
	return out, nil
}
