package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the bookings schema. Statements are idempotent so the
// command can run on every deploy.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id            uuid PRIMARY KEY,
			order_id      text NOT NULL,
			hold_id       uuid NOT NULL,
			status        text NOT NULL,
			slot_keys     text[] NOT NULL,
			resource_ids  text[] NOT NULL,
			country_code  text NOT NULL DEFAULT '',
			requested_by  text NOT NULL,
			starts_on     date NOT NULL,
			ends_on       date NOT NULL,
			expires_at    timestamptz NOT NULL,
			created_at    timestamptz NOT NULL,
			confirmed_at  timestamptz,
			cancelled_at  timestamptz,
			cancel_reason text
		)`,
		// At most one live booking per hold.
		`CREATE UNIQUE INDEX IF NOT EXISTS bookings_live_hold_idx
			ON bookings (hold_id)
			WHERE status IN ('PRE_BOOKED', 'CONFIRMED')`,
		`CREATE INDEX IF NOT EXISTS bookings_order_idx ON bookings (order_id)`,
		`CREATE INDEX IF NOT EXISTS bookings_range_idx ON bookings (starts_on, ends_on)`,
		`CREATE INDEX IF NOT EXISTS bookings_resources_idx ON bookings USING gin (resource_ids)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
