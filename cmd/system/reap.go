package system

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/talktorobson/yellow-grid-booking/config"
	"github.com/talktorobson/yellow-grid-booking/internal/clock"
	"github.com/talktorobson/yellow-grid-booking/internal/ledger"
	"github.com/talktorobson/yellow-grid-booking/internal/registry"
	"github.com/talktorobson/yellow-grid-booking/internal/service/booking"
	"github.com/talktorobson/yellow-grid-booking/pkg/database"
	redispkg "github.com/talktorobson/yellow-grid-booking/pkg/redis"
)

// NewReapCommand runs a single expiry sweep. Useful for operations when
// the in-process reaper is disabled or a backlog needs draining.
func NewReapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Run one expired-hold sweep against the registry and ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := cmd.Root().PersistentFlags().GetString("config")
			if err != nil {
				return fmt.Errorf("failed to get config flag: %w", err)
			}
			cfg, err := config.ReadConfig(filepath.Dir(cfgPath))
			if err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			rdb, err := redispkg.NewRedisFromCentral(cfg.Redis)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			defer rdb.Close()

			pool, err := database.NewPool(ctx, database.FromCentralConfig(cfg.Database))
			if err != nil {
				return fmt.Errorf("failed to open database pool: %w", err)
			}
			defer pool.Close()

			clk := clock.NewSystem()
			svc := booking.New(
				registry.New(rdb, clk),
				ledger.New(pool),
				booking.NopPublisher{},
				clk,
				cfg.Booking.SweepBatchSize,
			)

			total := 0
			for {
				n, err := svc.ReapExpired(ctx)
				if err != nil {
					return fmt.Errorf("sweep failed after %d bookings: %w", total, err)
				}
				total += n
				if n == 0 {
					break
				}
			}

			fmt.Printf("Reaped %d expired bookings.\n", total)
			return nil
		},
	}

	return cmd
}
