// Package reaper runs the background sweep that reconciles expired holds
// back into free capacity and materializes EXPIRED bookings in the ledger.
// It never runs on the request path.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/talktorobson/yellow-grid-booking/internal/service/booking"
)

const DefaultInterval = time.Minute

type Reaper struct {
	svc      booking.Service
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func New(svc booking.Service, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		svc:      svc,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Returns immediately.
func (r *Reaper) Start() {
	go r.run()
	slog.Info("reaper: started", "interval", r.interval)
}

// Stop waits for an in-flight sweep to finish.
func (r *Reaper) Stop(ctx context.Context) error {
	close(r.stop)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reaper) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := r.svc.ReapExpired(ctx)
	if err != nil {
		slog.Warn("reaper: sweep failed", "err", err)
		return
	}
	if n > 0 {
		slog.Info("reaper: expired bookings reconciled", "count", n)
	}
}
