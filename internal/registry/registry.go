// Package registry is the fast tier of the booking engine: an atomic,
// TTL-bounded reservation store for slot capacity, backed by Redis. It is
// the single arbiter of capacity; the durable ledger never counts slots.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/talktorobson/yellow-grid-booking/internal/clock"
	"github.com/talktorobson/yellow-grid-booking/internal/domain"
)

const (
	holdKeyPrefix = "{yg:booking}:hold:"
	slotKeyPrefix = "{yg:booking}:slot:"
	sweepIndexKey = "{yg:booking}:holds"
)

type Registry struct {
	rdb *goredis.Client
	clk clock.Clock
}

func New(rdb *goredis.Client, clk clock.Clock) *Registry {
	return &Registry{rdb: rdb, clk: clk}
}

func holdKey(id uuid.UUID) string { return holdKeyPrefix + id.String() }

// TryReserve claims every slot in the set under holdID, or nothing at all.
// Claims must already be normalized (sorted, deduped, capacity > 0); the
// sorted order keeps the script's key walk deterministic.
func (r *Registry) TryReserve(ctx context.Context, claims []domain.SlotClaim, holdID uuid.UUID, orderID string, ttl time.Duration) error {
	if len(claims) == 0 {
		return domain.ErrInvalidSlotSet
	}
	now := r.clk.Now()

	keys := make([]string, 0, len(claims)+2)
	raw := make([]string, 0, len(claims))
	args := []interface{}{
		now.Unix(),
		now.Add(ttl).Unix(),
		holdID.String(),
		orderID,
		len(claims),
	}
	for _, c := range claims {
		keys = append(keys, slotKeyPrefix+c.Key)
		raw = append(raw, c.Key)
		args = append(args, c.Capacity)
	}
	keys = append(keys, holdKey(holdID), sweepIndexKey)
	args = append(args, strings.Join(raw, "\n"))

	res, err := reserveScript.Run(ctx, r.rdb, keys, args...).Result()
	if err != nil {
		return fmt.Errorf("%w: reserve: %v", domain.ErrUnavailable, err)
	}

	conflicts, ok := res.([]interface{})
	if !ok {
		return fmt.Errorf("%w: reserve: unexpected reply %T", domain.ErrUnavailable, res)
	}
	if len(conflicts) > 0 {
		ce := &domain.ConflictError{Keys: make([]string, 0, len(conflicts))}
		for _, c := range conflicts {
			ce.Keys = append(ce.Keys, fmt.Sprint(c))
		}
		return ce
	}
	return nil
}

// Release frees every slot key reserved by holdID. Idempotent.
func (r *Registry) Release(ctx context.Context, holdID uuid.UUID) error {
	err := releaseScript.Run(ctx, r.rdb,
		[]string{holdKey(holdID), sweepIndexKey},
		holdID.String(), string(domain.HoldReleased),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: release: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// IsExpired reports whether the hold can no longer back a confirm. A hold
// that vanished entirely (swept, or lost to a crash window) counts as
// expired so the caller self-heals instead of trusting stale state.
func (r *Registry) IsExpired(ctx context.Context, holdID uuid.UUID) (bool, error) {
	vals, err := r.rdb.HMGet(ctx, holdKey(holdID), "status", "expires_at").Result()
	if err != nil {
		return false, fmt.Errorf("%w: inspect hold: %v", domain.ErrUnavailable, err)
	}
	status, _ := vals[0].(string)
	switch domain.HoldStatus(status) {
	case domain.HoldConsumed, domain.HoldReleased:
		return false, nil
	case domain.HoldExpired:
		return true, nil
	case domain.HoldActive:
		expStr, _ := vals[1].(string)
		exp, err := strconv.ParseInt(expStr, 10, 64)
		if err != nil {
			return true, nil
		}
		return exp <= r.clk.Now().Unix(), nil
	default:
		// Hold hash missing.
		return true, nil
	}
}

// HoldState returns the stored hold status, or empty when the hold hash is
// gone. Unlike IsExpired it does not interpret the state; the reaper uses
// the raw value to decide between expiry and an interrupted cancel.
func (r *Registry) HoldState(ctx context.Context, holdID uuid.UUID) (domain.HoldStatus, error) {
	status, err := r.rdb.HGet(ctx, holdKey(holdID), "status").Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: hold state: %v", domain.ErrUnavailable, err)
	}
	return domain.HoldStatus(status), nil
}

// Consume converts the reservation's lifetime from TTL-bound to
// booking-bound. Fails with ErrHoldExpired when the TTL already passed.
func (r *Registry) Consume(ctx context.Context, holdID uuid.UUID) error {
	res, err := consumeScript.Run(ctx, r.rdb,
		[]string{holdKey(holdID), sweepIndexKey},
		holdID.String(), r.clk.Now().Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: consume: %v", domain.ErrUnavailable, err)
	}
	if res != 1 {
		return domain.ErrHoldExpired
	}
	return nil
}

// Revive undoes Consume, restoring the retained expiry. Compensating action
// for a ledger write that failed after the hold was consumed.
func (r *Registry) Revive(ctx context.Context, holdID uuid.UUID) error {
	err := reviveScript.Run(ctx, r.rdb,
		[]string{holdKey(holdID), sweepIndexKey},
		holdID.String(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: revive: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// SweepExpired atomically releases all expired ACTIVE holds, up to limit,
// and returns their ids for ledger reconciliation.
func (r *Registry) SweepExpired(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := sweepScript.Run(ctx, r.rdb,
		[]string{sweepIndexKey},
		r.clk.Now().Unix(), limit,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: sweep: %v", domain.ErrUnavailable, err)
	}
	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: sweep: unexpected reply %T", domain.ErrUnavailable, res)
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		id, err := uuid.Parse(fmt.Sprint(it))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
