package job

import (
	"context"
	"fmt"
	"time"

	"docrag/src/core/rag"
)

// Throttle caps how often jobs of one type may start. Requests beyond the
// rate are scheduled later, up to maxWait, and rejected past that. Slots are
// booked in a SlotStore, so throttles sharing a store and name share a budget.
type Throttle struct {
	slots    SlotStore
	name     string
	interval time.Duration
	maxWait  time.Duration
}

// NewThrottle allows limit starts per period for the jobs booked under name.
// Starts are spaced period/limit apart, so any window of length period holds
// at most limit of them. A zero limit or period disables the throttle.
func NewThrottle(slots SlotStore, name string, limit int, period, maxWait time.Duration) *Throttle {
	t := &Throttle{slots: slots, name: name, maxWait: maxWait}
	if limit > 0 && period > 0 {
		t.interval = period / time.Duration(limit)
	}
	return t
}

// Reserve books a start slot and returns the earliest time the job may run.
func (t *Throttle) Reserve(ctx context.Context, now time.Time) (time.Time, error) {
	if t.interval <= 0 {
		return now, nil
	}

	at, ok, err := t.slots.ReserveSlot(ctx, t.name, now, t.interval, t.maxWait)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to reserve %s slot: %w", t.name, err)
	}
	if !ok {
		return time.Time{}, rag.NewError(rag.ErrThrottled, false, nil,
			"throttle queue full, next slot in %s", at.Sub(now).Round(time.Second))
	}
	return at, nil
}

// SourceCooldown rejects repeat ingestion of a source inside a window.
type SourceCooldown struct {
	store  CooldownStore
	window time.Duration
	now    func() time.Time
}

// NewSourceCooldown creates a cooldown of the given window. A zero window
// disables it.
func NewSourceCooldown(store CooldownStore, window time.Duration) *SourceCooldown {
	return &SourceCooldown{store: store, window: window, now: time.Now}
}

// Acquire claims the window for key or fails with a rate limit error.
func (c *SourceCooldown) Acquire(ctx context.Context, key string) error {
	if c.window <= 0 {
		return nil
	}

	now := c.now()
	ok, err := c.store.Reserve(ctx, key, now, now.Add(c.window))
	if err != nil {
		return err
	}
	if !ok {
		return rag.NewError(rag.ErrRateLimited, false, nil, "source %q was ingested within the last %s", key, c.window)
	}
	return nil
}

// Release drops the claim so key can be submitted again.
func (c *SourceCooldown) Release(ctx context.Context, key string) error {
	if c.window <= 0 {
		return nil
	}
	return c.store.Release(ctx, key)
}
