package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces calls evenly: every Wait reserves the next free slot,
// one interval after the previous reservation, and sleeps until it. It is
// shared by concurrent workers. A nil *RateLimiter never blocks.
type RateLimiter struct {
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. It returns nil (unlimited) when perMinute is not positive.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{interval: time.Minute / time.Duration(perMinute)}
}

// Wait blocks until the caller's slot arrives or ctx is cancelled. A
// cancelled wait still consumes its slot.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}

	rl.mu.Lock()
	now := time.Now()
	slot := rl.next
	if slot.Before(now) {
		slot = now
	}
	rl.next = slot.Add(rl.interval)
	rl.mu.Unlock()

	d := time.Until(slot)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
