package util

import (
	"context"
	"math/rand"
	"time"
)

// Pacer spaces out sequential requests on one session: every Wait sleeps
// Base plus a uniform random extra in [0, Jitter].
type Pacer struct {
	Base   time.Duration
	Jitter time.Duration
}

// NewPacer builds a Pacer from millisecond settings.
func NewPacer(baseMS, jitterMS int) Pacer {
	return Pacer{
		Base:   time.Duration(baseMS) * time.Millisecond,
		Jitter: time.Duration(jitterMS) * time.Millisecond,
	}
}

// Delay returns the next pause length.
func (p Pacer) Delay() time.Duration {
	d := p.Base
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter) + 1))
	}
	return d
}

// Wait sleeps for Delay or until ctx is done.
func (p Pacer) Wait(ctx context.Context) error {
	d := p.Delay()
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
