package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("bad payload")
	attempts := 0

	err := Retry(context.Background(), 3, 0, func() error {
		attempts++
		return Permanent(sentinel)
	})

	if err != sentinel {
		t.Fatalf("Retry error = %v, want unwrapped sentinel", err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should not block: %v", err)
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	rl := NewRateLimiter(1200) // one slot every 50ms
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("three waits took %v, want >= 100ms", elapsed)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	if rl != nil {
		t.Fatal("NewRateLimiter(0) should be nil (unlimited)")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter Wait: %v", err)
	}
}

func TestPacerDelayBounds(t *testing.T) {
	p := NewPacer(200, 120)
	for i := 0; i < 100; i++ {
		d := p.Delay()
		if d < 200*time.Millisecond || d > 320*time.Millisecond {
			t.Fatalf("Delay = %v, want within [200ms, 320ms]", d)
		}
	}
}

func TestPacerWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPacer(10_000, 0)
	if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "warn", "text").Info("dropped")
	NewLoggerTo(&buf, "warn", "text").Warn("kept", "k", "v")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "k=v") {
		t.Errorf("text handler output = %q, want key=value", out)
	}
	if ParseLevel("DEBUG") != slog.LevelDebug {
		t.Error("ParseLevel should be case-insensitive")
	}
}
