// Package calendar answers whether a date is an exchange trading day.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eodcollector/internal/domain"
)

// ErrDateTooEarly is returned for dates before the first session the
// calendar covers.
var ErrDateTooEarly = errors.New("date too early for trading calendar")

// Oracle decides whether a date is a trading day. The collector consults it
// once per run.
type Oracle interface {
	IsTradingDay(ctx context.Context, date string) (bool, error)
}

// Holidays is a weekday calendar minus a fixed set of exchange closures.
type Holidays struct {
	first  time.Time
	closed map[string]bool
}

// Compile-time interface check.
var _ Oracle = (*Holidays)(nil)

// NewHolidays builds a calendar whose first session is firstDate and whose
// closures are the given YYYY-MM-DD dates.
func NewHolidays(firstDate string, closures []string) (*Holidays, error) {
	first, err := time.Parse(domain.DateLayout, firstDate)
	if err != nil {
		return nil, fmt.Errorf("parsing first date %q: %w", firstDate, err)
	}
	closed := make(map[string]bool, len(closures))
	for _, c := range closures {
		if _, err := time.Parse(domain.DateLayout, c); err != nil {
			return nil, fmt.Errorf("parsing holiday %q: %w", c, err)
		}
		closed[c] = true
	}
	return &Holidays{first: first, closed: closed}, nil
}

// IsTradingDay reports whether date is a weekday that is not a closure.
func (h *Holidays) IsTradingDay(_ context.Context, date string) (bool, error) {
	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return false, fmt.Errorf("parsing date %q: %w", date, err)
	}
	if d.Before(h.first) {
		return false, fmt.Errorf("%s: %w", date, ErrDateTooEarly)
	}
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}
	return !h.closed[date], nil
}
