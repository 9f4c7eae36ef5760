package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"eodcollector/internal/domain"
)

// calendarSource is the slice of the Alpaca client used here.
type calendarSource interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// Alpaca asks the Alpaca trading calendar API. It serves deployments that
// point the collector at a US exchange.
type Alpaca struct {
	client calendarSource
}

// Compile-time interface check.
var _ Oracle = (*Alpaca)(nil)

// NewAlpaca creates an Alpaca-backed oracle.
func NewAlpaca(apiKey, apiSecret, baseURL string) *Alpaca {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &Alpaca{client: client}
}

// IsTradingDay reports whether the exchange has a session on date.
func (a *Alpaca) IsTradingDay(ctx context.Context, date string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return false, fmt.Errorf("parsing date %q: %w", date, err)
	}

	days, err := a.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: d,
		End:   d,
	})
	if err != nil {
		return false, fmt.Errorf("GetCalendar: %w", err)
	}
	for _, day := range days {
		if day.Date == date {
			return true, nil
		}
	}
	return false, nil
}
