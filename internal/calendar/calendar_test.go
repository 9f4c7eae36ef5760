package calendar

import (
	"context"
	"errors"
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

func TestHolidaysWeekdays(t *testing.T) {
	h, err := NewHolidays("2005-01-04", []string{"2025-10-01"})
	if err != nil {
		t.Fatalf("NewHolidays: %v", err)
	}
	ctx := context.Background()

	cases := map[string]bool{
		"2025-03-14": true,  // Friday
		"2025-03-15": false, // Saturday
		"2025-03-16": false, // Sunday
		"2025-10-01": false, // closure
		"2025-10-09": true,
	}
	for date, want := range cases {
		got, err := h.IsTradingDay(ctx, date)
		if err != nil {
			t.Fatalf("IsTradingDay(%s): %v", date, err)
		}
		if got != want {
			t.Errorf("IsTradingDay(%s) = %v, want %v", date, got, want)
		}
	}
}

func TestHolidaysTooEarly(t *testing.T) {
	h, err := NewHolidays("2005-01-04", nil)
	if err != nil {
		t.Fatalf("NewHolidays: %v", err)
	}
	_, err = h.IsTradingDay(context.Background(), "1999-12-31")
	if !errors.Is(err, ErrDateTooEarly) {
		t.Errorf("IsTradingDay(1999-12-31) error = %v, want ErrDateTooEarly", err)
	}
}

func TestHolidaysRejectsBadInput(t *testing.T) {
	if _, err := NewHolidays("2005-01-04", []string{"10/01/2025"}); err == nil {
		t.Error("NewHolidays should reject malformed holiday")
	}
	h, _ := NewHolidays("2005-01-04", nil)
	if _, err := h.IsTradingDay(context.Background(), "yesterday"); err == nil {
		t.Error("IsTradingDay should reject malformed date")
	}
}

type fakeCalendar struct {
	days []alpaca.CalendarDay
	err  error
	req  alpaca.GetCalendarRequest
}

func (f *fakeCalendar) GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	f.req = req
	return f.days, f.err
}

func TestAlpacaOracle(t *testing.T) {
	fake := &fakeCalendar{days: []alpaca.CalendarDay{{Date: "2025-03-14"}}}
	a := &Alpaca{client: fake}

	ok, err := a.IsTradingDay(context.Background(), "2025-03-14")
	if err != nil || !ok {
		t.Fatalf("IsTradingDay = %v, %v; want true, nil", ok, err)
	}
	if got := fake.req.Start.Format("2006-01-02"); got != "2025-03-14" {
		t.Errorf("request start = %s, want 2025-03-14", got)
	}

	fake.days = nil
	ok, err = a.IsTradingDay(context.Background(), "2025-03-15")
	if err != nil || ok {
		t.Errorf("IsTradingDay(no session) = %v, %v; want false, nil", ok, err)
	}

	fake.err = errors.New("unauthorized")
	if _, err := a.IsTradingDay(context.Background(), "2025-03-14"); err == nil {
		t.Error("IsTradingDay should surface API errors")
	}
}
