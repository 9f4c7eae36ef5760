package domain

import (
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify DailyBar can be instantiated with zero values.
	bar := DailyBar{}
	if bar.Symbol != "" || bar.TradeDate != "" {
		t.Error("expected empty Symbol/TradeDate for zero-value DailyBar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value DailyBar")
	}
	if bar.Volume != 0 || bar.Amount != nil {
		t.Error("expected zero Volume and nil Amount for zero-value DailyBar")
	}

	st := CollectStatus{}
	if st.Status != "" || st.RetryCount != 0 {
		t.Error("expected empty Status for zero-value CollectStatus")
	}

	if MarketUS != "us" || MarketCN != "cn" {
		t.Error("Market constants have unexpected values")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusMissing, StatusFailed, StatusSkipped} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	if StatusAPIFailed.Terminal() {
		t.Error("api_failed must not be terminal")
	}
}

func TestLevelExitCode(t *testing.T) {
	cases := map[Level]int{
		LevelInfo:     0,
		LevelWarn:     0,
		LevelError:    2,
		LevelCritical: 2,
	}
	for level, want := range cases {
		if got := level.ExitCode(); got != want {
			t.Errorf("%s.ExitCode() = %d, want %d", level, got, want)
		}
	}
}

func TestNowISO(t *testing.T) {
	ts, err := time.Parse(time.RFC3339Nano, NowISO())
	if err != nil {
		t.Fatalf("NowISO not RFC3339: %v", err)
	}
	if ts.Location() != time.UTC {
		t.Errorf("NowISO location = %v, want UTC", ts.Location())
	}
}

func TestSourceValues(t *testing.T) {
	bar := DailyBar{Source: SourceDOM}
	if bar.Source != "dom" {
		t.Errorf("Source = %q, want dom", bar.Source)
	}
	for _, s := range []Source{SourceAPI, SourceDOM, SourceExisting} {
		if s == "" {
			t.Error("bar source constant is empty")
		}
	}
}
