// Package domain defines the core records shared by the collector: daily
// bars, per-symbol collection status and alert levels.
package domain

import "time"

// DateLayout is the format of every trade date handled by the collector.
const DateLayout = "2006-01-02"

// Market identifies the exchange family a run collects for.
type Market string

const (
	MarketCN Market = "cn"
	MarketUS Market = "us"
)

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// Source records which tier produced a bar.
type Source string

const (
	SourceAPI      Source = "api"      // tier-1 structured endpoint
	SourceDOM      Source = "dom"      // tier-2 quote page
	SourceExisting Source = "existing" // replayed from a previous run
)

// PriceTypeRaw marks unadjusted prices.
const PriceTypeRaw = "raw"

// DailyBar is one OHLCV record for one symbol on one trade date. The pair
// (Symbol, TradeDate) is the primary key; a later write replaces the row.
type DailyBar struct {
	Symbol       string
	TradeDate    string
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Change       float64
	ChangePct    float64
	Volume       int64
	AmplitudePct float64
	TurnoverPct  float64
	Amount       *float64 // nil when the source does not report turnover value
	PriceType    string
	Source       Source
	UpdatedAt    string
}

// ---------------------------------------------------------------------------
// Collection status
// ---------------------------------------------------------------------------

// Status is the per-symbol collection state for one trade date.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusMissing   Status = "missing"
	StatusFailed    Status = "failed"
	StatusAPIFailed Status = "api_failed" // transient, routes a symbol to tier 2
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the state is final within a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusMissing, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// CollectStatus is the authoritative per-symbol state row.
type CollectStatus struct {
	Symbol     string
	TradeDate  string
	Status     Status
	RetryCount int
	LastError  string
	UpdatedAt  string
}

// ---------------------------------------------------------------------------
// Alert levels
// ---------------------------------------------------------------------------

// Level is the operational alert level of a run.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// IsError reports whether the level is ERROR or CRITICAL.
func (l Level) IsError() bool {
	return l == LevelError || l == LevelCritical
}

// ExitCode maps a level to the process exit code: 0 for INFO/WARN, 2 for
// ERROR/CRITICAL.
func (l Level) ExitCode() int {
	if l.IsError() {
		return 2
	}
	return 0
}

// NowISO returns the current UTC time in the format stored on every row.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
