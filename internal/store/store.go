// Package store defines storage interfaces for persisting and retrieving
// daily bars and per-symbol collection status, plus the archive and export
// sinks fed after a run.
package store

import (
	"context"

	"eodcollector/internal/domain"
)

// StatusStore is the authoritative, idempotent store for daily bars and
// per-symbol collection status. Every write is a single-row upsert keyed by
// (symbol, trade_date).
type StatusStore interface {
	// UpsertBar inserts or replaces the bar for (symbol, trade_date).
	UpsertBar(ctx context.Context, bar domain.DailyBar) error

	// UpsertStatus inserts or replaces the status row for (symbol, trade_date).
	UpsertStatus(ctx context.Context, status domain.CollectStatus) error

	// FetchStatuses returns every status row for a date, keyed by symbol.
	FetchStatuses(ctx context.Context, date string) (map[string]domain.CollectStatus, error)

	// HasBar reports whether a bar row exists for (symbol, date).
	HasBar(ctx context.Context, symbol, date string) (bool, error)
}

// BarReader reads persisted bars back for export.
type BarReader interface {
	// ReadBars returns every bar stored for a date, ordered by symbol.
	ReadBars(ctx context.Context, date string) ([]domain.DailyBar, error)
}

// BarArchive receives the bars of a finished run.
type BarArchive interface {
	// WriteBars merges bars into the archive, replacing rows with the same
	// (symbol, trade_date).
	WriteBars(ctx context.Context, bars []domain.DailyBar) error
}
