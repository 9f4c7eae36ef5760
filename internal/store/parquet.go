package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"eodcollector/internal/domain"
)

// Compile-time interface checks.
var _ BarArchive = (*ParquetArchive)(nil)

// ParquetArchive keeps a columnar copy of every collected bar, one file per
// symbol and year.
type ParquetArchive struct {
	DataDir string
	Market  domain.Market
}

// NewParquetArchive creates a ParquetArchive rooted at the given data
// directory.
func NewParquetArchive(dataDir string, market domain.Market) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir, Market: market}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol       string   `parquet:"symbol"`
	TradeDate    string   `parquet:"trade_date"`
	Open         float64  `parquet:"open"`
	High         float64  `parquet:"high"`
	Low          float64  `parquet:"low"`
	Close        float64  `parquet:"close"`
	Change       float64  `parquet:"change"`
	ChangePct    float64  `parquet:"change_pct"`
	Volume       int64    `parquet:"volume"`
	AmplitudePct float64  `parquet:"amplitude_pct"`
	TurnoverPct  float64  `parquet:"turnover_pct"`
	Amount       *float64 `parquet:"amount,optional"`
	PriceType    string   `parquet:"price_type"`
	Source       string   `parquet:"source"`
	UpdatedAt    string   `parquet:"updated_at"`
}

func toRecord(b domain.DailyBar) BarRecord {
	return BarRecord{
		Symbol:       b.Symbol,
		TradeDate:    b.TradeDate,
		Open:         b.Open,
		High:         b.High,
		Low:          b.Low,
		Close:        b.Close,
		Change:       b.Change,
		ChangePct:    b.ChangePct,
		Volume:       b.Volume,
		AmplitudePct: b.AmplitudePct,
		TurnoverPct:  b.TurnoverPct,
		Amount:       b.Amount,
		PriceType:    b.PriceType,
		Source:       string(b.Source),
		UpdatedAt:    b.UpdatedAt,
	}
}

func (r BarRecord) toBar() domain.DailyBar {
	return domain.DailyBar{
		Symbol:       r.Symbol,
		TradeDate:    r.TradeDate,
		Open:         r.Open,
		High:         r.High,
		Low:          r.Low,
		Close:        r.Close,
		Change:       r.Change,
		ChangePct:    r.ChangePct,
		Volume:       r.Volume,
		AmplitudePct: r.AmplitudePct,
		TurnoverPct:  r.TurnoverPct,
		Amount:       r.Amount,
		PriceType:    r.PriceType,
		Source:       domain.Source(r.Source),
		UpdatedAt:    r.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// BarArchive implementation
// ---------------------------------------------------------------------------

// WriteBars merges bars into Parquet files organized by symbol and year.
// Each symbol+year combination lives in a separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (a *ParquetArchive) WriteBars(_ context.Context, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   string
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		if len(b.TradeDate) < 4 {
			return fmt.Errorf("bar %s has malformed trade date %q", b.Symbol, b.TradeDate)
		}
		k := key{symbol: b.Symbol, year: b.TradeDate[:4]}
		groups[k] = append(groups[k], toRecord(b))
	}

	for k, records := range groups {
		path := a.barPath(k.symbol, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%s: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadYear returns the archived bars of one symbol and year, ordered by
// trade date. A missing file yields no bars.
func (a *ParquetArchive) ReadYear(_ context.Context, symbol, year string) ([]domain.DailyBar, error) {
	records, err := readParquetFile[BarRecord](a.barPath(symbol, year))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	bars := make([]domain.DailyBar, 0, len(records))
	for _, r := range records {
		bars = append(bars, r.toBar())
	}
	return bars, nil
}

// ListSymbols lists all symbols that have archived bars.
func (a *ParquetArchive) ListSymbols(_ context.Context) ([]string, error) {
	dir := filepath.Join(a.DataDir, string(a.Market), "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// barPath returns the filesystem path for a bar Parquet file.
func (a *ParquetArchive) barPath(symbol, year string) string {
	return filepath.Join(a.DataDir, string(a.Market), "daily", strings.ToUpper(symbol), year+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, trade_date),
// preferring new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		date   string
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.TradeDate}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.TradeDate}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].TradeDate < merged[j].TradeDate
	})
	return merged
}
