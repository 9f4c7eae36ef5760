package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"eodcollector/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	s, err := NewSQLiteStore(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func sampleBar(symbol, date string, close float64) domain.DailyBar {
	amount := 1.5e8
	return domain.DailyBar{
		Symbol:    symbol,
		TradeDate: date,
		Open:      10.0, High: 11.0, Low: 9.5, Close: close,
		Change: close - 10.0, ChangePct: (close - 10.0) * 10,
		Volume:    1200000,
		Amount:    &amount,
		PriceType: domain.PriceTypeRaw,
		Source:    domain.SourceAPI,
	}
}

// ---------------------------------------------------------------------------
// SQLiteStore
// ---------------------------------------------------------------------------

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestStore(t)

	// Verify the store is usable by pinging the database.
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
	if !strings.HasSuffix(s.Path(), "test.db") {
		t.Errorf("Path() = %q, want suffix test.db", s.Path())
	}
}

func TestSQLiteStoreUpsertBarIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertBar(ctx, sampleBar("SH600000", "2025-03-14", 10.5)); err != nil {
		t.Fatalf("UpsertBar: %v", err)
	}
	// Same key again: replaces, never duplicates.
	if err := s.UpsertBar(ctx, sampleBar("SH600000", "2025-03-14", 10.8)); err != nil {
		t.Fatalf("UpsertBar (second): %v", err)
	}

	bars, err := s.ReadBars(ctx, "2025-03-14")
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("ReadBars returned %d bars, want 1", len(bars))
	}
	if bars[0].Close != 10.8 {
		t.Errorf("Close = %v, want 10.8 (last writer wins)", bars[0].Close)
	}
	if bars[0].Amount == nil || *bars[0].Amount != 1.5e8 {
		t.Errorf("Amount = %v, want 1.5e8", bars[0].Amount)
	}
	if bars[0].UpdatedAt == "" {
		t.Error("UpdatedAt should be set on write")
	}
	if bars[0].Source != domain.SourceAPI {
		t.Errorf("Source = %q, want %q", bars[0].Source, domain.SourceAPI)
	}

	ok, err := s.HasBar(ctx, "SH600000", "2025-03-14")
	if err != nil || !ok {
		t.Errorf("HasBar = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.HasBar(ctx, "SH600000", "2025-03-13")
	if err != nil || ok {
		t.Errorf("HasBar(other date) = %v, %v; want false, nil", ok, err)
	}
}

func TestSQLiteStoreNilAmount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bar := sampleBar("SZ000001", "2025-03-14", 10.5)
	bar.Amount = nil
	if err := s.UpsertBar(ctx, bar); err != nil {
		t.Fatalf("UpsertBar: %v", err)
	}
	bars, err := s.ReadBars(ctx, "2025-03-14")
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 1 || bars[0].Amount != nil {
		t.Fatalf("ReadBars = %+v, want one bar with nil Amount", bars)
	}
}

func TestSQLiteStoreStatuses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	date := "2025-03-14"

	rows := []domain.CollectStatus{
		{Symbol: "SH600000", TradeDate: date, Status: domain.StatusAPIFailed, LastError: "timeout"},
		{Symbol: "SH600001", TradeDate: date, Status: domain.StatusMissing, LastError: "api_missing"},
		{Symbol: "SZ000001", TradeDate: date, Status: domain.StatusSuccess},
		{Symbol: "SZ000002", TradeDate: date, Status: domain.StatusSkipped, LastError: "suspended"},
		{Symbol: "SZ000004", TradeDate: "2025-03-13", Status: domain.StatusFailed},
	}
	for _, r := range rows {
		if err := s.UpsertStatus(ctx, r); err != nil {
			t.Fatalf("UpsertStatus(%s): %v", r.Symbol, err)
		}
	}
	// Tier-2 resolves the transient failure.
	if err := s.UpsertStatus(ctx, domain.CollectStatus{
		Symbol: "SH600000", TradeDate: date, Status: domain.StatusFailed, RetryCount: 1, LastError: "page error",
	}); err != nil {
		t.Fatalf("UpsertStatus (update): %v", err)
	}

	got, err := s.FetchStatuses(ctx, date)
	if err != nil {
		t.Fatalf("FetchStatuses: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("FetchStatuses returned %d rows, want 4", len(got))
	}
	st := got["SH600000"]
	if st.Status != domain.StatusFailed || st.RetryCount != 1 || st.LastError != "page error" {
		t.Errorf("SH600000 = %+v, want failed/1/page error", st)
	}
	if got["SZ000001"].LastError != "" {
		t.Errorf("empty last_error should round-trip as empty, got %q", got["SZ000001"].LastError)
	}

	cands, err := s.RepairCandidates(ctx, date)
	if err != nil {
		t.Fatalf("RepairCandidates: %v", err)
	}
	if len(cands) != 2 || cands[0].Symbol != "SH600000" || cands[1].Symbol != "SH600001" {
		t.Errorf("RepairCandidates = %+v, want [SH600000 SH600001]", cands)
	}
}

func TestSQLiteStoreMigratesLegacyTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	ctx := context.Background()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE daily_bar (
		symbol TEXT NOT NULL, trade_date TEXT NOT NULL,
		open REAL NOT NULL, high REAL NOT NULL, low REAL NOT NULL, close REAL NOT NULL,
		volume INTEGER NOT NULL, amount REAL, price_type TEXT NOT NULL,
		source TEXT NOT NULL, updated_at TEXT NOT NULL,
		PRIMARY KEY (symbol, trade_date))`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	db.Close()

	s, err := NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore on legacy db: %v", err)
	}
	defer s.Close()

	cols, err := s.columns(ctx, "daily_bar")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	for _, c := range []string{"change", "change_pct", "amplitude_pct", "turnover_pct"} {
		if !cols[c] {
			t.Errorf("column %s missing after migration", c)
		}
	}
	if err := s.UpsertBar(ctx, sampleBar("SH600000", "2025-03-14", 10.5)); err != nil {
		t.Fatalf("UpsertBar after migration: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ParquetArchive
// ---------------------------------------------------------------------------

func TestParquetArchivePath(t *testing.T) {
	a := NewParquetArchive("/data", domain.MarketCN)

	bp := a.barPath("sh600000", "2025")
	want := filepath.Join("/data", "cn", "daily", "SH600000", "2025.parquet")
	if bp != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, want)
	}
}

func TestParquetArchiveWriteMerge(t *testing.T) {
	a := NewParquetArchive(t.TempDir(), domain.MarketCN)
	ctx := context.Background()

	if err := a.WriteBars(ctx, []domain.DailyBar{sampleBar("SH600000", "2025-03-13", 10.2)}); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}
	// Another date merges, the same date replaces.
	second := []domain.DailyBar{
		sampleBar("SH600000", "2025-03-14", 10.5),
		sampleBar("SH600000", "2025-03-13", 10.4),
	}
	if err := a.WriteBars(ctx, second); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := a.ReadYear(ctx, "SH600000", "2025")
	if err != nil {
		t.Fatalf("ReadYear: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadYear returned %d bars after merge, want 2", len(got))
	}
	if got[0].TradeDate != "2025-03-13" || got[0].Close != 10.4 {
		t.Errorf("first bar = %s/%v, want 2025-03-13/10.4", got[0].TradeDate, got[0].Close)
	}
	if got[1].Amount == nil || *got[1].Amount != 1.5e8 {
		t.Errorf("Amount did not round-trip: %v", got[1].Amount)
	}

	none, err := a.ReadYear(ctx, "SH600000", "2024")
	if err != nil || len(none) != 0 {
		t.Errorf("ReadYear(missing) = %v, %v; want empty, nil", none, err)
	}

	symbols, err := a.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "SH600000" {
		t.Errorf("ListSymbols = %v, want [SH600000]", symbols)
	}
}

// ---------------------------------------------------------------------------
// CSVExporter
// ---------------------------------------------------------------------------

func TestCSVExporter(t *testing.T) {
	dir := t.TempDir()
	e := NewCSVExporter(dir)
	date := "2025-03-14"

	bar := sampleBar("SH600000", date, 10.5)
	if err := e.WriteSymbol(date, "SH600000", &bar); err != nil {
		t.Fatalf("WriteSymbol: %v", err)
	}
	if err := e.WriteSymbol(date, "SZ000002", nil); err != nil {
		t.Fatalf("WriteSymbol(nil): %v", err)
	}
	if err := e.WriteSummary(date, map[string]domain.CollectStatus{
		"SZ000002": {Symbol: "SZ000002", Status: domain.StatusSkipped, LastError: "suspended"},
		"SH600000": {Symbol: "SH600000", Status: domain.StatusSuccess},
	}); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, date, "SH600000.csv"))
	if err != nil {
		t.Fatalf("read symbol csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(string(data), utf8BOM)), "\n")
	if len(lines) != 2 {
		t.Fatalf("symbol csv has %d lines, want 2", len(lines))
	}
	if lines[1] != "2025-03-14,SH600000,10,11,9.5,10.5,1200000,150000000" {
		t.Errorf("symbol row = %q", lines[1])
	}

	data, err = os.ReadFile(filepath.Join(dir, date, "SZ000002.csv"))
	if err != nil {
		t.Fatalf("read header-only csv: %v", err)
	}
	if got := strings.TrimSpace(strings.TrimPrefix(string(data), utf8BOM)); got != strings.Join(csvColumns, ",") {
		t.Errorf("header-only csv = %q", got)
	}

	data, err = os.ReadFile(filepath.Join(dir, date, "_summary.csv"))
	if err != nil {
		t.Fatalf("read summary csv: %v", err)
	}
	lines = strings.Split(strings.TrimSpace(strings.TrimPrefix(string(data), utf8BOM)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "2025-03-14,SH600000,success") {
		t.Errorf("summary csv = %q", lines)
	}
}
