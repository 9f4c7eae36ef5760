package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"eodcollector/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ StatusStore = (*SQLiteStore)(nil)
var _ BarReader = (*SQLiteStore)(nil)

// SQLiteStore implements StatusStore backed by a SQLite database. One store
// is opened per run and shared by the single result consumer.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps every write on the same handle.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

var schemaSQL = []string{`
CREATE TABLE IF NOT EXISTS daily_bar (
	symbol        TEXT NOT NULL,
	trade_date    TEXT NOT NULL,
	open          REAL NOT NULL,
	high          REAL NOT NULL,
	low           REAL NOT NULL,
	close         REAL NOT NULL,
	change        REAL NOT NULL,
	change_pct    REAL NOT NULL,
	volume        INTEGER NOT NULL,
	amplitude_pct REAL NOT NULL,
	turnover_pct  REAL NOT NULL,
	amount        REAL,
	price_type    TEXT NOT NULL,
	source        TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (symbol, trade_date)
)`,
	`CREATE TABLE IF NOT EXISTS daily_collect_status (
	symbol      TEXT NOT NULL,
	trade_date  TEXT NOT NULL,
	status      TEXT NOT NULL,
	retry_count INTEGER NOT NULL,
	last_error  TEXT,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (symbol, trade_date)
)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_bar_trade_date ON daily_bar (trade_date)`,
	`CREATE INDEX IF NOT EXISTS idx_collect_status_trade_date ON daily_collect_status (trade_date)`,
}

// lateColumns were added to daily_bar after the first schema shipped.
var lateColumns = []struct{ name, def string }{
	{"change", "REAL NOT NULL DEFAULT 0"},
	{"change_pct", "REAL NOT NULL DEFAULT 0"},
	{"amplitude_pct", "REAL NOT NULL DEFAULT 0"},
	{"turnover_pct", "REAL NOT NULL DEFAULT 0"},
}

// Migrate creates the tables and indexes and adds any late columns missing
// from an older daily_bar table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	existing, err := s.columns(ctx, "daily_bar")
	if err != nil {
		return err
	}
	for _, c := range lateColumns {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE daily_bar ADD COLUMN %s %s", c.name, c.def)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("adding column %s: %w", c.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, fmt.Errorf("reading %s columns: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// ---------------------------------------------------------------------------
// StatusStore implementation
// ---------------------------------------------------------------------------

const upsertBarSQL = `
INSERT INTO daily_bar (
	symbol, trade_date, open, high, low, close,
	change, change_pct, volume, amplitude_pct, turnover_pct,
	amount, price_type, source, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, trade_date) DO UPDATE SET
	open=excluded.open,
	high=excluded.high,
	low=excluded.low,
	close=excluded.close,
	change=excluded.change,
	change_pct=excluded.change_pct,
	volume=excluded.volume,
	amplitude_pct=excluded.amplitude_pct,
	turnover_pct=excluded.turnover_pct,
	amount=excluded.amount,
	price_type=excluded.price_type,
	source=excluded.source,
	updated_at=excluded.updated_at`

// UpsertBar inserts or replaces a bar. updated_at is always refreshed.
func (s *SQLiteStore) UpsertBar(ctx context.Context, bar domain.DailyBar) error {
	var amount sql.NullFloat64
	if bar.Amount != nil {
		amount = sql.NullFloat64{Float64: *bar.Amount, Valid: true}
	}
	priceType := bar.PriceType
	if priceType == "" {
		priceType = domain.PriceTypeRaw
	}
	_, err := s.db.ExecContext(ctx, upsertBarSQL,
		bar.Symbol, bar.TradeDate, bar.Open, bar.High, bar.Low, bar.Close,
		bar.Change, bar.ChangePct, bar.Volume, bar.AmplitudePct, bar.TurnoverPct,
		amount, priceType, string(bar.Source), domain.NowISO(),
	)
	if err != nil {
		return fmt.Errorf("upsert bar %s/%s: %w", bar.Symbol, bar.TradeDate, err)
	}
	return nil
}

const upsertStatusSQL = `
INSERT INTO daily_collect_status (
	symbol, trade_date, status, retry_count, last_error, updated_at
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, trade_date) DO UPDATE SET
	status=excluded.status,
	retry_count=excluded.retry_count,
	last_error=excluded.last_error,
	updated_at=excluded.updated_at`

// UpsertStatus inserts or replaces a status row. updated_at is always
// refreshed.
func (s *SQLiteStore) UpsertStatus(ctx context.Context, st domain.CollectStatus) error {
	_, err := s.db.ExecContext(ctx, upsertStatusSQL,
		st.Symbol, st.TradeDate, string(st.Status), st.RetryCount, st.LastError, domain.NowISO(),
	)
	if err != nil {
		return fmt.Errorf("upsert status %s/%s: %w", st.Symbol, st.TradeDate, err)
	}
	return nil
}

// FetchStatuses returns the status rows of a date keyed by symbol.
func (s *SQLiteStore) FetchStatuses(ctx context.Context, date string) (map[string]domain.CollectStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, trade_date, status, retry_count, last_error, updated_at
		FROM daily_collect_status
		WHERE trade_date = ?`, date)
	if err != nil {
		return nil, fmt.Errorf("fetch statuses %s: %w", date, err)
	}
	defer rows.Close()

	out := make(map[string]domain.CollectStatus)
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out[st.Symbol] = st
	}
	return out, rows.Err()
}

// HasBar reports whether a bar exists for (symbol, date).
func (s *SQLiteStore) HasBar(ctx context.Context, symbol, date string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM daily_bar WHERE symbol = ? AND trade_date = ? LIMIT 1`,
		symbol, date,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has bar %s/%s: %w", symbol, date, err)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Read-back queries
// ---------------------------------------------------------------------------

// ReadBars returns every bar of a date ordered by symbol.
func (s *SQLiteStore) ReadBars(ctx context.Context, date string) ([]domain.DailyBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, trade_date, open, high, low, close,
		       change, change_pct, volume, amplitude_pct, turnover_pct,
		       amount, price_type, source, updated_at
		FROM daily_bar
		WHERE trade_date = ?
		ORDER BY symbol`, date)
	if err != nil {
		return nil, fmt.Errorf("read bars %s: %w", date, err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var (
			b      domain.DailyBar
			amount sql.NullFloat64
		)
		if err := rows.Scan(
			&b.Symbol, &b.TradeDate, &b.Open, &b.High, &b.Low, &b.Close,
			&b.Change, &b.ChangePct, &b.Volume, &b.AmplitudePct, &b.TurnoverPct,
			&amount, &b.PriceType, &b.Source, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if amount.Valid {
			v := amount.Float64
			b.Amount = &v
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// RepairCandidates returns the status rows of a date that still need work:
// missing, failed or api_failed, ordered by symbol.
func (s *SQLiteStore) RepairCandidates(ctx context.Context, date string) ([]domain.CollectStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, trade_date, status, retry_count, last_error, updated_at
		FROM daily_collect_status
		WHERE trade_date = ? AND status IN (?, ?, ?)
		ORDER BY symbol`,
		date, string(domain.StatusMissing), string(domain.StatusFailed), string(domain.StatusAPIFailed))
	if err != nil {
		return nil, fmt.Errorf("repair candidates %s: %w", date, err)
	}
	defer rows.Close()

	var out []domain.CollectStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStatus(rows *sql.Rows) (domain.CollectStatus, error) {
	var (
		st        domain.CollectStatus
		status    string
		lastError sql.NullString
	)
	if err := rows.Scan(&st.Symbol, &st.TradeDate, &status, &st.RetryCount, &lastError, &st.UpdatedAt); err != nil {
		return st, err
	}
	st.Status = domain.Status(status)
	st.LastError = lastError.String
	return st, nil
}
