package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"eodcollector/internal/domain"
)

// csvColumns is the per-symbol export layout.
var csvColumns = []string{"trade_date", "symbol", "open", "high", "low", "close", "volume", "amount"}

// summaryColumns is the layout of the per-date status sheet.
var summaryColumns = []string{"trade_date", "symbol", "status", "retry_count", "last_error"}

// utf8BOM lets spreadsheet tools detect the encoding.
const utf8BOM = "\ufeff"

// CSVExporter writes one CSV per symbol under <Dir>/<date>/ plus a
// _summary.csv status sheet.
type CSVExporter struct {
	Dir string
}

// NewCSVExporter creates a CSVExporter rooted at dir.
func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{Dir: dir}
}

// WriteSymbol writes <Dir>/<date>/<symbol>.csv. A nil bar produces a
// header-only file.
func (e *CSVExporter) WriteSymbol(date, symbol string, bar *domain.DailyBar) error {
	var rows [][]string
	if bar != nil {
		amount := ""
		if bar.Amount != nil {
			amount = formatFloat(*bar.Amount)
		}
		rows = append(rows, []string{
			bar.TradeDate, bar.Symbol,
			formatFloat(bar.Open), formatFloat(bar.High), formatFloat(bar.Low), formatFloat(bar.Close),
			strconv.FormatInt(bar.Volume, 10), amount,
		})
	}
	return e.write(filepath.Join(e.Dir, date, symbol+".csv"), csvColumns, rows)
}

// WriteSummary writes <Dir>/<date>/_summary.csv with one row per status,
// ordered by symbol.
func (e *CSVExporter) WriteSummary(date string, statuses map[string]domain.CollectStatus) error {
	symbols := make([]string, 0, len(statuses))
	for s := range statuses {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	rows := make([][]string, 0, len(symbols))
	for _, s := range symbols {
		st := statuses[s]
		rows = append(rows, []string{
			date, s, string(st.Status), strconv.Itoa(st.RetryCount), st.LastError,
		})
	}
	return e.write(filepath.Join(e.Dir, date, "_summary.csv"), summaryColumns, rows)
}

func (e *CSVExporter) write(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(utf8BOM); err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
