package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"eodcollector/internal/domain"
)

// Writer persists summaries as <Dir>/<date>.json.
type Writer struct {
	Dir string
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Path returns the summary file path for a date.
func (w *Writer) Path(date string) string {
	return filepath.Join(w.Dir, date+".json")
}

// Write stores s, replacing any previous summary for the same date.
func (w *Writer) Write(s *Summary) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	path := w.Path(s.Date)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("replacing %s: %w", path, err)
	}
	return path, nil
}

// Load reads the summary of a date. A missing file yields an error matching
// fs.ErrNotExist.
func (w *Writer) Load(date string) (*Summary, error) {
	data, err := os.ReadFile(w.Path(date))
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding summary %s: %w", date, err)
	}
	return &s, nil
}

// HistoryEntry is the level recorded for one past date.
type HistoryEntry struct {
	Date  string
	Level domain.Level
}

// History returns the recorded level of every summary dated strictly before
// the given date, newest first. Unreadable files count as INFO.
func (w *Writer) History(before string) ([]HistoryEntry, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse(domain.DateLayout, stem); err != nil {
			continue
		}
		if stem < before {
			dates = append(dates, stem)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	out := make([]HistoryEntry, 0, len(dates))
	for _, d := range dates {
		level := domain.LevelInfo
		if s, err := w.Load(d); err == nil && s.Level != "" {
			level = s.Level
		}
		out = append(out, HistoryEntry{Date: d, Level: level})
	}
	return out, nil
}

// Levels extracts the levels of a history, preserving order.
func Levels(h []HistoryEntry) []domain.Level {
	out := make([]domain.Level, len(h))
	for i, e := range h {
		out[i] = e.Level
	}
	return out
}
