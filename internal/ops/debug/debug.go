// Package debug writes stage snapshots and the first raw upstream failure of
// a run so a crashed or degraded run can be diagnosed after the fact.
package debug

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Pipeline stages a bundle is written at.
const (
	StageStart         = "start"
	StageSymbolsLoaded = "after_symbols_loaded"
	StageTradingDay    = "trading_day_checked"
	StageAfterFetch    = "after_fetch"
	StageFatal         = "fatal"
	StageException     = "exception"
)

const (
	rawFirstErrorFile   = "raw_first_error.json"
	maxRawResponseBytes = 2048
)

// envKeys are reported as SET or MISSING, never by value.
var envKeys = []string{"GITHUB_ACTIONS", "GITHUB_RUN_ID", "GITHUB_REF", "GITHUB_SHA", "SMTP_HOST", "PHONE_NUM"}

// FirstError describes the first per-symbol failure of a run.
type FirstError struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol,omitempty"`
	Exception string `json:"exception"`
}

// Bundle is one stage snapshot.
type Bundle struct {
	TargetDate   string         `json:"target_date"`
	Stage        string         `json:"stage"`
	IsTradingDay *bool          `json:"is_trading_day"`
	TotalSymbols int            `json:"total_symbols"`
	SuccessCount int            `json:"success_count"`
	MissingCount int            `json:"missing_count"`
	FailedCount  int            `json:"failed_count"`
	FirstError   *FirstError    `json:"first_error"`
	Note         string         `json:"note"`
	Env          map[string]any `json:"env"`
}

// Writer stores bundles under Dir as <date>.<stage>.json.
type Writer struct {
	Dir string

	mu sync.Mutex
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Write stores b, filling in the environment snapshot.
func (w *Writer) Write(b Bundle) (string, error) {
	if b.Env == nil {
		b.Env = SafeEnv()
	}
	path := filepath.Join(w.Dir, fmt.Sprintf("%s.%s.json", b.TargetDate, b.Stage))
	return path, w.writeJSON(path, b)
}

// SafeEnv is a snapshot of the runtime that never includes secret values.
func SafeEnv() map[string]any {
	keys := make(map[string]string, len(envKeys))
	for _, k := range envKeys {
		if os.Getenv(k) != "" {
			keys[k] = "SET"
		} else {
			keys[k] = "MISSING"
		}
	}
	cwd, _ := os.Getwd()
	return map[string]any{
		"time":     time.Now().Format("2006-01-02 15:04:05"),
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
		"go":       runtime.Version(),
		"cwd":      cwd,
		"env_keys": keys,
	}
}

// RawError is the upstream exchange behind the first failed request.
type RawError struct {
	Symbol       string            `json:"symbol"`
	URL          string            `json:"url"`
	Params       map[string]string `json:"params"`
	StatusCode   *int              `json:"status_code"`
	ResponseText *string           `json:"response_text"`
	Exception    string            `json:"exception"`
}

// WriteRawFirstError records e unless a record already exists. It reports
// whether e was written.
func (w *Writer) WriteRawFirstError(e RawError) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.Dir, rawFirstErrorFile)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if e.ResponseText != nil && len(*e.ResponseText) > maxRawResponseBytes {
		trimmed := (*e.ResponseText)[:maxRawResponseBytes]
		e.ResponseText = &trimmed
	}
	if err := w.writeJSONLocked(path, e); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Writer) writeJSON(path string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeJSONLocked(path, v)
}

func (w *Writer) writeJSONLocked(path string, v any) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
