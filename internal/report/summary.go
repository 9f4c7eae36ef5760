// Package report builds the per-date run summary and derives its alert
// level from cross-run history.
package report

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"eodcollector/internal/domain"
)

// ErrInvariant means the terminal counts do not add up to the universe
// size. It is a defect, never a recoverable condition.
var ErrInvariant = errors.New("summary count invariant violated")

// topErrorLimit is how many distinct errors a summary keeps.
const topErrorLimit = 5

// Source is the upstream recorded on every summary.
const Source = "sina"

// TopError is one entry of the most frequent error messages.
type TopError struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// Summary is the persisted per-date report. Field names are part of the
// on-disk contract read by other tooling.
type Summary struct {
	Date     string `json:"date"`
	Expected int    `json:"expected"`
	Success  int    `json:"success"`
	Failed   int    `json:"failed"`
	Missing  int    `json:"missing"`
	Skipped  int    `json:"skipped"`

	// Legacy aliases, always equal to the counts above.
	SuccessSymbols int `json:"success_symbols"`
	FailedSymbols  int `json:"failed_symbols"`
	MissingSymbols int `json:"missing_symbols"`
	SkippedSymbols int `json:"skipped_symbols"`

	RetrySuccess          int          `json:"retry_success"`
	DurationSeconds       float64      `json:"duration_seconds"`
	Source                string       `json:"source"`
	Runner                string       `json:"runner"`
	HumanRequired         bool         `json:"human_required"`
	Level                 domain.Level `json:"level"`
	TopErrors             []TopError   `json:"top_errors"`
	GeneratedAt           string       `json:"generated_at"`
	SuccessRate           float64      `json:"success_rate"`
	SameSymbolMissingDays int          `json:"same_symbol_missing_days"`
	SkipReason            string       `json:"skip_reason,omitempty"`
}

// Input carries the terminal counts of one run.
type Input struct {
	Date         string
	Expected     int
	Success      int
	Failed       int
	Missing      int
	Skipped      int
	RetrySuccess int
	Duration     time.Duration
	Runner       string
	Level        domain.Level
	Errors       []string // every per-symbol error, in occurrence order
}

// Build reconciles the counts into a Summary. It returns ErrInvariant when
// success+missing+skipped+failed differs from expected.
func Build(in Input) (*Summary, error) {
	total := in.Success + in.Missing + in.Skipped + in.Failed
	if total != in.Expected {
		return nil, fmt.Errorf("%w: success=%d missing=%d skipped=%d failed=%d expected=%d",
			ErrInvariant, in.Success, in.Missing, in.Skipped, in.Failed, in.Expected)
	}

	level := in.Level
	if level == "" {
		level = domain.LevelInfo
	}
	s := &Summary{
		Date:            in.Date,
		Expected:        in.Expected,
		Success:         in.Success,
		Failed:          in.Failed,
		Missing:         in.Missing,
		Skipped:         in.Skipped,
		RetrySuccess:    in.RetrySuccess,
		DurationSeconds: in.Duration.Seconds(),
		Source:          Source,
		Runner:          in.Runner,
		Level:           level,
		TopErrors:       TopErrors(in.Errors, topErrorLimit),
		GeneratedAt:     domain.NowISO(),
		SuccessRate:     SuccessRate(in.Success, in.Expected),
	}
	s.syncAliases()
	return s, nil
}

// SkipSummary is the placeholder written when a date is not collected: a
// non-trading day or a crashed run.
func SkipSummary(date, reason, runner string) *Summary {
	s := &Summary{
		Date:        date,
		Source:      Source,
		Runner:      runner,
		Level:       domain.LevelInfo,
		TopErrors:   []TopError{},
		GeneratedAt: domain.NowISO(),
		SkipReason:  reason,
	}
	s.syncAliases()
	return s
}

// IsEmpty reports whether the summary carries no counts at all.
func (s *Summary) IsEmpty() bool {
	return s.Expected == 0 && s.Success == 0 && s.Failed == 0 && s.Missing == 0
}

func (s *Summary) syncAliases() {
	s.SuccessSymbols = s.Success
	s.FailedSymbols = s.Failed
	s.MissingSymbols = s.Missing
	s.SkippedSymbols = s.Skipped
}

// SuccessRate is success/expected, or 0 for an empty universe.
func SuccessRate(success, expected int) float64 {
	if expected == 0 {
		return 0
	}
	return float64(success) / float64(expected)
}

// TopErrors counts identical messages and returns the n most frequent.
// Ties keep first-occurrence order.
func TopErrors(errs []string, n int) []TopError {
	counts := make(map[string]int)
	var order []string
	for _, e := range errs {
		if _, ok := counts[e]; !ok {
			order = append(order, e)
		}
		counts[e]++
	}

	out := make([]TopError, 0, len(order))
	for _, e := range order {
		out = append(out, TopError{Error: e, Count: counts[e]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// DetectRunner names the environment the run executes in.
func DetectRunner() string {
	if os.Getenv("GITHUB_ACTIONS") != "" {
		return "github-actions"
	}
	return "local"
}
