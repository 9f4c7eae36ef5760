package cn

import (
	"sort"

	"eodcollector/internal/domain"
	"eodcollector/internal/ops/debug"
)

// tally accumulates per-symbol states for one run. It is owned by the
// single result consumer and is never shared across goroutines.
type tally struct {
	state        map[string]domain.Status
	errors       []string
	retrySuccess int
	first        *debug.FirstError
}

func newTally() *tally {
	return &tally{state: make(map[string]domain.Status)}
}

// terminal reports whether sym already reached a final state.
func (t *tally) terminal(sym string) bool {
	s, ok := t.state[sym]
	return ok && s.Terminal()
}

// record moves sym to status. A terminal symbol is never revisited; the
// return value reports whether the transition happened.
func (t *tally) record(sym string, status domain.Status, errText string) bool {
	if t.terminal(sym) {
		return false
	}
	t.state[sym] = status

	switch status {
	case domain.StatusFailed, domain.StatusAPIFailed:
		t.errors = append(t.errors, errText)
		t.noteFirst("failed", sym, errText)
	case domain.StatusMissing:
		t.noteFirst("missing", sym, errText)
	}
	return true
}

func (t *tally) noteFirst(kind, sym, text string) {
	if t.first == nil {
		t.first = &debug.FirstError{Type: kind, Symbol: sym, Exception: text}
	}
}

type counts struct {
	success, missing, skipped, failed int
}

func (t *tally) counts() counts {
	var c counts
	for _, s := range t.state {
		switch s {
		case domain.StatusSuccess:
			c.success++
		case domain.StatusMissing:
			c.missing++
		case domain.StatusSkipped:
			c.skipped++
		case domain.StatusFailed:
			c.failed++
		}
	}
	return c
}

// withStatus lists the symbols in a given state, sorted.
func (t *tally) withStatus(status domain.Status) []string {
	var out []string
	for sym, s := range t.state {
		if s == status {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}
