package report

import "eodcollector/internal/domain"

// Thresholds drive the level computation.
type Thresholds struct {
	WarnSuccessRate              float64
	InfoSuccessRate              float64
	CriticalConsecutiveErrorDays int
}

// Rules decide when a run needs a human.
type Rules struct {
	FailedOver            int
	MissingOver           int
	SameSymbolMissingDays int
}

// ComputeLevel maps a success rate and an error streak to a level. The
// streak check wins over the rate.
func ComputeLevel(successRate float64, consecutiveErrorDays int, th Thresholds) domain.Level {
	switch {
	case consecutiveErrorDays >= th.CriticalConsecutiveErrorDays:
		return domain.LevelCritical
	case successRate < th.WarnSuccessRate:
		return domain.LevelError
	case successRate < th.InfoSuccessRate:
		return domain.LevelWarn
	default:
		return domain.LevelInfo
	}
}

// ConsecutiveErrorDays counts the leading run of ERROR/CRITICAL levels in a
// newest-first history.
func ConsecutiveErrorDays(levels []domain.Level) int {
	n := 0
	for _, l := range levels {
		if !l.IsError() {
			break
		}
		n++
	}
	return n
}

// Escalate upgrades an ERROR or CRITICAL base level to CRITICAL when the
// prior streak meets the threshold. INFO and WARN are never escalated.
func Escalate(base domain.Level, consecutiveErrorDays int, th Thresholds) domain.Level {
	if base.IsError() && consecutiveErrorDays >= th.CriticalConsecutiveErrorDays {
		return domain.LevelCritical
	}
	return base
}

// HumanRequired reports whether the failure profile of s exceeds what the
// collector recovers from on its own.
func HumanRequired(s *Summary, r Rules) bool {
	return s.Failed >= r.FailedOver ||
		s.Missing >= r.MissingOver ||
		s.SameSymbolMissingDays >= r.SameSymbolMissingDays
}
