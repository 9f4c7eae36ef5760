package cn

import (
	"eodcollector/internal/domain"
	"eodcollector/internal/validate"
)

// OutcomeKind classifies the result of one fetch attempt.
type OutcomeKind int

const (
	// OutcomeSuccess carries a validated bar.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeMissing means the source has no bar for the date.
	OutcomeMissing
	// OutcomeSuspended means trading in the symbol is halted.
	OutcomeSuspended
	// OutcomeTransient is a network or parse failure worth another tier.
	OutcomeTransient
	// OutcomeInvalid carries a bar that failed validation.
	OutcomeInvalid
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeMissing:
		return "missing"
	case OutcomeSuspended:
		return "suspended"
	case OutcomeTransient:
		return "transient"
	case OutcomeInvalid:
		return "invalid"
	}
	return "unknown"
}

// Reasons recorded as last_error.
const (
	ReasonAPIMissing   = "api_missing"
	ReasonSuspended    = "suspended"
	ReasonDOMMissing   = "dom_missing"
	ReasonDOMDateStale = "dom_date_mismatch"
)

// Outcome is what a fetcher hands back to the consumer. Exactly one of Bar,
// Reason, Err or Violations is meaningful, depending on Kind.
type Outcome struct {
	Kind       OutcomeKind
	Bar        domain.DailyBar
	Reason     string
	Err        error
	Violations []string
}

// ErrorText renders the outcome as the text stored on a status row.
func (o Outcome) ErrorText() string {
	switch o.Kind {
	case OutcomeMissing, OutcomeSuspended:
		return o.Reason
	case OutcomeTransient:
		if o.Err != nil {
			return o.Err.Error()
		}
		return "transient error"
	case OutcomeInvalid:
		return validate.Join(o.Violations)
	}
	return ""
}

func missing(reason string) Outcome { return Outcome{Kind: OutcomeMissing, Reason: reason} }

func suspended() Outcome { return Outcome{Kind: OutcomeSuspended, Reason: ReasonSuspended} }

func transient(err error) Outcome { return Outcome{Kind: OutcomeTransient, Err: err} }

// checked validates bar and wraps it as Success or Invalid.
func checked(bar domain.DailyBar) Outcome {
	if v := validate.Bar(bar); len(v) > 0 {
		return Outcome{Kind: OutcomeInvalid, Bar: bar, Violations: v}
	}
	return Outcome{Kind: OutcomeSuccess, Bar: bar}
}
