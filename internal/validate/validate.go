// Package validate checks the structural sanity of a daily bar.
package validate

import (
	"strings"

	"eodcollector/internal/domain"
)

// Violation messages, in check order.
const (
	NonPositivePrice = "price must be positive"
	HighBelowLow     = "high below low"
	OpenOutOfRange   = "open outside low-high range"
	CloseOutOfRange  = "close outside low-high range"
	NegativeVolume   = "volume is negative"
)

// Bar runs every check independently and returns the violations found. An
// empty result means the bar is acceptable.
func Bar(bar domain.DailyBar) []string {
	var errs []string
	if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
		errs = append(errs, NonPositivePrice)
	}
	if bar.High < bar.Low {
		errs = append(errs, HighBelowLow)
	}
	if !(bar.Low <= bar.Open && bar.Open <= bar.High) {
		errs = append(errs, OpenOutOfRange)
	}
	if !(bar.Low <= bar.Close && bar.Close <= bar.High) {
		errs = append(errs, CloseOutOfRange)
	}
	if bar.Volume < 0 {
		errs = append(errs, NegativeVolume)
	}
	return errs
}

// Join renders violations as the error text stored on a failed status.
func Join(violations []string) string {
	return strings.Join(violations, ";")
}
