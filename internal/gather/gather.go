package gather

import "context"

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one collection pass and returns when it is done or ctx is
	// cancelled.
	Run(ctx context.Context) error
}
