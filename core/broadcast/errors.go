package broadcast

import (
	"errors"

	"github.com/dmitrymomot/comet/core/filter"
)

var (
	// Lookup errors
	ErrNotFound     = errors.New("not found")
	ErrInvalidTopic = errors.New("topic cannot be empty")

	// Subscription errors
	ErrAlreadySuspended = errors.New("sink is already suspended")
	ErrNilSink          = errors.New("sink is required")

	// Scheduling errors
	ErrInvalidPeriod = errors.New("schedule period must be positive")
	ErrNoMessage     = errors.New("schedule needs a message or a message source")

	// Lifecycle errors
	ErrDestroyed      = errors.New("broadcaster has been destroyed")
	ErrRegistryClosed = errors.New("registry is closed")
	ErrInvalidFilters = errors.New("invalid default filters")

	// ErrRejected is returned synchronously when a filter refuses a payload.
	ErrRejected = filter.ErrRejected
)
