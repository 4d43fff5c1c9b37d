package filter

import "errors"

var (
	// ErrRejected is returned when a filter aborts the payload.
	ErrRejected = errors.New("filter: payload rejected")

	// ErrHeld is returned when a filter buffered the payload and nothing is to be delivered yet.
	ErrHeld = errors.New("filter: payload held")

	// ErrUnknownFilter is returned when a filter name is not registered.
	ErrUnknownFilter = errors.New("filter: unknown filter")
)
