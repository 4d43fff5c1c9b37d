package pubsub

import "errors"

var (
	ErrNilRegistry    = errors.New("broadcast registry is required")
	ErrMissingMessage = errors.New("message form value is required")
)
