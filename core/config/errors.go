package config

import "errors"

var (
	ErrNilConfig = errors.New("config: nil config pointer")
	ErrParse     = errors.New("config: failed to parse environment")
)
