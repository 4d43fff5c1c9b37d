package redis

import "errors"

// Domain-specific Redis errors for consistent error handling across the application.
// Use errors.Is() to check error types for retry logic and user-facing messages.
var (
	// Connection errors
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")

	// Transport errors
	ErrNilClient       = errors.New("redis client is required")
	ErrForwardFailed   = errors.New("failed to forward broadcast")
	ErrInvalidEnvelope = errors.New("invalid cluster envelope")
	ErrSubscribeFailed = errors.New("failed to subscribe to cluster channel")
	ErrBreakerOpen     = errors.New("cluster circuit breaker is open")
)
