package redis

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Metrics receives transport counters. *metrics.ClusterMetrics satisfies it.
type Metrics interface {
	Forwarded()
	Received()
	BreakerStateChanged(name string, from, to gobreaker.State)
}

type nopMetrics struct{}

func (nopMetrics) Forwarded()                                                   {}
func (nopMetrics) Received()                                                    {}
func (nopMetrics) BreakerStateChanged(string, gobreaker.State, gobreaker.State) {}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithChannel sets the pub/sub channel shared by all nodes.
func WithChannel(channel string) Option {
	return func(t *Transport) {
		if channel != "" {
			t.channel = channel
		}
	}
}

// WithNodeID sets the identifier used to skip this node's own messages.
func WithNodeID(id string) Option {
	return func(t *Transport) {
		if id != "" {
			t.node = id
		}
	}
}

// WithBreaker configures the circuit breaker guarding publishes. It opens
// after maxFailures consecutive failures and probes again after timeout.
func WithBreaker(maxFailures uint32, timeout time.Duration) Option {
	return func(t *Transport) {
		if maxFailures > 0 {
			t.maxFailures = maxFailures
		}
		if timeout > 0 {
			t.breakerTimeout = timeout
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(t *Transport) {
		if m != nil {
			t.metrics = m
		}
	}
}
