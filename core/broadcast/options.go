package broadcast

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dmitrymomot/comet/core/filter"
)

// Option configures a Registry.
type Option func(*options)

type options struct {
	clock           clockwork.Clock
	logger          *slog.Logger
	observer        Observer
	transport       ClusterTransport
	filters         *filter.Registry
	defaultFilters  []string
	deliveryTimeout time.Duration
	shutdownTimeout time.Duration
}

// WithClock replaces the clock driving timeouts, delays and schedules.
// Tests pass a clockwork fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger configures structured logging for the registry and every
// broadcaster it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver installs hooks for broadcast, subscription and task events.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithClusterTransport forwards every non-local broadcast to other nodes.
func WithClusterTransport(t ClusterTransport) Option {
	return func(o *options) { o.transport = t }
}

// WithFilterRegistry sets the registry used to resolve default filter names.
func WithFilterRegistry(r *filter.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.filters = r
		}
	}
}

// WithDefaultFilters names filters every new broadcaster applies before
// per-message filters. Each broadcaster gets its own instances.
func WithDefaultFilters(names ...string) Option {
	return func(o *options) { o.defaultFilters = append(o.defaultFilters, names...) }
}

// WithDeliveryTimeout bounds a single sink delivery. Zero disables the bound.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.deliveryTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Close waits for in-flight work.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}
