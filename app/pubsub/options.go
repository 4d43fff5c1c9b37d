package pubsub

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dmitrymomot/comet/core/filter"
	"github.com/dmitrymomot/comet/core/metrics"
	"github.com/dmitrymomot/comet/core/sink"
)

// Option configures an App.
type Option func(*App)

// WithLogger sets the application logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock replaces the clock driving the external echo thread.
func WithClock(clock clockwork.Clock) Option {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithTimeUnit sets the unit for periods, delays and timeouts.
func WithTimeUnit(unit time.Duration) Option {
	return func(a *App) {
		if unit > 0 {
			a.unit = unit
		}
	}
}

// WithPaddingSize sets the width of the padding comment.
func WithPaddingSize(size int) Option {
	return func(a *App) {
		if size > 0 {
			a.padding = size
		}
	}
}

// WithFilterRegistry sets where the xss and aggregate filters come from.
func WithFilterRegistry(r *filter.Registry) Option {
	return func(a *App) {
		if r != nil {
			a.filters = r
		}
	}
}

// WithHTTPMetrics records request metrics per route.
func WithHTTPMetrics(m *metrics.HTTPMetrics) Option {
	return func(a *App) {
		a.metrics = m
	}
}

// WithUpgradeOptions configures the websocket upgrade.
func WithUpgradeOptions(opts ...sink.UpgradeOption) Option {
	return func(a *App) {
		a.upgrade = append(a.upgrade, opts...)
	}
}
