package broadcast

import "time"

// Config holds environment-driven settings for a Registry.
type Config struct {
	DeliveryTimeout time.Duration `env:"BROADCAST_DELIVERY_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"BROADCAST_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	DefaultFilters  []string      `env:"BROADCAST_DEFAULT_FILTERS" envSeparator:","`
}
