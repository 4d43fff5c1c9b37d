package pubsub

import "time"

// Config holds the pubsub resource settings.
type Config struct {
	// TimeUnit scales every period, delay and timeout the routes use.
	TimeUnit time.Duration `env:"PUBSUB_TIME_UNIT" envDefault:"1s"`

	// PaddingSize is the width of the comment written by the routes that
	// output comments.
	PaddingSize int `env:"PUBSUB_PADDING_SIZE" envDefault:"256"`

	// AllowAnyOrigin disables the websocket same-origin check.
	AllowAnyOrigin bool `env:"PUBSUB_WS_ALLOW_ANY_ORIGIN" envDefault:"false"`
}
