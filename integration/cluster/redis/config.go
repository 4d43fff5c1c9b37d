package redis

import "time"

// Config holds connection and cluster transport settings.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`

	Channel            string        `env:"CLUSTER_CHANNEL" envDefault:"comet:broadcast"`
	NodeID             string        `env:"CLUSTER_NODE_ID"`
	BreakerMaxFailures uint32        `env:"CLUSTER_BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerTimeout     time.Duration `env:"CLUSTER_BREAKER_TIMEOUT" envDefault:"30s"`
}
