// Package config loads typed configuration structs from the environment.
//
// A .env file in the working directory is read once, on first use, and then
// caarlos0/env parses `env` and `envDefault` struct tags. Each struct type is
// parsed once per process; later Load calls for the same type return the
// cached value, so components can load their own section independently:
//
//	type appConfig struct {
//		LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
//		Broadcast broadcast.Config
//		PubSub    pubsub.Config
//	}
//
//	var cfg appConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Nested structs are parsed in place, which is how cmd/comet assembles the
// server, broadcast, pubsub and redis sections into one value.
//
// Reset clears the cache. Tests that set variables with t.Setenv call it
// before loading.
package config
