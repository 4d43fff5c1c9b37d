// Command comet serves the pubsub resource over HTTP, optionally relaying
// broadcasts to other nodes through Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/comet/app/pubsub"
	"github.com/dmitrymomot/comet/core/broadcast"
	"github.com/dmitrymomot/comet/core/config"
	"github.com/dmitrymomot/comet/core/health"
	"github.com/dmitrymomot/comet/core/logger"
	"github.com/dmitrymomot/comet/core/metrics"
	"github.com/dmitrymomot/comet/core/middleware"
	"github.com/dmitrymomot/comet/core/server"
	"github.com/dmitrymomot/comet/integration/cluster/redis"
)

type appConfig struct {
	Env            string `env:"APP_ENV" envDefault:"development"`
	Name           string `env:"APP_NAME" envDefault:"comet"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	ClusterEnabled bool   `env:"CLUSTER_ENABLED" envDefault:"false"`

	Server    server.Config
	Broadcast broadcast.Config
	PubSub    pubsub.Config
	Redis     redis.Config
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg)
	log.Info("application starting", slog.String("env", cfg.Env), slog.String("addr", cfg.Server.Addr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promReg := metrics.NewRegistry()
	opts := []broadcast.Option{
		broadcast.WithLogger(log),
		broadcast.WithObserver(metrics.NewBroadcastMetrics(promReg)),
	}

	var transport *redis.Transport
	if cfg.ClusterEnabled {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = client.Close() }()

		transport, err = redis.NewTransportFromConfig(client, cfg.Redis,
			redis.WithLogger(log),
			redis.WithMetrics(metrics.NewClusterMetrics(promReg)),
		)
		if err != nil {
			return fmt.Errorf("cluster transport: %w", err)
		}
		opts = append(opts, broadcast.WithClusterTransport(transport))
	}

	registry, err := broadcast.NewRegistryFromConfig(cfg.Broadcast, opts...)
	if err != nil {
		return fmt.Errorf("broadcast registry: %w", err)
	}

	app, err := pubsub.NewFromConfig(registry, cfg.PubSub,
		pubsub.WithLogger(log),
		pubsub.WithHTTPMetrics(metrics.NewHTTPMetrics(promReg)),
	)
	if err != nil {
		return fmt.Errorf("pubsub app: %w", err)
	}

	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log))
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Run(ctx, newHandler(log, promReg, registry, app)))
	g.Go(app.Run(ctx))
	g.Go(registry.Run(ctx))
	if transport != nil {
		g.Go(transport.Run(ctx, registry))
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("application stopped with error", logger.Error(err))
		return err
	}
	log.Info("application stopped")
	return nil
}

func newLogger(cfg appConfig) *slog.Logger {
	env := logger.WithDevelopment(cfg.Name)
	if cfg.Env == "production" {
		env = logger.WithProduction(cfg.Name)
	}
	// LOG_LEVEL overrides the environment default.
	return logger.New(env, logger.WithLevel(logger.ParseLevel(cfg.LogLevel)))
}

// newHandler mounts the operational endpoints in front of the pubsub
// resource, which owns every other path.
func newHandler(log *slog.Logger, promReg *prometheus.Registry, registry *broadcast.Registry, app *pubsub.App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(promReg))
	mux.Handle("GET /health/live", health.Liveness())
	mux.Handle("GET /health/ready", health.Readiness(log, registry.Healthcheck))
	mux.Handle("/", app.Handler())

	return middleware.Chain(mux,
		middleware.RequestID(),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger: log,
			Skip: func(r *http.Request) bool {
				return strings.HasPrefix(r.URL.Path, "/health/") || r.URL.Path == "/metrics"
			},
		}),
	)
}
