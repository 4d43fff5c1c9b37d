package pubsub

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"

	"github.com/dmitrymomot/comet/core/broadcast"
	"github.com/dmitrymomot/comet/core/filter"
	"github.com/dmitrymomot/comet/core/logger"
	"github.com/dmitrymomot/comet/core/metrics"
	"github.com/dmitrymomot/comet/core/sink"
)

// App serves the pubsub resource: clients suspend on /:topic and publishers
// broadcast, delay or schedule messages to it.
type App struct {
	registry *broadcast.Registry
	logger   *slog.Logger
	clock    clockwork.Clock
	unit     time.Duration
	padding  int
	filters  *filter.Registry
	metrics  *metrics.HTTPMetrics
	upgrade  []sink.UpgradeOption

	xss       filter.Filter
	aggregate filter.Filter
	router    *httprouter.Router

	// Echo goroutines started by subscribeAndUsingExternalThread.
	bg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// New creates the application on top of registry.
func New(registry *broadcast.Registry, opts ...Option) (*App, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}

	a := &App{
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:    clockwork.NewRealClock(),
		unit:     time.Second,
		padding:  256,
		filters:  filter.NewRegistry(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("pubsub"))

	var err error
	if a.xss, err = a.filters.New("xss"); err != nil {
		return nil, err
	}
	// One aggregator serves the route across topics.
	if a.aggregate, err = a.filters.New("aggregate"); err != nil {
		return nil, err
	}

	a.router = a.routes()
	return a, nil
}

// NewFromConfig creates the application from configuration.
// Additional options override config values.
func NewFromConfig(registry *broadcast.Registry, cfg Config, opts ...Option) (*App, error) {
	allOpts := []Option{
		WithTimeUnit(cfg.TimeUnit),
		WithPaddingSize(cfg.PaddingSize),
	}
	if cfg.AllowAnyOrigin {
		allOpts = append(allOpts, WithUpgradeOptions(sink.WithAllowAnyOrigin()))
	}
	return New(registry, append(allOpts, opts...)...)
}

// Handler returns the routed resource.
func (a *App) Handler() http.Handler { return a.router }

// Close stops pending echo goroutines and waits for them, bounded by ctx.
func (a *App) Close(ctx context.Context) error {
	a.once.Do(func() { close(a.stop) })

	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run provides errgroup compatibility: it blocks until ctx is cancelled and
// then closes the application.
func (a *App) Run(ctx context.Context) func() error {
	return func() error {
		<-ctx.Done()
		return a.Close(context.Background())
	}
}

func (a *App) units(n int) time.Duration { return time.Duration(n) * a.unit }

func (a *App) routes() *httprouter.Router {
	r := httprouter.New()
	r.HandleMethodNotAllowed = true

	a.handle(r, http.MethodGet, "/:topic", a.suspend(suspension{
		opts:     broadcast.SuspendOptions{Timeout: a.units(5)},
		announce: "resume",
	}))
	a.handle(r, http.MethodGet, "/:topic/scope", http.HandlerFunc(a.suspendScopeRequest))
	a.handle(r, http.MethodGet, "/:topic/withComments", a.suspend(suspension{
		opts:    broadcast.SuspendOptions{Timeout: a.units(5)},
		comment: true,
	}))
	a.handle(r, http.MethodGet, "/:topic/forever", a.suspend(suspension{comment: true}))
	a.handle(r, http.MethodGet, "/:topic/foreverWithoutComments", a.suspend(suspension{}))
	a.handle(r, http.MethodGet, "/:topic/subscribeAndUsingExternalThread", http.HandlerFunc(a.subscribeExternalThread))
	a.handle(r, http.MethodGet, "/:topic/suspendAndResume", a.suspend(suspension{
		preamble: "suspend",
		expose:   true,
	}))
	a.handle(r, http.MethodGet, "/:topic/subscribeAndResume", a.suspend(suspension{
		opts: broadcast.SuspendOptions{ResumeOnBroadcast: true},
	}))
	a.handle(r, http.MethodGet, "/:topic/suspendAndResume/:uuid", http.HandlerFunc(a.resume))
	a.handle(r, http.MethodGet, "/:topic/ws", http.HandlerFunc(a.subscribeWebSocket))

	a.handle(r, http.MethodPost, "/:topic", a.publish(publication{}))
	a.handle(r, http.MethodPost, "/:topic/publishAndResume", a.publish(publication{wait: true}))
	a.handle(r, http.MethodPost, "/:topic/filter", a.publish(publication{wait: true, filters: []filter.Filter{a.xss}}))
	a.handle(r, http.MethodPost, "/:topic/aggregate", a.publish(publication{wait: true, filters: []filter.Filter{a.aggregate}}))
	a.handle(r, http.MethodPost, "/:topic/scheduleAndResume", a.schedule(5, 5, true))
	a.handle(r, http.MethodPost, "/:topic/delaySchedule", a.schedule(10, 5, false))
	a.handle(r, http.MethodPost, "/:topic/schedule", a.schedule(5, 0, false))
	a.handle(r, http.MethodPost, "/:topic/delay", a.deferred("\n"))
	a.handle(r, http.MethodPost, "/:topic/delayAndResume", http.HandlerFunc(a.delayed))
	a.handle(r, http.MethodPost, "/:topic/programmaticDelayBroadcast", a.deferred(""))

	a.handle(r, http.MethodDelete, "/:topic", http.HandlerFunc(a.remove))

	return r
}

func (a *App) handle(r *httprouter.Router, method, path string, h http.Handler) {
	if a.metrics != nil {
		h = a.metrics.Wrap(path, h)
	}
	r.Handler(method, path, h)
}
