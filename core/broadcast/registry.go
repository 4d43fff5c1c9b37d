package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dmitrymomot/comet/core/filter"
	"github.com/dmitrymomot/comet/core/logger"
)

// Registry maps topics to broadcasters. It is explicitly constructed and
// passed around; there is no process-wide default.
type Registry struct {
	opts options

	mu           sync.Mutex
	broadcasters map[string]*Broadcaster
	closed       bool
}

// Stats provides a point-in-time view of the registry.
type Stats struct {
	Topics        int   // broadcasters, private ones included
	Subscriptions int   // live subscriptions across all topics
	Tasks         int   // scheduled tasks not yet cancelled
	Broadcasts    int64 // broadcasts dispatched by live broadcasters
	Closed        bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) (*Registry, error) {
	o := options{
		clock:           clockwork.NewRealClock(),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer:        NopObserver{},
		filters:         filter.NewRegistry(),
		deliveryTimeout: 10 * time.Second,
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(logger.Component("broadcast"))

	// Resolve once up front so a typo fails at startup, not on first use.
	if _, err := o.filters.Resolve(o.defaultFilters...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilters, err)
	}

	return &Registry{
		opts:         o,
		broadcasters: make(map[string]*Broadcaster),
	}, nil
}

// NewRegistryFromConfig creates a Registry from configuration.
// Additional options override config values.
func NewRegistryFromConfig(cfg Config, opts ...Option) (*Registry, error) {
	allOpts := append([]Option{
		WithDeliveryTimeout(cfg.DeliveryTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithDefaultFilters(cfg.DefaultFilters...),
	}, opts...)

	return NewRegistry(allOpts...)
}

// LookupOrCreate returns the broadcaster for topic, creating it if needed.
// Concurrent callers always observe the same instance.
func (r *Registry) LookupOrCreate(topic string) (*Broadcaster, error) {
	return r.lookupOrCreate(topic, false)
}

func (r *Registry) lookupOrCreate(topic string, private bool) (*Broadcaster, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if b, ok := r.broadcasters[topic]; ok {
		return b, nil
	}

	filters, err := r.opts.filters.Resolve(r.opts.defaultFilters...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilters, err)
	}

	b := newBroadcaster(topic, private, &r.opts, filters)
	r.broadcasters[topic] = b
	r.opts.logger.Debug("broadcaster created", logger.Topic(topic))

	return b, nil
}

// Lookup returns the broadcaster for topic without ever creating one.
func (r *Registry) Lookup(topic string) (*Broadcaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.broadcasters[topic]
	if !ok {
		return nil, fmt.Errorf("%w: topic %q", ErrNotFound, topic)
	}
	return b, nil
}

// Remove destroys the broadcaster for topic: its tasks stop and its live
// subscriptions end with OutcomeTerminated.
func (r *Registry) Remove(topic string) error {
	r.mu.Lock()
	b, ok := r.broadcasters[topic]
	delete(r.broadcasters, topic)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: topic %q", ErrNotFound, topic)
	}

	b.destroy()
	r.opts.logger.Debug("broadcaster removed", logger.Topic(topic))
	return nil
}

// Topics returns the sorted topics of every public broadcaster.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]string, 0, len(r.broadcasters))
	for topic, b := range r.broadcasters {
		if !b.private {
			topics = append(topics, topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Suspend attaches sink to topic according to opts.Scope. With
// ScopeRequest a private broadcaster named "<topic>/<uuid>" is created for
// this subscription alone and removed once it ends; reach it through
// Subscription.Broadcaster.
func (r *Registry) Suspend(ctx context.Context, topic string, sink Sink, opts SuspendOptions) (*Subscription, error) {
	if opts.Scope != ScopeRequest {
		b, err := r.LookupOrCreate(topic)
		if err != nil {
			return nil, err
		}
		return b.Suspend(ctx, sink, opts)
	}

	if topic == "" {
		return nil, ErrInvalidTopic
	}
	private := topic + "/" + uuid.NewString()
	b, err := r.lookupOrCreate(private, true)
	if err != nil {
		return nil, err
	}

	cleanup := func() {
		if err := r.Remove(private); err != nil && !errors.Is(err, ErrNotFound) {
			r.opts.logger.Warn("failed to remove request broadcaster", logger.Topic(private), logger.Error(err))
		}
	}

	sub, err := b.suspend(ctx, sink, opts, cleanup)
	if err != nil {
		cleanup()
		return nil, err
	}
	return sub, nil
}

// Stats returns aggregate counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	bs := make([]*Broadcaster, 0, len(r.broadcasters))
	for _, b := range r.broadcasters {
		bs = append(bs, b)
	}
	closed := r.closed
	r.mu.Unlock()

	s := Stats{Topics: len(bs), Closed: closed}
	for _, b := range bs {
		b.mu.Lock()
		s.Subscriptions += len(b.subs)
		s.Tasks += len(b.tasks)
		b.mu.Unlock()
		s.Broadcasts += b.broadcasts.Load()
	}
	return s
}

// Healthcheck reports whether the registry accepts work. When the cluster
// transport exposes a Healthcheck it is consulted too.
func (r *Registry) Healthcheck(ctx context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return ErrRegistryClosed
	}
	if hc, ok := r.opts.transport.(interface{ Healthcheck(context.Context) error }); ok {
		if err := hc.Healthcheck(ctx); err != nil {
			return fmt.Errorf("cluster transport: %w", err)
		}
	}
	return nil
}

// Close destroys every broadcaster and waits for in-flight deliveries and
// firings, bounded by ctx and the shutdown timeout. Later calls are no-ops.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	bs := make([]*Broadcaster, 0, len(r.broadcasters))
	for _, b := range r.broadcasters {
		bs = append(bs, b)
	}
	clear(r.broadcasters)
	r.mu.Unlock()

	r.opts.logger.InfoContext(ctx, "closing broadcast registry",
		logger.Count("topics", len(bs)),
		slog.Duration("timeout", r.opts.shutdownTimeout))

	ctx, cancel := context.WithTimeout(ctx, r.opts.shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, b := range bs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.destroy()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.opts.logger.InfoContext(ctx, "broadcast registry closed")
		return nil
	case <-ctx.Done():
		r.opts.logger.WarnContext(context.Background(), "broadcast registry shutdown timeout exceeded",
			slog.Duration("timeout", r.opts.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s: %w", r.opts.shutdownTimeout, ctx.Err())
	}
}

// Run provides errgroup compatibility: it blocks until ctx is cancelled and
// then closes the registry.
func (r *Registry) Run(ctx context.Context) func() error {
	return func() error {
		<-ctx.Done()
		return r.Close(context.Background())
	}
}
