package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/dmitrymomot/comet/core/broadcast"
	"github.com/dmitrymomot/comet/core/logger"
)

const breakerName = "cluster"

// Payload kinds carried in an envelope.
const (
	kindText  = "text"
	kindBytes = "bytes"
	kindJSON  = "json"
)

// envelope is the wire format published on the cluster channel.
type envelope struct {
	Node    string          `json:"node"`
	Topic   string          `json:"topic"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Transport relays broadcasts between nodes over Redis pub/sub.
// It implements broadcast.ClusterTransport.
type Transport struct {
	client  redis.UniversalClient
	channel string
	node    string
	logger  *slog.Logger
	metrics Metrics

	maxFailures    uint32
	breakerTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker

	ready     chan struct{}
	readyOnce sync.Once
}

var _ broadcast.ClusterTransport = (*Transport)(nil)

// NewTransport creates a transport on an established client.
func NewTransport(client redis.UniversalClient, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	t := &Transport{
		client:         client,
		channel:        "comet:broadcast",
		node:           uuid.NewString(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:        nopMetrics{},
		maxFailures:    5,
		breakerTimeout: 30 * time.Second,
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(logger.Component("cluster"), logger.Node(t.node))

	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     t.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= t.maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			t.metrics.BreakerStateChanged(name, from, to)
		},
	})

	return t, nil
}

// NewTransportFromConfig creates a transport from configuration.
// Additional options override config values.
func NewTransportFromConfig(client redis.UniversalClient, cfg Config, opts ...Option) (*Transport, error) {
	allOpts := append([]Option{
		WithChannel(cfg.Channel),
		WithNodeID(cfg.NodeID),
		WithBreaker(cfg.BreakerMaxFailures, cfg.BreakerTimeout),
	}, opts...)

	return NewTransport(client, allOpts...)
}

// NodeID returns the identifier stamped on published envelopes.
func (t *Transport) NodeID() string { return t.node }

// Ready is closed once Listen has subscribed to the channel.
func (t *Transport) Ready() <-chan struct{} { return t.ready }

// Forward publishes msg for topic to every other node.
func (t *Transport) Forward(ctx context.Context, topic string, msg any) error {
	data, err := t.encode(topic, msg)
	if err != nil {
		return errors.Join(ErrForwardFailed, err)
	}

	_, err = t.breaker.Execute(func() (interface{}, error) {
		return nil, t.client.Publish(ctx, t.channel, data).Err()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return errors.Join(ErrForwardFailed, ErrBreakerOpen)
		}
		return errors.Join(ErrForwardFailed, err)
	}

	t.metrics.Forwarded()
	return nil
}

// Listen subscribes to the cluster channel and replays messages from other
// nodes as local broadcasts on reg. Topics with no local broadcaster are
// skipped. It blocks until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context, reg *broadcast.Registry) error {
	pubsub := t.client.Subscribe(ctx, t.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Join(ErrSubscribeFailed, err)
	}
	t.readyOnce.Do(func() { close(t.ready) })
	t.logger.InfoContext(ctx, "cluster listener started", slog.String("channel", t.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			t.logger.InfoContext(context.Background(), "cluster listener stopped")
			return nil
		case m, ok := <-messages:
			if !ok {
				return nil
			}
			t.receive(ctx, reg, m.Payload)
		}
	}
}

// Run provides errgroup compatibility for Listen.
func (t *Transport) Run(ctx context.Context, reg *broadcast.Registry) func() error {
	return func() error {
		return t.Listen(ctx, reg)
	}
}

// Healthcheck pings Redis and reports an open breaker as unhealthy.
func (t *Transport) Healthcheck(ctx context.Context) error {
	if t.breaker.State() == gobreaker.StateOpen {
		return ErrBreakerOpen
	}
	return Healthcheck(t.client)(ctx)
}

func (t *Transport) receive(ctx context.Context, reg *broadcast.Registry, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.logger.WarnContext(ctx, "dropping malformed cluster message", logger.Error(err))
		return
	}
	if env.Node == t.node {
		return
	}

	msg, err := decode(env)
	if err != nil {
		t.logger.WarnContext(ctx, "dropping malformed cluster message", logger.Topic(env.Topic), logger.Error(err))
		return
	}

	b, err := reg.Lookup(env.Topic)
	if err != nil {
		return
	}
	t.metrics.Received()

	if _, err := b.BroadcastLocal(ctx, msg); err != nil {
		t.logger.DebugContext(ctx, "remote broadcast not dispatched", logger.Topic(env.Topic), logger.Error(err))
	}
}

func (t *Transport) encode(topic string, msg any) ([]byte, error) {
	env := envelope{Node: t.node, Topic: topic}

	var (
		payload []byte
		err     error
	)
	switch v := msg.(type) {
	case string:
		env.Kind = kindText
		payload, err = json.Marshal(v)
	case fmt.Stringer:
		env.Kind = kindText
		payload, err = json.Marshal(v.String())
	case []byte:
		env.Kind = kindBytes
		payload, err = json.Marshal(v)
	default:
		env.Kind = kindJSON
		payload, err = json.Marshal(v)
	}
	if err != nil {
		return nil, err
	}
	env.Payload = payload

	return json.Marshal(env)
}

func decode(env envelope) (any, error) {
	switch env.Kind {
	case kindText:
		var s string
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, err
		}
		return s, nil
	case kindBytes:
		var b []byte
		if err := json.Unmarshal(env.Payload, &b); err != nil {
			return nil, err
		}
		return b, nil
	case kindJSON:
		return env.Payload, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, env.Kind)
	}
}
