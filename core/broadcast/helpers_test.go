package broadcast_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/comet/core/broadcast"
)

const waitTimeout = 2 * time.Second

type testSink struct {
	id string

	mu       sync.Mutex
	messages []any
	outcomes []broadcast.Outcome
	err      error
	block    chan struct{}
}

func newSink(id string) *testSink { return &testSink{id: id} }

func (s *testSink) ID() string { return s.id }

func (s *testSink) Deliver(ctx context.Context, msg any) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *testSink) Close(outcome broadcast.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
}

func (s *testSink) Messages() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.messages...)
}

func (s *testSink) Outcomes() []broadcast.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]broadcast.Outcome(nil), s.outcomes...)
}

type countingObserver struct {
	broadcast.NopObserver

	mu            sync.Mutex
	delivered     int
	rejected      int
	suspended     int
	resumed       map[broadcast.Outcome]int
	taskFired     int
	taskFailed    int
	clusterFailed int
}

func newObserver() *countingObserver {
	return &countingObserver{resumed: make(map[broadcast.Outcome]int)}
}

func (o *countingObserver) Broadcast(_ string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered += n
}

func (o *countingObserver) Rejected(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func (o *countingObserver) Suspended(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.suspended++
}

func (o *countingObserver) Resumed(_ string, outcome broadcast.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resumed[outcome]++
}

func (o *countingObserver) TaskFired(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.taskFired++
}

func (o *countingObserver) TaskFailed(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.taskFailed++
}

func (o *countingObserver) ClusterFailed(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clusterFailed++
}

type observed struct {
	delivered     int
	rejected      int
	suspended     int
	resumed       map[broadcast.Outcome]int
	taskFired     int
	taskFailed    int
	clusterFailed int
}

func (o *countingObserver) snapshot() observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	resumed := make(map[broadcast.Outcome]int, len(o.resumed))
	for k, v := range o.resumed {
		resumed[k] = v
	}
	return observed{
		delivered:     o.delivered,
		rejected:      o.rejected,
		suspended:     o.suspended,
		resumed:       resumed,
		taskFired:     o.taskFired,
		taskFailed:    o.taskFailed,
		clusterFailed: o.clusterFailed,
	}
}

func newRegistry(t *testing.T, opts ...broadcast.Option) *broadcast.Registry {
	t.Helper()
	reg, err := broadcast.NewRegistry(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

func newFakeRegistry(t *testing.T, opts ...broadcast.Option) (*broadcast.Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return newRegistry(t, append([]broadcast.Option{broadcast.WithClock(clock)}, opts...)...), clock
}

func topic(t *testing.T, reg *broadcast.Registry, name string) *broadcast.Broadcaster {
	t.Helper()
	b, err := reg.LookupOrCreate(name)
	require.NoError(t, err)
	return b
}

func suspend(t *testing.T, b *broadcast.Broadcaster, sink broadcast.Sink, opts broadcast.SuspendOptions) *broadcast.Subscription {
	t.Helper()
	sub, err := b.Suspend(context.Background(), sink, opts)
	require.NoError(t, err)
	return sub
}

func await(t *testing.T, sub *broadcast.Subscription) broadcast.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	outcome, err := sub.Wait(ctx)
	require.NoError(t, err, "subscription did not end")
	return outcome
}

func blockUntil(t *testing.T, clock *clockwork.FakeClock, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, waiters))
}
