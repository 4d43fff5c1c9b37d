package broadcast_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/comet/core/broadcast"
)

func TestRegistry_LookupOrCreateConcurrent(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)

	const n = 64
	results := make([]*broadcast.Broadcaster, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := reg.LookupOrCreate("shared")
			assert.NoError(t, err)
			results[i] = b
		}()
	}
	wg.Wait()

	for _, b := range results {
		require.Same(t, results[0], b)
	}
	assert.Equal(t, []string{"shared"}, reg.Topics())
}

func TestRegistry_LookupOrCreateInvalidTopic(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	_, err := reg.LookupOrCreate("")
	require.ErrorIs(t, err, broadcast.ErrInvalidTopic)
}

func TestRegistry_LookupNeverCreates(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)

	_, err := reg.Lookup("missing")
	require.ErrorIs(t, err, broadcast.ErrNotFound)
	assert.Empty(t, reg.Topics(), "lookup must not create a broadcaster")

	created := topic(t, reg, "present")
	found, err := reg.Lookup("present")
	require.NoError(t, err)
	assert.Same(t, created, found)
}

func TestRegistry_RemoveTerminates(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "news")

	sinks := []*testSink{newSink("a"), newSink("b")}
	subs := make([]*broadcast.Subscription, 0, len(sinks))
	for _, s := range sinks {
		subs = append(subs, suspend(t, b, s, broadcast.SuspendOptions{}))
	}
	task, err := b.Schedule(broadcast.ScheduleOptions{Period: time.Hour, WaitFor: time.Hour, Message: "tick"})
	require.NoError(t, err)

	require.NoError(t, reg.Remove("news"))

	for i, sub := range subs {
		assert.Equal(t, broadcast.OutcomeTerminated, await(t, sub))
		assert.Equal(t, []broadcast.Outcome{broadcast.OutcomeTerminated}, sinks[i].Outcomes())
	}
	assert.Equal(t, broadcast.TaskBroadcasterDestroyed, task.State())
	assert.True(t, b.Destroyed())

	_, err = reg.Lookup("news")
	require.ErrorIs(t, err, broadcast.ErrNotFound)
	require.ErrorIs(t, reg.Remove("news"), broadcast.ErrNotFound)

	_, err = b.Broadcast(context.Background(), "late")
	require.ErrorIs(t, err, broadcast.ErrDestroyed)
	_, err = b.Suspend(context.Background(), newSink("c"), broadcast.SuspendOptions{})
	require.ErrorIs(t, err, broadcast.ErrDestroyed)

	fresh := topic(t, reg, "news")
	assert.NotSame(t, b, fresh, "a removed topic is recreated from scratch")
}

func TestRegistry_SuspendApplicationScope(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	sink := newSink("app")

	sub, err := reg.Suspend(context.Background(), "chat", sink, broadcast.SuspendOptions{ResumeOnBroadcast: true})
	require.NoError(t, err)

	b, err := reg.Lookup("chat")
	require.NoError(t, err)
	assert.Same(t, b, sub.Broadcaster())

	fut, err := b.Broadcast(context.Background(), "hi")
	require.NoError(t, err)
	n, err := fut.Await()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, broadcast.OutcomeBroadcast, await(t, sub))
}

func TestRegistry_SuspendRequestScope(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	shared := topic(t, reg, "chat")
	sink := newSink("req")

	sub, err := reg.Suspend(context.Background(), "chat", sink, broadcast.SuspendOptions{
		ResumeOnBroadcast: true,
		Scope:             broadcast.ScopeRequest,
	})
	require.NoError(t, err)

	private := sub.Broadcaster()
	require.NotSame(t, shared, private)
	assert.Contains(t, private.Topic(), "chat/")
	assert.Equal(t, []string{"chat"}, reg.Topics(), "private broadcasters are not listed")

	fut, err := shared.Broadcast(context.Background(), "foo")
	require.NoError(t, err)
	n, err := fut.Await()
	require.NoError(t, err)
	assert.Zero(t, n, "shared broadcasts do not reach request-scoped clients")

	fut, err = private.Broadcast(context.Background(), "bar")
	require.NoError(t, err)
	n, err = fut.Await()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, broadcast.OutcomeBroadcast, await(t, sub))
	assert.Equal(t, []any{"bar"}, sink.Messages())

	require.Eventually(t, func() bool {
		_, err := reg.Lookup(private.Topic())
		return errors.Is(err, broadcast.ErrNotFound)
	}, waitTimeout, 5*time.Millisecond, "private broadcaster is removed once its client resumes")
}

func TestRegistry_SuspendRequestScopeInvalidTopic(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	_, err := reg.Suspend(context.Background(), "", newSink("x"), broadcast.SuspendOptions{Scope: broadcast.ScopeRequest})
	require.ErrorIs(t, err, broadcast.ErrInvalidTopic)
}

func TestRegistry_Close(t *testing.T) {
	t.Parallel()

	reg, err := broadcast.NewRegistry()
	require.NoError(t, err)

	sub := suspend(t, topic(t, reg, "a"), newSink("s"), broadcast.SuspendOptions{})
	require.NoError(t, reg.Healthcheck(context.Background()))

	require.NoError(t, reg.Close(context.Background()))
	assert.Equal(t, broadcast.OutcomeTerminated, await(t, sub))

	_, err = reg.LookupOrCreate("a")
	require.ErrorIs(t, err, broadcast.ErrRegistryClosed)
	require.ErrorIs(t, reg.Healthcheck(context.Background()), broadcast.ErrRegistryClosed)
	assert.True(t, reg.Stats().Closed)
	require.NoError(t, reg.Close(context.Background()), "close is idempotent")
}

func TestRegistry_Run(t *testing.T) {
	t.Parallel()

	reg, err := broadcast.NewRegistry()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- reg.Run(ctx)() }()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancellation")
	}
	assert.True(t, reg.Stats().Closed)
}

func TestRegistry_Stats(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "a")
	topic(t, reg, "b")
	suspend(t, b, newSink("1"), broadcast.SuspendOptions{})
	suspend(t, b, newSink("2"), broadcast.SuspendOptions{})
	_, err := b.Schedule(broadcast.ScheduleOptions{Period: time.Hour, WaitFor: time.Hour, Message: "m"})
	require.NoError(t, err)

	fut, err := b.Broadcast(context.Background(), "x")
	require.NoError(t, err)
	_, _ = fut.Await()

	stats := reg.Stats()
	assert.Equal(t, 2, stats.Topics)
	assert.Equal(t, 2, stats.Subscriptions)
	assert.Equal(t, 1, stats.Tasks)
	assert.Equal(t, int64(1), stats.Broadcasts)
	assert.False(t, stats.Closed)
}

func TestRegistry_DefaultFilters(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, broadcast.WithDefaultFilters("xss"))
	b := topic(t, reg, "safe")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	fut, err := b.Broadcast(context.Background(), "<b>hi</b>")
	require.NoError(t, err)
	_, _ = fut.Await()

	assert.Equal(t, []any{"&lt;b&gt;hi&lt;&#x2F;b&gt;"}, sink.Messages())
}

func TestRegistry_InvalidDefaultFilters(t *testing.T) {
	t.Parallel()

	_, err := broadcast.NewRegistry(broadcast.WithDefaultFilters("nope"))
	require.ErrorIs(t, err, broadcast.ErrInvalidFilters)
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Parallel()

	reg, err := broadcast.NewRegistryFromConfig(broadcast.Config{
		DeliveryTimeout: time.Second,
		ShutdownTimeout: time.Second,
		DefaultFilters:  []string{"sanitize:trim"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	b := topic(t, reg, "cfg")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	fut, err := b.Broadcast(context.Background(), "  padded  ")
	require.NoError(t, err)
	_, _ = fut.Await()
	assert.Equal(t, []any{"padded"}, sink.Messages())
}

type fakeTransport struct {
	mu       sync.Mutex
	forwards []string
	err      error
	healthy  error
}

func (f *fakeTransport) Forward(_ context.Context, topic string, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, topic+":"+msg.(string))
	return f.err
}

func (f *fakeTransport) Healthcheck(context.Context) error { return f.healthy }

func (f *fakeTransport) Forwards() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.forwards...)
}

func TestRegistry_ClusterForwarding(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	reg := newRegistry(t, broadcast.WithClusterTransport(transport))
	b := topic(t, reg, "c")

	fut, err := b.Broadcast(context.Background(), "remote")
	require.NoError(t, err)
	_, _ = fut.Await()

	fut, err = b.BroadcastLocal(context.Background(), "local")
	require.NoError(t, err)
	_, _ = fut.Await()

	require.Eventually(t, func() bool { return len(transport.Forwards()) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{"c:remote"}, transport.Forwards())

	transport.healthy = errors.New("down")
	require.Error(t, reg.Healthcheck(context.Background()))
}

func TestRegistry_ClusterFailureDoesNotFailBroadcast(t *testing.T) {
	t.Parallel()

	obs := newObserver()
	transport := &fakeTransport{err: errors.New("unreachable")}
	reg := newRegistry(t, broadcast.WithClusterTransport(transport), broadcast.WithObserver(obs))
	b := topic(t, reg, "c")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	fut, err := b.Broadcast(context.Background(), "m")
	require.NoError(t, err)
	n, err := fut.Await()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool { return obs.snapshot().clusterFailed == 1 }, waitTimeout, 5*time.Millisecond)
}
