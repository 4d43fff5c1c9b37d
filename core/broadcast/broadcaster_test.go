package broadcast_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/comet/core/broadcast"
	"github.com/dmitrymomot/comet/core/filter"
)

func broadcastAndWait(t *testing.T, b *broadcast.Broadcaster, msg any, filters ...filter.Filter) int {
	t.Helper()
	fut, err := b.Broadcast(context.Background(), msg, filters...)
	require.NoError(t, err)
	n, err := fut.AwaitWithTimeout(waitTimeout)
	require.NoError(t, err)
	return n
}

func TestSuspendOptions_Policy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, broadcast.ResumeOnBroadcast, broadcast.SuspendOptions{ResumeOnBroadcast: true, Timeout: time.Second}.Policy())
	assert.Equal(t, broadcast.StayUntilTimeout, broadcast.SuspendOptions{Timeout: time.Second}.Policy())
	assert.Equal(t, broadcast.ResumeExplicit, broadcast.SuspendOptions{}.Policy())
}

func TestBroadcast_ResumeOnFirstDeliversOnce(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "first")

	s1, s2 := newSink("1"), newSink("2")
	sub1 := suspend(t, b, s1, broadcast.SuspendOptions{ResumeOnBroadcast: true})
	sub2 := suspend(t, b, s2, broadcast.SuspendOptions{ResumeOnBroadcast: true})

	assert.Equal(t, 2, broadcastAndWait(t, b, "m1"))
	assert.Equal(t, broadcast.OutcomeBroadcast, await(t, sub1))
	assert.Equal(t, broadcast.OutcomeBroadcast, await(t, sub2))

	assert.Equal(t, 0, broadcastAndWait(t, b, "m2"))
	assert.Equal(t, []any{"m1"}, s1.Messages())
	assert.Equal(t, []any{"m1"}, s2.Messages())
	assert.Equal(t, []broadcast.Outcome{broadcast.OutcomeBroadcast}, s1.Outcomes())
	assert.Zero(t, b.Len())
}

func TestBroadcast_ConcurrentResumeOnFirst(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "race")
	sink := newSink("only")
	sub := suspend(t, b, sink, broadcast.SuspendOptions{ResumeOnBroadcast: true})

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fut, err := b.Broadcast(context.Background(), fmt.Sprint(i))
			if !assert.NoError(t, err) {
				return
			}
			n, err := fut.AwaitWithTimeout(waitTimeout)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total, "exactly one broadcast reaches a resume-on-first client")
	assert.Len(t, sink.Messages(), 1)
	assert.Equal(t, broadcast.OutcomeBroadcast, await(t, sub))
}

func TestBroadcast_StayingSubscriptionsReceiveEveryMessage(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "stay")
	sink := newSink("s")
	sub := suspend(t, b, sink, broadcast.SuspendOptions{})

	assert.Equal(t, 1, broadcastAndWait(t, b, "a"))
	assert.Equal(t, 1, broadcastAndWait(t, b, "b"))
	assert.Equal(t, []any{"a", "b"}, sink.Messages())

	_, done := sub.Outcome()
	assert.False(t, done)

	require.NoError(t, sub.Resume())
	assert.Equal(t, broadcast.OutcomeResumed, await(t, sub))
	require.ErrorIs(t, b.Resume(sub.ID()), broadcast.ErrNotFound, "second resume is a no-op reported as not found")
}

func TestBroadcast_SnapshotExcludesLateSubscribers(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "snap")

	slow := newSink("slow")
	slow.block = make(chan struct{})
	suspend(t, b, slow, broadcast.SuspendOptions{})

	fut, err := b.Broadcast(context.Background(), "m")
	require.NoError(t, err)

	late := newSink("late")
	suspend(t, b, late, broadcast.SuspendOptions{})
	close(slow.block)

	n, err := fut.AwaitWithTimeout(waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, late.Messages())
}

func TestBroadcast_Rejected(t *testing.T) {
	t.Parallel()

	obs := newObserver()
	reg := newRegistry(t, broadcast.WithObserver(obs))
	b := topic(t, reg, "rej")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	invoked := false
	later := filter.Func(func(p any) filter.Result {
		invoked = true
		return filter.Pass(p)
	})

	fut, err := b.Broadcast(context.Background(), "toolong", filter.MaxSize(3), later)
	require.ErrorIs(t, err, broadcast.ErrRejected)
	assert.Nil(t, fut)
	assert.False(t, invoked)
	assert.Empty(t, sink.Messages())
	assert.Equal(t, 1, obs.snapshot().rejected)
}

func TestBroadcast_FiltersComposeInOrder(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "compose")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	suffix := func(s string) filter.Filter {
		return filter.Map(func(p any) any { return p.(string) + s })
	}
	b.AddFilter(suffix("-default"))

	broadcastAndWait(t, b, "m", suffix("-1"), suffix("-2"))
	assert.Equal(t, []any{"m-default-1-2"}, sink.Messages())
}

func TestBroadcast_Aggregation(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "agg")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	agg := filter.NewAggregator(2)
	assert.Equal(t, 0, broadcastAndWait(t, b, "a", agg), "first message is held")
	assert.Equal(t, 1, broadcastAndWait(t, b, "b", agg))
	assert.Equal(t, 0, broadcastAndWait(t, b, "c", agg))

	assert.Equal(t, []any{"ab"}, sink.Messages())
}

func TestBroadcast_DeliveryFailureAbandons(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "fail")
	bad := newSink("bad")
	bad.err = errors.New("broken pipe")
	good := newSink("good")

	badSub := suspend(t, b, bad, broadcast.SuspendOptions{})
	suspend(t, b, good, broadcast.SuspendOptions{})

	assert.Equal(t, 1, broadcastAndWait(t, b, "m"))
	assert.Equal(t, broadcast.OutcomeAbandoned, await(t, badSub))
	assert.Equal(t, 1, b.Len())
}

func TestBroadcast_DeliveryTimeout(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, broadcast.WithDeliveryTimeout(20*time.Millisecond))
	b := topic(t, reg, "slow")
	stuck := newSink("stuck")
	stuck.block = make(chan struct{})
	sub := suspend(t, b, stuck, broadcast.SuspendOptions{})

	assert.Equal(t, 0, broadcastAndWait(t, b, "m"))
	assert.Equal(t, broadcast.OutcomeAbandoned, await(t, sub))
}

func TestBroadcast_CancelledContext(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "ctx")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Broadcast(ctx, "m")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSuspend_Duplicate(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "dup")
	sink := newSink("same")

	sub := suspend(t, b, sink, broadcast.SuspendOptions{})
	_, err := b.Suspend(context.Background(), sink, broadcast.SuspendOptions{})
	require.ErrorIs(t, err, broadcast.ErrAlreadySuspended)

	require.NoError(t, sub.Resume())
	await(t, sub)
	suspend(t, b, sink, broadcast.SuspendOptions{})
}

func TestSuspend_CallerID(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "ids")

	sub := suspend(t, b, newSink("a"), broadcast.SuspendOptions{ID: "known"})
	assert.Equal(t, "known", sub.ID())

	_, err := b.Suspend(context.Background(), newSink("b"), broadcast.SuspendOptions{ID: "known"})
	require.ErrorIs(t, err, broadcast.ErrAlreadySuspended)

	require.NoError(t, b.Resume("known"))
	assert.Equal(t, broadcast.OutcomeResumed, await(t, sub))
}

func TestSuspend_NilSink(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	_, err := topic(t, reg, "nil").Suspend(context.Background(), nil, broadcast.SuspendOptions{})
	require.ErrorIs(t, err, broadcast.ErrNilSink)
}

func TestSuspend_Timeout(t *testing.T) {
	t.Parallel()

	obs := newObserver()
	reg, clock := newFakeRegistry(t, broadcast.WithObserver(obs))
	b := topic(t, reg, "timeout")
	sink := newSink("s")
	sub := suspend(t, b, sink, broadcast.SuspendOptions{Timeout: 5 * time.Second})
	assert.Equal(t, broadcast.StayUntilTimeout, sub.Policy())

	blockUntil(t, clock, 1)
	clock.Advance(4 * time.Second)
	_, done := sub.Outcome()
	assert.False(t, done)

	clock.Advance(time.Second)
	assert.Equal(t, broadcast.OutcomeExpired, await(t, sub))
	assert.Equal(t, []broadcast.Outcome{broadcast.OutcomeExpired}, sink.Outcomes())
	require.ErrorIs(t, sub.Resume(), broadcast.ErrNotFound)
	assert.Zero(t, b.Len())
	assert.Equal(t, 1, obs.snapshot().resumed[broadcast.OutcomeExpired])
}

func TestSuspend_ResumeBeforeTimeout(t *testing.T) {
	t.Parallel()

	reg, clock := newFakeRegistry(t)
	b := topic(t, reg, "timeout")
	sink := newSink("s")
	sub := suspend(t, b, sink, broadcast.SuspendOptions{Timeout: 5 * time.Second})

	require.NoError(t, sub.Resume())
	assert.Equal(t, broadcast.OutcomeResumed, await(t, sub))

	clock.Advance(10 * time.Second)
	assert.Equal(t, []broadcast.Outcome{broadcast.OutcomeResumed}, sink.Outcomes(), "timer is a no-op after resume")
}

func TestSuspend_TimeoutResumeRace(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "race")

	for i := range 50 {
		sink := newSink(fmt.Sprint(i))
		sub := suspend(t, b, sink, broadcast.SuspendOptions{Timeout: time.Millisecond})

		resumeErr := make(chan error, 1)
		go func() { resumeErr <- sub.Resume() }()

		outcome := await(t, sub)
		err := <-resumeErr

		switch outcome {
		case broadcast.OutcomeResumed:
			require.NoError(t, err)
		case broadcast.OutcomeExpired:
			require.ErrorIs(t, err, broadcast.ErrNotFound)
		default:
			t.Fatalf("unexpected outcome %q", outcome)
		}
		require.Len(t, sink.Outcomes(), 1, "sink is closed exactly once")
	}
}

func TestSuspend_Abandoned(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "gone")
	sink := newSink("s")

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Suspend(ctx, sink, broadcast.SuspendOptions{})
	require.NoError(t, err)

	cancel()
	assert.Equal(t, broadcast.OutcomeAbandoned, await(t, sub))
	assert.Zero(t, b.Len())
}

func TestResume_Unknown(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	require.ErrorIs(t, topic(t, reg, "r").Resume("missing"), broadcast.ErrNotFound)
}

func TestDelayBroadcast_ZeroIsImmediate(t *testing.T) {
	t.Parallel()

	reg, _ := newFakeRegistry(t)
	b := topic(t, reg, "delay")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	fut, err := b.DelayBroadcast("now", 0)
	require.NoError(t, err)
	n, err := fut.AwaitWithTimeout(waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []any{"now"}, sink.Messages())
}

func TestDelayBroadcast_Delayed(t *testing.T) {
	t.Parallel()

	reg, clock := newFakeRegistry(t)
	b := topic(t, reg, "delay")
	sink := newSink("s")
	sub := suspend(t, b, sink, broadcast.SuspendOptions{ResumeOnBroadcast: true})

	fut, err := b.DelayBroadcast("later", 5*time.Second)
	require.NoError(t, err)

	blockUntil(t, clock, 1)
	clock.Advance(4 * time.Second)
	assert.False(t, fut.IsComplete())
	assert.Empty(t, sink.Messages())

	clock.Advance(time.Second)
	n, err := fut.AwaitWithTimeout(waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, broadcast.OutcomeBroadcast, await(t, sub))
}

func TestDelayBroadcast_RejectedSynchronously(t *testing.T) {
	t.Parallel()

	reg, _ := newFakeRegistry(t)
	b := topic(t, reg, "delay")

	_, err := b.DelayBroadcast("too long", time.Second, filter.MaxSize(1))
	require.ErrorIs(t, err, broadcast.ErrRejected)
}

func TestDelayBroadcast_CancelledByRemove(t *testing.T) {
	t.Parallel()

	reg, _ := newFakeRegistry(t)
	b := topic(t, reg, "delay")

	fut, err := b.DelayBroadcast("never", time.Minute)
	require.NoError(t, err)
	require.NoError(t, reg.Remove("delay"))

	_, err = fut.AwaitWithTimeout(waitTimeout)
	require.ErrorIs(t, err, broadcast.ErrDestroyed)
}

func TestDefer_DeliveredBeforeNextBroadcast(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "defer")
	sink := newSink("s")
	sub := suspend(t, b, sink, broadcast.SuspendOptions{ResumeOnBroadcast: true})

	require.NoError(t, b.Defer("first"))
	require.NoError(t, b.Defer("second"))
	assert.Empty(t, sink.Messages(), "deferred messages wait for a broadcast")

	assert.Equal(t, 1, broadcastAndWait(t, b, "trigger"))
	assert.Equal(t, []any{"first", "second", "trigger"}, sink.Messages())
	assert.Equal(t, broadcast.OutcomeBroadcast, await(t, sub))

	other := newSink("o")
	suspend(t, b, other, broadcast.SuspendOptions{})
	broadcastAndWait(t, b, "again")
	assert.Equal(t, []any{"again"}, other.Messages(), "deferred queue is drained once")
}

func TestBroadcaster_Subscriptions(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	b := topic(t, reg, "list")
	first := suspend(t, b, newSink("1"), broadcast.SuspendOptions{})
	second := suspend(t, b, newSink("2"), broadcast.SuspendOptions{})

	subs := b.Subscriptions()
	require.Len(t, subs, 2)
	assert.Same(t, first, subs[0])
	assert.Same(t, second, subs[1])
	assert.Equal(t, "list", b.Topic())
}
