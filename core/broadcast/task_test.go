package broadcast_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/comet/core/broadcast"
)

func TestSchedule_Validation(t *testing.T) {
	t.Parallel()

	reg, _ := newFakeRegistry(t)
	b := topic(t, reg, "v")

	_, err := b.Schedule(broadcast.ScheduleOptions{Message: "m"})
	require.ErrorIs(t, err, broadcast.ErrInvalidPeriod)

	_, err = b.Schedule(broadcast.ScheduleOptions{Period: -time.Second, Message: "m"})
	require.ErrorIs(t, err, broadcast.ErrInvalidPeriod)

	_, err = b.Schedule(broadcast.ScheduleOptions{Period: time.Second})
	require.ErrorIs(t, err, broadcast.ErrNoMessage)

	require.NoError(t, reg.Remove("v"))
	_, err = b.Schedule(broadcast.ScheduleOptions{Period: time.Second, Message: "m"})
	require.ErrorIs(t, err, broadcast.ErrDestroyed)
}

func TestSchedule_FixedRateAndCancel(t *testing.T) {
	t.Parallel()

	reg, clock := newFakeRegistry(t)
	b := topic(t, reg, "tick")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	task, err := b.Schedule(broadcast.ScheduleOptions{
		Period:  5 * time.Second,
		WaitFor: 5 * time.Second,
		Message: "tick",
	})
	require.NoError(t, err)
	assert.Equal(t, broadcast.TaskPending, task.State())

	blockUntil(t, clock, 1)
	clock.Advance(4 * time.Second)
	assert.Empty(t, sink.Messages(), "nothing fires before waitFor")

	clock.Advance(time.Second) // t=5
	require.Eventually(t, func() bool { return len(sink.Messages()) == 1 }, waitTimeout, time.Millisecond)
	<-task.FirstFired()
	assert.Equal(t, broadcast.TaskActive, task.State())

	blockUntil(t, clock, 1)
	clock.Advance(5 * time.Second) // t=10
	require.Eventually(t, func() bool { return len(sink.Messages()) == 2 }, waitTimeout, time.Millisecond)

	blockUntil(t, clock, 1)
	clock.Advance(2 * time.Second) // t=12
	task.Cancel()
	task.Cancel()

	clock.Advance(3 * time.Second) // t=15
	clock.Advance(5 * time.Second) // t=20

	assert.Equal(t, []any{"tick", "tick"}, sink.Messages())
	assert.Equal(t, broadcast.TaskCancelled, task.State())
	assert.Equal(t, int64(2), task.Stats().Fired)
	assert.Empty(t, b.Tasks())
}

func TestSchedule_ZeroWaitForFiresImmediately(t *testing.T) {
	t.Parallel()

	reg, _ := newFakeRegistry(t)
	b := topic(t, reg, "now")
	sink := newSink("s")
	sub := suspend(t, b, sink, broadcast.SuspendOptions{ResumeOnBroadcast: true})

	task, err := b.Schedule(broadcast.ScheduleOptions{
		Period:            time.Hour,
		ResumeOnBroadcast: true,
		Message:           "now",
	})
	require.NoError(t, err)
	t.Cleanup(task.Cancel)

	select {
	case <-task.FirstFired():
	case <-time.After(waitTimeout):
		t.Fatal("first firing did not happen without advancing the clock")
	}
	assert.Equal(t, broadcast.OutcomeBroadcast, await(t, sub))
	assert.Equal(t, []any{"now"}, sink.Messages())
}

func TestSchedule_WithoutResumeKeepsSubscriptions(t *testing.T) {
	t.Parallel()

	reg, _ := newFakeRegistry(t)
	b := topic(t, reg, "keep")
	sink := newSink("s")
	sub := suspend(t, b, sink, broadcast.SuspendOptions{ResumeOnBroadcast: true})

	task, err := b.Schedule(broadcast.ScheduleOptions{Period: time.Hour, Message: "m"})
	require.NoError(t, err)
	t.Cleanup(task.Cancel)
	<-task.FirstFired()

	assert.Equal(t, []any{"m"}, sink.Messages())
	_, done := sub.Outcome()
	assert.False(t, done, "scheduled firings without resume leave clients suspended")
	assert.Equal(t, 1, b.Len())
}

func TestSchedule_SourceFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	obs := newObserver()
	reg, clock := newFakeRegistry(t, broadcast.WithObserver(obs))
	b := topic(t, reg, "flaky")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	var calls atomic.Int32
	task, err := b.Schedule(broadcast.ScheduleOptions{
		Period: 5 * time.Second,
		Source: func(context.Context) (any, error) {
			switch calls.Add(1) {
			case 1:
				return nil, errors.New("source unavailable")
			case 2:
				panic("source exploded")
			default:
				return "recovered", nil
			}
		},
	})
	require.NoError(t, err)
	t.Cleanup(task.Cancel)

	require.Eventually(t, func() bool { return task.Stats().Failures == 1 }, waitTimeout, time.Millisecond)

	blockUntil(t, clock, 1)
	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return task.Stats().Failures == 2 }, waitTimeout, time.Millisecond)

	blockUntil(t, clock, 1)
	clock.Advance(5 * time.Second)
	<-task.FirstFired()

	assert.Equal(t, []any{"recovered"}, sink.Messages())
	stats := task.Stats()
	assert.Equal(t, broadcast.TaskActive, stats.State)
	assert.Equal(t, int64(1), stats.Fired)
	assert.Equal(t, int64(2), stats.Failures)

	got := obs.snapshot()
	assert.Equal(t, 2, got.taskFailed)
	assert.Equal(t, 3, got.taskFired)
}

func TestSchedule_CancelWaitsForInFlightFiring(t *testing.T) {
	t.Parallel()

	reg, _ := newFakeRegistry(t)
	b := topic(t, reg, "inflight")
	sink := newSink("s")
	suspend(t, b, sink, broadcast.SuspendOptions{})

	started := make(chan struct{})
	release := make(chan struct{})
	task, err := b.Schedule(broadcast.ScheduleOptions{
		Period: time.Hour,
		Source: func(context.Context) (any, error) {
			close(started)
			<-release
			return "late", nil
		},
	})
	require.NoError(t, err)

	<-started
	cancelled := make(chan struct{})
	go func() {
		task.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while a firing was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(waitTimeout):
		t.Fatal("Cancel did not return after the firing completed")
	}

	assert.Empty(t, sink.Messages(), "a firing interrupted inside its source delivers nothing")
	assert.Equal(t, broadcast.TaskCancelled, task.State())
}

func TestSchedule_Tasks(t *testing.T) {
	t.Parallel()

	reg, _ := newFakeRegistry(t)
	b := topic(t, reg, "list")

	t1, err := b.Schedule(broadcast.ScheduleOptions{Period: time.Hour, WaitFor: time.Hour, Message: "a"})
	require.NoError(t, err)
	t2, err := b.Schedule(broadcast.ScheduleOptions{Period: time.Hour, WaitFor: time.Hour, Message: "b"})
	require.NoError(t, err)

	assert.Len(t, b.Tasks(), 2)
	assert.NotEqual(t, t1.ID(), t2.ID())
	assert.Same(t, b, t1.Broadcaster())
	assert.Equal(t, "a", t1.Options().Message)

	t1.Cancel()
	tasks := b.Tasks()
	require.Len(t, tasks, 1)
	assert.Same(t, t2, tasks[0])
}
