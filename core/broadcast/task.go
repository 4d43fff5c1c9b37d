package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/comet/core/filter"
	"github.com/dmitrymomot/comet/core/logger"
)

// TaskState tracks a scheduled broadcast through its lifecycle.
type TaskState int

const (
	// TaskPending: waiting for the initial delay.
	TaskPending TaskState = iota
	// TaskActive: fired at least once and firing every period.
	TaskActive
	// TaskCancelled: stopped by Cancel.
	TaskCancelled
	// TaskBroadcasterDestroyed: stopped because its broadcaster was removed.
	TaskBroadcasterDestroyed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskActive:
		return "active"
	case TaskCancelled:
		return "cancelled"
	case TaskBroadcasterDestroyed:
		return "broadcaster_destroyed"
	default:
		return "unknown"
	}
}

func (s TaskState) terminal() bool {
	return s == TaskCancelled || s == TaskBroadcasterDestroyed
}

// ScheduleOptions describe a periodic broadcast.
//
// Firings happen at start+WaitFor+k*Period. A zero WaitFor fires right away.
// Source, when set, produces the message of each firing; otherwise Message
// is broadcast every time. With ResumeOnBroadcast unset firings only deliver
// and never resume subscriptions.
type ScheduleOptions struct {
	Period            time.Duration
	WaitFor           time.Duration
	ResumeOnBroadcast bool
	Message           any
	Source            func(ctx context.Context) (any, error)
	Filters           []filter.Filter
}

// Task is a periodic broadcast owned by a Broadcaster.
type Task struct {
	id      string
	owner   *Broadcaster
	opts    ScheduleOptions
	created time.Time
	seq     uint64

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state TaskState
	stop  chan struct{}

	first     chan struct{}
	firstOnce sync.Once
	exited    chan struct{}

	fired    atomic.Int64
	failures atomic.Int64
}

// TaskStats is a point-in-time view of a task.
type TaskStats struct {
	State    TaskState
	Fired    int64 // firings that broadcast a message
	Failures int64 // firings that could not broadcast
}

func (t *Task) ID() string                { return t.id }
func (t *Task) Options() ScheduleOptions  { return t.opts }
func (t *Task) Broadcaster() *Broadcaster { return t.owner }

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns firing counters.
func (t *Task) Stats() TaskStats {
	return TaskStats{
		State:    t.State(),
		Fired:    t.fired.Load(),
		Failures: t.failures.Load(),
	}
}

// FirstFired is closed once the first firing has completed delivery.
func (t *Task) FirstFired() <-chan struct{} { return t.first }

// Cancel stops the task. It is idempotent, and once it returns nothing
// more is delivered.
//
// A firing in progress when Cancel is called is waited for. If its message
// source had already returned, the broadcast is past the point of no return
// and its delivery completes before Cancel returns. If the source was still
// running, its context is cancelled and the firing delivers nothing. Cancel
// must not be called from the task's own Source.
func (t *Task) Cancel() {
	t.stopWith(TaskCancelled)
	t.owner.removeTask(t)
}

func (t *Task) stopWith(state TaskState) {
	t.mu.Lock()
	if !t.state.terminal() {
		t.state = state
		close(t.stop)
		t.cancel()
	}
	t.mu.Unlock()

	<-t.exited
}

// Schedule starts a periodic broadcast on b.
func (b *Broadcaster) Schedule(opts ScheduleOptions) (*Task, error) {
	if opts.Period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if opts.Message == nil && opts.Source == nil {
		return nil, ErrNoMessage
	}
	opts.WaitFor = max(opts.WaitFor, 0)

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		id:      uuid.NewString(),
		owner:   b,
		opts:    opts,
		created: b.clock.Now(),
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
		first:   make(chan struct{}),
		exited:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		cancel()
		return nil, ErrDestroyed
	}
	b.taskSeq++
	t.seq = b.taskSeq
	b.tasks[t.id] = t
	b.mu.Unlock()

	b.logger.Debug("broadcast scheduled",
		logger.TaskID(t.id),
		logger.Key("period", opts.Period),
		logger.Key("wait_for", opts.WaitFor))

	go t.run()

	return t, nil
}

func (t *Task) run() {
	defer close(t.exited)

	clock := t.owner.clock
	next := t.created.Add(t.opts.WaitFor)

	if t.opts.WaitFor == 0 {
		if !t.fire() {
			return
		}
		next = next.Add(t.opts.Period)
	}

	timer := clock.NewTimer(next.Sub(clock.Now()))
	defer timer.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-timer.Chan():
		}

		if !t.fire() {
			return
		}

		// Fixed rate: slots missed while firing are skipped.
		now := clock.Now()
		next = next.Add(t.opts.Period)
		for !next.After(now) {
			next = next.Add(t.opts.Period)
		}
		timer.Reset(next.Sub(now))
	}
}

// fire performs one firing. It returns false once the task is stopped.
func (t *Task) fire() bool {
	t.mu.Lock()
	if t.state.terminal() {
		t.mu.Unlock()
		return false
	}
	t.state = TaskActive
	t.mu.Unlock()

	b := t.owner
	b.observer.TaskFired(b.topic)

	msg, err := t.message()
	if err != nil {
		t.failures.Add(1)
		b.observer.TaskFailed(b.topic, err)
		b.logger.Error("scheduled broadcast failed", logger.TaskID(t.id), logger.Error(err))
		return true
	}

	fut, err := b.broadcast(t.ctx, msg, t.opts.ResumeOnBroadcast, true, t.opts.Filters)
	if err != nil {
		if t.ctx.Err() == nil {
			t.failures.Add(1)
			b.observer.TaskFailed(b.topic, err)
			b.logger.Warn("scheduled broadcast not delivered", logger.TaskID(t.id), logger.Error(err))
		}
		return true
	}
	_, _ = fut.Await()

	t.fired.Add(1)
	t.firstOnce.Do(func() { close(t.first) })
	return true
}

// message produces the payload of one firing, recovering a panicking source.
func (t *Task) message() (msg any, err error) {
	if t.opts.Source == nil {
		return t.opts.Message, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("message source panicked: %v", r)
		}
	}()
	return t.opts.Source(t.ctx)
}
