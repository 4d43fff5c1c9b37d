package broadcast

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dmitrymomot/comet/core/filter"
	"github.com/dmitrymomot/comet/core/logger"
	"github.com/dmitrymomot/comet/pkg/async"
)

// Broadcaster delivers messages to the clients suspended on one topic.
//
// The subscription table and task set are guarded by a single mutex. Delivery
// runs on a snapshot taken under that mutex and never holds it, so a client
// suspended mid-broadcast is not part of that broadcast and a client resumed
// by it is never delivered to twice.
type Broadcaster struct {
	topic     string
	private   bool
	clock     clockwork.Clock
	logger    *slog.Logger
	observer  Observer
	transport ClusterTransport
	timeout   time.Duration

	mu        sync.Mutex
	subs      []*Subscription
	byID      map[string]*Subscription
	bySink    map[string]*Subscription
	tasks     map[string]*Task
	taskSeq   uint64
	delays    map[*delayed]struct{}
	deferred  []any
	filters   filter.Chain
	destroyed bool
	inflight  sync.WaitGroup

	broadcasts atomic.Int64
}

type delayed struct {
	timer    clockwork.Timer
	complete func(int, error)
}

type target struct {
	sub     *Subscription
	claimed bool
}

func newBroadcaster(topic string, private bool, o *options, filters filter.Chain) *Broadcaster {
	return &Broadcaster{
		topic:     topic,
		private:   private,
		clock:     o.clock,
		logger:    o.logger.With(logger.Topic(topic)),
		observer:  o.observer,
		transport: o.transport,
		timeout:   o.deliveryTimeout,
		byID:      make(map[string]*Subscription),
		bySink:    make(map[string]*Subscription),
		tasks:     make(map[string]*Task),
		delays:    make(map[*delayed]struct{}),
		filters:   filters,
	}
}

// Topic returns the topic this broadcaster serves.
func (b *Broadcaster) Topic() string { return b.topic }

// AddFilter appends filters applied to every message before per-message filters.
func (b *Broadcaster) AddFilter(filters ...filter.Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range filters {
		if f != nil {
			b.filters = append(b.filters, f)
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscriptions returns the live subscriptions in suspend order.
func (b *Broadcaster) Subscriptions() []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.subs)
}

// Tasks returns the scheduled tasks that have not been cancelled.
func (b *Broadcaster) Tasks() []*Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	tasks := make([]*Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		tasks = append(tasks, t)
	}
	slices.SortFunc(tasks, func(a, b *Task) int { return cmp.Compare(a.seq, b.seq) })
	return tasks
}

// Destroyed reports whether the broadcaster was removed from its registry.
func (b *Broadcaster) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// Suspend attaches sink to the broadcaster. The subscription is abandoned
// when ctx ends, expires after opts.Timeout when positive, and otherwise
// lives according to opts.Policy(). opts.Scope is handled by Registry.Suspend.
func (b *Broadcaster) Suspend(ctx context.Context, sink Sink, opts SuspendOptions) (*Subscription, error) {
	return b.suspend(ctx, sink, opts, nil)
}

func (b *Broadcaster) suspend(ctx context.Context, sink Sink, opts SuspendOptions, onEnd func()) (*Subscription, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	sub := &Subscription{
		id:        id,
		sink:      sink,
		owner:     b,
		policy:    opts.Policy(),
		timeout:   max(opts.Timeout, 0),
		createdAt: b.clock.Now(),
		onEnd:     onEnd,
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil, ErrDestroyed
	}
	if _, dup := b.bySink[sink.ID()]; dup {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: sink %q on topic %q", ErrAlreadySuspended, sink.ID(), b.topic)
	}
	if _, dup := b.byID[id]; dup {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: subscription %q on topic %q", ErrAlreadySuspended, id, b.topic)
	}
	b.subs = append(b.subs, sub)
	b.byID[sub.id] = sub
	b.bySink[sink.ID()] = sub

	sub.mu.Lock()
	if sub.timeout > 0 {
		sub.timer = b.clock.AfterFunc(sub.timeout, func() { b.finish(sub, OutcomeExpired, nil) })
	}
	sub.stop = context.AfterFunc(ctx, func() { b.finish(sub, OutcomeAbandoned, context.Cause(ctx)) })
	sub.mu.Unlock()
	b.mu.Unlock()

	b.observer.Suspended(b.topic)
	b.logger.DebugContext(ctx, "client suspended",
		logger.SubscriptionID(sub.id),
		logger.Policy(sub.policy.String()),
		logger.Timeout(sub.timeout))

	return sub, nil
}

// Resume ends a live subscription with OutcomeResumed. Subscriptions that are
// unknown or have already ended for any reason yield ErrNotFound.
func (b *Broadcaster) Resume(id string) error {
	b.mu.Lock()
	sub, ok := b.byID[id]
	b.mu.Unlock()

	if !ok || !b.finish(sub, OutcomeResumed, nil) {
		return fmt.Errorf("%w: subscription %q on topic %q", ErrNotFound, id, b.topic)
	}
	return nil
}

// Broadcast filters msg and delivers it to every live subscription.
//
// Default filters run first, then filters, synchronously in the caller. A
// rejection returns ErrRejected and nothing is delivered. A held payload
// yields a future already resolved to zero. Otherwise delivery happens in the
// background and the future resolves to the number of subscriptions that
// received the message. Subscriptions with ResumeOnBroadcast are resumed
// right after their delivery.
func (b *Broadcaster) Broadcast(ctx context.Context, msg any, filters ...filter.Filter) (*async.Future[int], error) {
	return b.broadcast(ctx, msg, true, true, filters)
}

// BroadcastLocal is Broadcast without forwarding to the cluster.
func (b *Broadcaster) BroadcastLocal(ctx context.Context, msg any, filters ...filter.Filter) (*async.Future[int], error) {
	return b.broadcast(ctx, msg, true, false, filters)
}

// DelayBroadcast broadcasts msg once after delay. Filters run now so a
// rejection is reported to the caller; delivery happens when the delay
// elapses. A non-positive delay broadcasts immediately.
func (b *Broadcaster) DelayBroadcast(msg any, delay time.Duration, filters ...filter.Filter) (*async.Future[int], error) {
	if delay <= 0 {
		return b.Broadcast(context.Background(), msg, filters...)
	}

	payload, err := b.prepare(msg, filters)
	if errors.Is(err, filter.ErrHeld) {
		return async.Resolved(0), nil
	}
	if err != nil {
		b.observer.Rejected(b.topic)
		return nil, err
	}

	fut, complete := async.New[int]()
	d := &delayed{complete: complete}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil, ErrDestroyed
	}
	d.timer = b.clock.AfterFunc(delay, func() {
		b.mu.Lock()
		_, pending := b.delays[d]
		delete(b.delays, d)
		b.mu.Unlock()
		if !pending {
			return
		}

		f, err := b.dispatch(context.Background(), payload, true, true)
		if err != nil {
			complete(0, err)
			return
		}
		complete(f.Await())
	})
	b.delays[d] = struct{}{}

	return fut, nil
}

// Defer queues msg to be delivered ahead of the next broadcast. Default
// filters are applied now.
func (b *Broadcaster) Defer(msg any) error {
	payload, err := b.prepare(msg, nil)
	if errors.Is(err, filter.ErrHeld) {
		return nil
	}
	if err != nil {
		b.observer.Rejected(b.topic)
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	b.deferred = append(b.deferred, payload)
	return nil
}

func (b *Broadcaster) broadcast(ctx context.Context, msg any, resume, forward bool, filters []filter.Filter) (*async.Future[int], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := b.prepare(msg, filters)
	if errors.Is(err, filter.ErrHeld) {
		b.logger.DebugContext(ctx, "broadcast held by filter")
		return async.Resolved(0), nil
	}
	if err != nil {
		b.observer.Rejected(b.topic)
		b.logger.DebugContext(ctx, "broadcast rejected", logger.Error(err))
		return nil, err
	}

	return b.dispatch(ctx, payload, resume, forward)
}

func (b *Broadcaster) prepare(msg any, filters []filter.Filter) (any, error) {
	b.mu.Lock()
	defaults := b.filters
	b.mu.Unlock()

	payload, err := filter.Apply(msg, defaults...)
	if err != nil {
		return nil, err
	}
	return filter.Apply(payload, filters...)
}

// dispatch snapshots the table and delivers payload in the background.
func (b *Broadcaster) dispatch(ctx context.Context, payload any, resume, forward bool) (*async.Future[int], error) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil, ErrDestroyed
	}

	deferred := b.deferred
	b.deferred = nil

	targets := make([]target, 0, len(b.subs))
	kept := b.subs[:0]
	for _, sub := range b.subs {
		if resume && sub.policy == ResumeOnBroadcast {
			if sub.claim() {
				targets = append(targets, target{sub: sub, claimed: true})
				delete(b.byID, sub.id)
				delete(b.bySink, sub.sink.ID())
			} else {
				// Already ending; it detaches itself.
				kept = append(kept, sub)
			}
			continue
		}
		targets = append(targets, target{sub: sub})
		kept = append(kept, sub)
	}
	clear(b.subs[len(kept):])
	b.subs = kept

	forward = forward && !b.private && b.transport != nil
	b.inflight.Add(1)
	if forward {
		b.inflight.Add(1)
	}
	b.mu.Unlock()

	b.broadcasts.Add(1)
	dctx := context.WithoutCancel(ctx)

	if forward {
		go func() {
			defer b.inflight.Done()
			b.forward(dctx, payload)
		}()
	}

	fut, complete := async.New[int]()
	go func() {
		defer b.inflight.Done()

		var (
			wg        sync.WaitGroup
			delivered atomic.Int64
		)
		for _, t := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if b.deliver(dctx, t, deferred, payload) {
					delivered.Add(1)
				}
			}()
		}
		wg.Wait()

		n := int(delivered.Load())
		b.observer.Broadcast(b.topic, n)
		b.logger.DebugContext(dctx, "broadcast delivered", logger.Count("delivered", n))
		complete(n, nil)
	}()

	return fut, nil
}

// deliver writes deferred messages and payload to one subscription. It holds
// the subscription lock so delivery, timeout and resume never interleave.
func (b *Broadcaster) deliver(ctx context.Context, t target, deferred []any, payload any) bool {
	sub := t.sub
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	sub.mu.Lock()
	if sub.state == stateDone {
		sub.mu.Unlock()
		return false
	}

	var err error
	for _, m := range deferred {
		if err = sub.sink.Deliver(ctx, m); err != nil {
			break
		}
	}
	if err == nil {
		err = sub.sink.Deliver(ctx, payload)
	}

	switch {
	case err != nil:
		sub.endLocked(OutcomeAbandoned)
		sub.mu.Unlock()
		b.ended(sub, OutcomeAbandoned, err)
		return false
	case t.claimed:
		sub.endLocked(OutcomeBroadcast)
		sub.mu.Unlock()
		b.ended(sub, OutcomeBroadcast, nil)
		return true
	default:
		sub.mu.Unlock()
		return true
	}
}

func (b *Broadcaster) forward(ctx context.Context, payload any) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	if err := b.transport.Forward(ctx, b.topic, payload); err != nil {
		b.observer.ClusterFailed(b.topic, err)
		b.logger.WarnContext(ctx, "cluster forward failed", logger.Error(err))
	}
}

// finish ends an active subscription with outcome. It reports false when
// another outcome already won.
func (b *Broadcaster) finish(sub *Subscription, outcome Outcome, cause error) bool {
	if !sub.end(outcome) {
		return false
	}
	b.ended(sub, outcome, cause)
	return true
}

// ended runs after a subscription reached its final state.
func (b *Broadcaster) ended(sub *Subscription, outcome Outcome, cause error) {
	b.detach(sub)
	b.observer.Resumed(b.topic, outcome)

	attrs := []any{logger.SubscriptionID(sub.id), logger.Outcome(outcome.String())}
	if cause != nil && !errors.Is(cause, context.Canceled) {
		attrs = append(attrs, logger.Error(cause))
	}
	b.logger.Debug("client resumed", attrs...)

	if sub.onEnd != nil {
		// Runs detached: it may remove this broadcaster, which waits for
		// in-flight deliveries like the one that may have called us.
		go sub.onEnd()
	}
}

func (b *Broadcaster) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byID[sub.id] != sub {
		return
	}
	delete(b.byID, sub.id)
	delete(b.bySink, sub.sink.ID())
	if i := slices.Index(b.subs, sub); i >= 0 {
		b.subs = slices.Delete(b.subs, i, i+1)
	}
}

func (b *Broadcaster) removeTask(t *Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tasks, t.id)
}

// destroy terminates every subscription, stops every task and pending delay,
// and waits for in-flight deliveries.
func (b *Broadcaster) destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true

	subs := b.subs
	b.subs = nil
	clear(b.byID)
	clear(b.bySink)

	tasks := make([]*Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		tasks = append(tasks, t)
	}
	clear(b.tasks)

	delays := make([]*delayed, 0, len(b.delays))
	for d := range b.delays {
		delays = append(delays, d)
	}
	clear(b.delays)
	b.deferred = nil
	b.mu.Unlock()

	for _, d := range delays {
		d.timer.Stop()
		d.complete(0, ErrDestroyed)
	}
	for _, t := range tasks {
		t.stopWith(TaskBroadcasterDestroyed)
	}
	for _, sub := range subs {
		b.finish(sub, OutcomeTerminated, nil)
	}

	b.inflight.Wait()

	b.logger.Debug("broadcaster destroyed",
		logger.Count("terminated", len(subs)),
		logger.Count("tasks", len(tasks)))
}
