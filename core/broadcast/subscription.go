package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy decides what ends a suspended subscription besides timeout,
// abandonment and termination.
type Policy int

const (
	// ResumeOnBroadcast resumes the subscription after its first delivery.
	ResumeOnBroadcast Policy = iota
	// StayUntilTimeout keeps receiving broadcasts until the timeout elapses.
	StayUntilTimeout
	// ResumeExplicit keeps receiving broadcasts until Resume is called.
	ResumeExplicit
)

func (p Policy) String() string {
	switch p {
	case ResumeOnBroadcast:
		return "resume_on_broadcast"
	case StayUntilTimeout:
		return "stay_until_timeout"
	case ResumeExplicit:
		return "resume_explicit"
	default:
		return "unknown"
	}
}

// Scope selects the broadcaster a Registry.Suspend attaches to.
type Scope int

const (
	// ScopeApplication shares the topic broadcaster with every other client.
	ScopeApplication Scope = iota
	// ScopeRequest creates a private broadcaster for this subscription only.
	ScopeRequest
)

// SuspendOptions describe how a client is suspended.
//
// A zero Timeout suspends forever. ResumeOnBroadcast takes precedence over
// Timeout when choosing the Policy, though the timeout still applies. ID, when
// set, replaces the generated subscription id so callers can hand it out
// before suspending.
type SuspendOptions struct {
	Timeout           time.Duration
	ResumeOnBroadcast bool
	Scope             Scope
	ID                string
}

// Policy derives the resume policy from the options.
func (o SuspendOptions) Policy() Policy {
	switch {
	case o.ResumeOnBroadcast:
		return ResumeOnBroadcast
	case o.Timeout > 0:
		return StayUntilTimeout
	default:
		return ResumeExplicit
	}
}

type subState int

const (
	stateActive subState = iota
	stateClaimed         // picked by a resuming broadcast, delivery pending
	stateDone
)

// Subscription is a suspended client attached to one broadcaster.
type Subscription struct {
	id        string
	sink      Sink
	owner     *Broadcaster
	policy    Policy
	timeout   time.Duration
	createdAt time.Time
	onEnd     func()

	mu      sync.Mutex
	state   subState
	outcome Outcome
	timer   clockwork.Timer
	stop    func() bool
	done    chan struct{}
}

func (s *Subscription) ID() string               { return s.id }
func (s *Subscription) Sink() Sink               { return s.sink }
func (s *Subscription) Policy() Policy           { return s.policy }
func (s *Subscription) Timeout() time.Duration   { return s.timeout }
func (s *Subscription) CreatedAt() time.Time     { return s.createdAt }
func (s *Subscription) Broadcaster() *Broadcaster { return s.owner }

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Outcome reports how the subscription ended. ok is false while it is live.
func (s *Subscription) Outcome() (outcome Outcome, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.state == stateDone
}

// Wait blocks until the subscription ends or ctx is done.
func (s *Subscription) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		o, _ := s.Outcome()
		return o, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resume ends the subscription explicitly. See Broadcaster.Resume.
func (s *Subscription) Resume() error {
	return s.owner.Resume(s.id)
}

// claim marks an active subscription as taken by a resuming broadcast.
// Caller holds the owner's lock.
func (s *Subscription) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return false
	}
	s.state = stateClaimed
	return true
}

// endLocked moves the subscription to its final state. Caller holds s.mu.
func (s *Subscription) endLocked(outcome Outcome) {
	s.state = stateDone
	s.outcome = outcome
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.stop != nil {
		s.stop()
	}
	s.sink.Close(outcome)
	close(s.done)
}

// end finishes an active subscription. A subscription that is claimed or
// already done is left alone and false is returned.
func (s *Subscription) end(outcome Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return false
	}
	s.endLocked(outcome)
	return true
}
