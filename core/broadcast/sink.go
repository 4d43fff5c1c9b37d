package broadcast

import "context"

// Outcome is the single way a subscription ends.
type Outcome string

const (
	// OutcomeResumed: explicit Resume call.
	OutcomeResumed Outcome = "resumed"
	// OutcomeBroadcast: resumed right after receiving a broadcast.
	OutcomeBroadcast Outcome = "broadcast"
	// OutcomeExpired: the suspend timeout elapsed.
	OutcomeExpired Outcome = "expired"
	// OutcomeTerminated: the broadcaster was removed or the registry closed.
	OutcomeTerminated Outcome = "terminated"
	// OutcomeAbandoned: the client went away or delivery failed.
	OutcomeAbandoned Outcome = "abandoned"
)

func (o Outcome) String() string { return string(o) }

// Sink is the response handle of a suspended client.
//
// Deliver and Close are never called concurrently for the same subscription,
// and Close is called exactly once.
type Sink interface {
	// ID identifies the underlying connection. Two live subscriptions on the
	// same broadcaster cannot share an ID.
	ID() string
	// Deliver writes one message. Returning an error abandons the subscription.
	Deliver(ctx context.Context, msg any) error
	// Close signals how the subscription ended.
	Close(outcome Outcome)
}

// ClusterTransport forwards broadcasts to other nodes. Errors are logged and
// reported to the Observer; they never fail the local broadcast.
type ClusterTransport interface {
	Forward(ctx context.Context, topic string, msg any) error
}
