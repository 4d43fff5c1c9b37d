// Package broadcast implements a comet-style suspend/resume engine: clients
// suspend on a topic, publishers broadcast filtered payloads to every
// suspended client, and broadcasts can be delayed or scheduled periodically.
//
// # Architecture
//
// A Registry maps topics to Broadcasters. Each Broadcaster owns an ordered
// table of Subscriptions and a set of scheduled Tasks. A Subscription wraps
// a Sink, the response handle of one client, and ends exactly once with an
// Outcome:
//   - OutcomeBroadcast: resumed after receiving a broadcast
//   - OutcomeResumed: resumed through Resume
//   - OutcomeExpired: its timeout elapsed
//   - OutcomeTerminated: its broadcaster was removed
//   - OutcomeAbandoned: the client went away or delivery failed
//
// # Usage
//
//	reg, err := broadcast.NewRegistry(broadcast.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer reg.Close(context.Background())
//
//	b, err := reg.LookupOrCreate("chat")
//	if err != nil {
//		return err
//	}
//
//	// In a request handler: hold the connection until a message arrives.
//	sub, err := b.Suspend(r.Context(), sink, broadcast.SuspendOptions{
//		Timeout:           30 * time.Second,
//		ResumeOnBroadcast: true,
//	})
//	if err != nil {
//		return err
//	}
//	outcome, _ := sub.Wait(r.Context())
//
//	// Elsewhere: deliver to every suspended client.
//	fut, err := b.Broadcast(ctx, "hello", filter.XSS())
//	if errors.Is(err, broadcast.ErrRejected) {
//		// a filter refused the payload
//	}
//	delivered, _ := fut.Await()
//
// # Resume Policies
//
// SuspendOptions select a Policy:
//   - ResumeOnBroadcast: the first broadcast that reaches the client resumes it
//   - StayUntilTimeout: receives every broadcast until the timeout elapses
//   - ResumeExplicit: receives every broadcast until Resume is called
//
// Timeout, explicit resume, broadcast and abandonment race on the same
// subscription; the first one wins and the rest are no-ops. Resume reports
// ErrNotFound for a subscription that already ended.
//
// # Scheduling
//
// Schedule fires a broadcast at start+WaitFor+k*Period until the task is
// cancelled or its broadcaster is removed:
//
//	task, err := b.Schedule(broadcast.ScheduleOptions{
//		Period:  5 * time.Second,
//		WaitFor: 5 * time.Second,
//		Source:  func(ctx context.Context) (any, error) { return poll(ctx) },
//	})
//	defer task.Cancel()
//
// A failing or panicking Source is logged and reported to the Observer; the
// next firing still happens.
//
// # Clustering
//
// With WithClusterTransport every Broadcast is also forwarded to other nodes.
// Receivers call BroadcastLocal so the message is not forwarded again.
//
// # Thread Safety
//
// All types are safe for concurrent use. Sinks are notified from background
// goroutines and never while a broadcaster lock is held.
package broadcast
