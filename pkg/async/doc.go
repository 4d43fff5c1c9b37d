// Package async provides a small generic Future for results produced on another goroutine.
//
// Broadcasts are delivered in the background; callers that care about the outcome
// hold a *Future and wait on it:
//
//	f, err := b.Broadcast(ctx, "hello")
//	if err != nil {
//		return err
//	}
//	delivered, err := f.Await()
//
// Await blocks until completion, AwaitWithTimeout gives up with ErrTimeout,
// AwaitContext gives up when the context ends, IsComplete never blocks.
//
// Futures may also be created already completed with Resolved or Failed, which is
// how synchronous short-circuits (a held payload, an empty subscriber table) are
// reported through the same API.
//
// All methods are safe for concurrent use. A Future completes exactly once.
package async
