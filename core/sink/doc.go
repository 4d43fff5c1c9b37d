// Package sink provides broadcast.Sink implementations for the transports a
// suspended client can use.
//
//   - Chan buffers messages on a Go channel, for in-process consumers and tests.
//   - Stream writes each message to a held-open HTTP response and flushes it.
//   - WebSocket writes each message as a text frame and signals the outcome
//     with a close frame.
//
// Payloads are encoded with Encode: strings and byte slices are written as
// is, fmt.Stringer and error values use their text, anything else is JSON.
//
// Typical HTTP usage:
//
//	s := sink.NewStream(w)
//	sub, err := reg.Suspend(r.Context(), topic, s, broadcast.SuspendOptions{
//		Timeout: 30 * time.Second,
//	})
//	if err != nil {
//		http.Error(w, err.Error(), http.StatusConflict)
//		return
//	}
//	<-sub.Done()
package sink
