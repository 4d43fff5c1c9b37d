// Package filter implements the transform chain a payload passes through right
// before it is delivered to subscribers.
//
// A Filter maps a payload to a Result. The Result either continues with a
// (possibly transformed) payload, aborts the broadcast, or holds it: the filter
// kept the payload for itself and nothing should be delivered this time. Holding
// is how aggregation works: an Aggregator swallows broadcasts until its threshold
// is met and then releases one combined payload.
//
// Apply composes filters left to right:
//
//	out, err := filter.Apply(msg, filter.XSS(), filter.NewAggregator(2))
//	switch {
//	case errors.Is(err, filter.ErrRejected):
//		// a filter refused the payload
//	case errors.Is(err, filter.ErrHeld):
//		// buffered, nothing to deliver yet
//	}
//
// Filters are resolved by name through a Registry, which maps names to
// constructors. The default registry knows "xss", "aggregate" and
// "sanitize:<name>" for every sanitizer in core/sanitizer.
package filter
