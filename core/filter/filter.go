package filter

import "fmt"

// Action tells the chain what to do after a filter ran.
type Action int

const (
	// Continue passes Result.Payload to the next filter.
	Continue Action = iota
	// Abort rejects the payload; the broadcast is cancelled.
	Abort
	// Hold suppresses delivery; the filter kept the payload.
	Hold
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Abort:
		return "abort"
	case Hold:
		return "hold"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Result is the outcome of a single filter.
type Result struct {
	Payload any
	Action  Action
	// Reason is reported with ErrRejected when Action is Abort.
	Reason string
}

// Pass continues the chain with payload.
func Pass(payload any) Result {
	return Result{Payload: payload, Action: Continue}
}

// Reject aborts the chain.
func Reject(reason string) Result {
	return Result{Action: Abort, Reason: reason}
}

// Held suppresses delivery of the current payload.
func Held() Result {
	return Result{Action: Hold}
}

// Filter transforms, rejects or holds a payload.
type Filter interface {
	Filter(payload any) Result
}

// Func adapts a plain function to Filter.
type Func func(payload any) Result

// Filter implements Filter.
func (f Func) Filter(payload any) Result {
	return f(payload)
}

// Map builds a filter that always continues with fn(payload).
func Map(fn func(any) any) Filter {
	return Func(func(payload any) Result {
		return Pass(fn(payload))
	})
}

// Apply runs filters left to right. Apply(m, f1, f2) equals f2(f1(m)).
// When a filter aborts, later filters are not invoked and ErrRejected is returned;
// when a filter holds, ErrHeld is returned.
func Apply(payload any, filters ...Filter) (any, error) {
	for i, f := range filters {
		if f == nil {
			continue
		}

		res := f.Filter(payload)
		switch res.Action {
		case Continue:
			payload = res.Payload
		case Hold:
			return nil, ErrHeld
		case Abort:
			if res.Reason != "" {
				return nil, fmt.Errorf("%w: filter %d: %s", ErrRejected, i, res.Reason)
			}
			return nil, fmt.Errorf("%w: filter %d", ErrRejected, i)
		default:
			return nil, fmt.Errorf("%w: filter %d returned %s", ErrRejected, i, res.Action)
		}
	}

	return payload, nil
}

// Chain is a reusable, ordered list of filters. It is itself a Filter.
type Chain []Filter

// Filter implements Filter by applying every filter in order.
func (c Chain) Filter(payload any) Result {
	for _, f := range c {
		if f == nil {
			continue
		}
		res := f.Filter(payload)
		if res.Action != Continue {
			return res
		}
		payload = res.Payload
	}
	return Pass(payload)
}
