package filter

import (
	"fmt"

	"github.com/dmitrymomot/comet/core/sanitizer"
)

// asText extracts a textual payload. Non-text payloads report ok=false.
func asText(payload any) (string, bool) {
	switch v := payload.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

// rewrap returns s in the same shape as the original payload.
func rewrap(original any, s string) any {
	if _, ok := original.([]byte); ok {
		return []byte(s)
	}
	return s
}

// XSS escapes markup in textual payloads. Other payload types pass through.
func XSS() Filter {
	return Func(func(payload any) Result {
		s, ok := asText(payload)
		if !ok {
			return Pass(payload)
		}
		return Pass(rewrap(payload, sanitizer.PreventXSS(s)))
	})
}

// Sanitize applies a core/sanitizer spec ("trim,no_control,max:140") to textual payloads.
// The spec is validated when the filter is built.
func Sanitize(spec string) (Filter, error) {
	if _, err := sanitizer.Apply("", spec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownFilter, err)
	}

	return Func(func(payload any) Result {
		s, ok := asText(payload)
		if !ok {
			return Pass(payload)
		}
		out, err := sanitizer.Apply(s, spec)
		if err != nil {
			return Reject(err.Error())
		}
		return Pass(rewrap(payload, out))
	}), nil
}

// MaxSize rejects textual payloads longer than n bytes.
func MaxSize(n int) Filter {
	return Func(func(payload any) Result {
		s, ok := asText(payload)
		if ok && len(s) > n {
			return Reject(fmt.Sprintf("payload is %d bytes, limit %d", len(s), n))
		}
		return Pass(payload)
	})
}
