package sanitizer

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknownSanitizer is returned when a sanitizer name is not registered.
var ErrUnknownSanitizer = errors.New("sanitizer: unknown sanitizer")

// Func is a single sanitization step.
type Func func(string) string

var (
	registryMu sync.RWMutex
	registry   = map[string]Func{
		"trim":        Trim,
		"trim_lower":  TrimToLower,
		"single_line": SingleLine,
		"no_spaces":   RemoveExtraWhitespace,
		"no_control":  RemoveControlChars,
		"no_null":     RemoveNullBytes,

		"escape_html":   EscapeHTML,
		"unescape_html": UnescapeHTML,
		"strip_html":    StripHTML,
		"xss":           PreventXSS,

		"safe_text": func(s string) string {
			return EscapeHTML(RemoveExtraWhitespace(Trim(s)))
		},
		"message": func(s string) string {
			return RemoveControlChars(RemoveNullBytes(s))
		},
	}
)

// Register adds or replaces a named sanitizer.
func Register(name string, fn Func) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Lookup returns the sanitizer registered under name.
func Lookup(name string) (Func, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Names returns the registered sanitizer names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs the comma separated sanitizers in spec over value, left to right.
// "max:N" truncates to N runes.
func Apply(value, spec string) (string, error) {
	result := value

	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(name, "max:"); ok {
			n, err := strconv.Atoi(rest)
			if err != nil || n <= 0 {
				return value, fmt.Errorf("%w: %q", ErrUnknownSanitizer, name)
			}
			result = MaxLength(result, n)
			continue
		}

		fn, ok := Lookup(name)
		if !ok {
			return value, fmt.Errorf("%w: %q", ErrUnknownSanitizer, name)
		}
		result = fn(result)
	}

	return result, nil
}
