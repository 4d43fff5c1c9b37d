// Package sanitizer provides string sanitizers used to clean broadcast payloads.
//
// Every sanitizer is a plain func(string) string and is registered under a name so
// that it can be selected from configuration or composed into a filter chain:
//
//	clean, err := sanitizer.Apply(msg, "trim,no_control,xss")
//
// A "max:N" step truncates to N runes. Unknown names are reported with
// ErrUnknownSanitizer rather than silently skipped.
//
// The security sanitizers (EscapeHTML, PreventXSS, StripHTML) are what the
// filter package builds its "xss" filter on.
package sanitizer
