package sanitizer

import (
	"html"
	"regexp"
	"strings"
)

var (
	htmlTagRegex       = regexp.MustCompile(`<[^>]*>`)
	scriptBlockRegex   = regexp.MustCompile(`(?is)<(script|style|iframe|object|embed)[^>]*>.*?</(script|style|iframe|object|embed)\s*>`)
	eventHandlerRegex  = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	dangerousURLRegex  = regexp.MustCompile(`(?i)(javascript|vbscript|data)\s*:`)
	htmlEscapeReplacer = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
		"/", "&#x2F;",
	)
)

// EscapeHTML escapes the characters that are significant in HTML, including '/'
// so closing tags cannot be smuggled into attribute values.
func EscapeHTML(s string) string {
	return htmlEscapeReplacer.Replace(s)
}

// UnescapeHTML decodes HTML entities.
func UnescapeHTML(s string) string {
	return html.UnescapeString(s)
}

// StripHTML removes tags and decodes entities, leaving plain text.
func StripHTML(s string) string {
	return html.UnescapeString(htmlTagRegex.ReplaceAllString(s, ""))
}

// PreventXSS drops script-like blocks, inline event handlers and dangerous URL
// schemes, then escapes whatever markup remains.
func PreventXSS(s string) string {
	s = scriptBlockRegex.ReplaceAllString(s, "")
	s = eventHandlerRegex.ReplaceAllString(s, "")
	s = dangerousURLRegex.ReplaceAllString(s, "")
	return EscapeHTML(s)
}
