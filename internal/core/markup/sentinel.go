// Package markup converts the raw Markdown flowing through the pipeline into
// Telegram-safe HTML. Conversion happens exactly once, at the send edge;
// everything upstream passes raw text through untouched.
package markup

import "strings"

// Expandable-quote sentinels. Content between them is rendered as Telegram's
// collapsed blockquote instead of going through the generic converter. Both
// are private-use code points, so normal transcript content can never contain
// them.
const (
	QuoteOpen  = ""
	QuoteClose = ""
)

// WrapQuote surrounds s with the expandable-quote sentinel pair.
func WrapQuote(s string) string {
	return QuoteOpen + s + QuoteClose
}

// StripSentinels removes all sentinel runes, used for plain-text fallback
// when HTML rendering is rejected by the platform.
func StripSentinels(s string) string {
	s = strings.ReplaceAll(s, QuoteOpen, "")
	return strings.ReplaceAll(s, QuoteClose, "")
}

// HasSentinels reports whether s contains at least one quote sentinel.
func HasSentinels(s string) bool {
	return strings.Contains(s, QuoteOpen) || strings.Contains(s, QuoteClose)
}
