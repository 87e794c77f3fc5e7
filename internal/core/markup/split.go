package markup

import "strings"

// PartLimit is the maximum size of one outgoing message part. Below
// Telegram's 4096 hard limit to leave room for markup expansion.
const PartLimit = 3800

// SplitMessage cuts text into parts of at most limit bytes, preferring
// paragraph then line boundaries. A cut that lands inside a sentinel quote
// closes the quote at the end of the part and reopens it in the next, so
// every part converts independently.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = PartLimit
	}
	if len(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var parts []string
	rest := text
	for len(rest) > limit {
		cut := splitPoint(rest, limit)
		head, tail := rest[:cut], rest[cut:]
		if openQuotes(head) {
			head += QuoteClose
			tail = QuoteOpen + tail
		}
		parts = append(parts, strings.TrimRight(head, "\n"))
		rest = strings.TrimLeft(tail, "\n")
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// splitPoint finds the best byte offset ≤ limit to cut at: the last blank
// line, else the last newline, else a hard cut on a rune boundary.
func splitPoint(s string, limit int) int {
	window := s[:limit]
	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i
	}
	if i := strings.LastIndex(window, "\n"); i > 0 {
		return i
	}
	cut := limit
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return cut
}

// openQuotes reports whether s ends inside an unclosed sentinel region.
func openQuotes(s string) bool {
	return strings.Count(s, QuoteOpen) > strings.Count(s, QuoteClose)
}
