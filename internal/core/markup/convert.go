package markup

import (
	"html"
	"regexp"
	"strings"
)

// QuoteBudget caps the rendered size of one expandable quote. Telegram
// rejects messages whose rendered entities exceed ~4096 characters; 3800
// leaves headroom for the surrounding message.
const QuoteBudget = 3800

const truncationMarker = "\n… (truncated)"

var (
	boldRe     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe   = regexp.MustCompile(`(^|[^\w*])\*([^*\n]+?)\*([^\w*]|$)`)
	linkRe     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	headingRe  = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	codeSpanRe = regexp.MustCompile("`([^`\n]+)`")
)

// Convert renders raw Markdown as Telegram HTML. Sentinel-delimited regions
// are isolated first and emitted as expandable blockquotes; the generic
// converter runs only on the text outside them.
func Convert(text string) string {
	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, QuoteOpen)
		if start < 0 {
			b.WriteString(toHTML(rest))
			break
		}
		b.WriteString(toHTML(rest[:start]))
		rest = rest[start+len(QuoteOpen):]

		end := strings.Index(rest, QuoteClose)
		if end < 0 {
			// Unbalanced open: treat the remainder as the quote body.
			b.WriteString(expandableQuote(rest))
			break
		}
		b.WriteString(expandableQuote(rest[:end]))
		rest = rest[end+len(QuoteClose):]
	}
	return b.String()
}

// expandableQuote renders body as a collapsed blockquote, escaped and held
// under the render budget.
func expandableQuote(body string) string {
	body = StripSentinels(body)
	if len(body) > QuoteBudget {
		cut := QuoteBudget - len(truncationMarker)
		// Do not split a multi-byte rune.
		for cut > 0 && body[cut]&0xC0 == 0x80 {
			cut--
		}
		body = body[:cut] + truncationMarker
	}
	return "<blockquote expandable>" + html.EscapeString(body) + "</blockquote>"
}

// toHTML converts Markdown outside quote regions. Fenced code blocks become
// <pre>; inline spans are escaped before entity tags are applied so user
// content can never inject markup.
func toHTML(md string) string {
	if md == "" {
		return ""
	}

	var out []string
	var code []string
	inFence := false

	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				out = append(out, "<pre>"+html.EscapeString(strings.Join(code, "\n"))+"</pre>")
				code = code[:0]
				inFence = false
			} else {
				inFence = true
			}
			continue
		}
		if inFence {
			code = append(code, line)
			continue
		}
		out = append(out, convertInline(line))
	}
	// Unterminated fence: emit what accumulated.
	if inFence {
		out = append(out, "<pre>"+html.EscapeString(strings.Join(code, "\n"))+"</pre>")
	}

	return strings.Join(out, "\n")
}

// convertInline handles one non-fence line. Inline code spans are pulled out
// first so their contents are never touched by the entity regexes.
func convertInline(line string) string {
	if m := headingRe.FindStringSubmatch(line); m != nil {
		line = m[1]
		return "<b>" + convertEntities(line) + "</b>"
	}
	return convertEntities(line)
}

func convertEntities(line string) string {
	// Placeholder-protect code spans, escape, then restore as <code>.
	var spans []string
	line = codeSpanRe.ReplaceAllStringFunc(line, func(m string) string {
		inner := m[1 : len(m)-1]
		spans = append(spans, inner)
		return "\x00" + string(rune('0'+len(spans)-1)) + "\x00"
	})

	line = html.EscapeString(line)

	line = linkRe.ReplaceAllString(line, `<a href="$2">$1</a>`)
	line = boldRe.ReplaceAllString(line, "<b>$1</b>")
	line = italicRe.ReplaceAllString(line, "$1<i>$2</i>$3")

	for i, span := range spans {
		ph := "\x00" + string(rune('0'+i)) + "\x00"
		line = strings.Replace(line, ph, "<code>"+html.EscapeString(span)+"</code>", 1)
	}
	return line
}
