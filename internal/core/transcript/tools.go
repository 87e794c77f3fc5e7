package transcript

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"github.com/colonyops/waggle/internal/core/markup"
)

// statsPrefix matches the CLI's own result-line indentation.
const statsPrefix = "  ⎿  "

// summaryArgWidth caps the display width of a summary argument.
const summaryArgWidth = 200

// Summarize renders the one-line invocation summary: **Name**(arg).
func Summarize(tool string, input map[string]any) string {
	arg := summaryArg(tool, input)
	arg = runewidth.Truncate(arg, summaryArgWidth, "…")
	if arg == "" {
		return fmt.Sprintf("**%s**", tool)
	}
	return fmt.Sprintf("**%s**(%s)", tool, arg)
}

// summaryArg picks the one input field that best identifies an invocation.
func summaryArg(tool string, input map[string]any) string {
	switch tool {
	case "Read", "Write", "Edit", "NotebookEdit":
		return stringField(input, "file_path")
	case "Bash":
		return strings.ReplaceAll(stringField(input, "command"), "\n", " ")
	case "Grep", "Glob":
		return stringField(input, "pattern")
	case "Task":
		return stringField(input, "description")
	case "WebFetch":
		return stringField(input, "url")
	case "WebSearch":
		return stringField(input, "query")
	case "TodoWrite":
		if todos, ok := input["todos"].([]any); ok {
			return fmt.Sprintf("%d items", len(todos))
		}
		return ""
	case "AskUserQuestion":
		if qs, ok := input["questions"].([]any); ok && len(qs) > 0 {
			if q, ok := qs[0].(map[string]any); ok {
				return stringField(q, "question")
			}
		}
		return stringField(input, "question")
	case "ExitPlanMode":
		return ""
	default:
		for _, k := range []string{"file_path", "command", "pattern", "query", "url", "description", "prompt"} {
			if v := stringField(input, k); v != "" {
				return v
			}
		}
		return ""
	}
}

// formatResult combines the remembered invocation summary, a statistics line
// and, for non-trivial output, the full text inside an expandable quote.
func formatResult(pt PendingTool, known bool, out string, isErr bool) string {
	var b strings.Builder
	if known && pt.Summary != "" {
		b.WriteString(pt.Summary)
		b.WriteString("\n")
	}

	switch {
	case isInterrupted(out):
		b.WriteString(statsPrefix + "Interrupted")
	case isErr:
		first := strings.TrimSpace(firstLine(out))
		b.WriteString(statsPrefix + "Error: " + first)
		if strings.ContainsRune(strings.TrimSpace(out), '\n') {
			b.WriteString("\n" + markup.WrapQuote(out))
		}
	default:
		b.WriteString(statsPrefix + statsLine(pt.ToolName, pt.Input, out))
		if body := resultBody(pt, out); body != "" {
			b.WriteString("\n" + markup.WrapQuote(body))
		}
	}
	return b.String()
}

// statsLine renders the per-tool statistics shown under the summary.
func statsLine(tool string, input map[string]any, out string) string {
	switch tool {
	case "Read":
		return fmt.Sprintf("Read %d lines", lineCount(out))
	case "Write":
		return fmt.Sprintf("Wrote %d lines", lineCount(stringField(input, "content")))
	case "Bash":
		return fmt.Sprintf("Output %d lines", lineCount(out))
	case "Grep":
		if strings.HasPrefix(out, "No matches") {
			return "Found 0 matches"
		}
		return fmt.Sprintf("Found %d matches", lineCount(out))
	case "Glob":
		if strings.HasPrefix(out, "No files") {
			return "Found 0 files"
		}
		return fmt.Sprintf("Found %d files", lineCount(out))
	case "Task":
		return fmt.Sprintf("Agent output %d lines", lineCount(out))
	case "WebFetch":
		return fmt.Sprintf("Fetched %d characters", utf8.RuneCountInString(out))
	case "WebSearch":
		return fmt.Sprintf("%d search results", lineCount(out))
	case "Edit", "NotebookEdit":
		added, removed, _ := editDiff(input)
		return fmt.Sprintf("+%d -%d lines", added, removed)
	default:
		if strings.TrimSpace(out) == "" {
			return "Done"
		}
		return fmt.Sprintf("Output %d lines", lineCount(out))
	}
}

// resultBody picks the expandable-quote content for a normal result: the
// computed diff for edits, the raw output for everything else.
func resultBody(pt PendingTool, out string) string {
	if pt.ToolName == "Edit" || pt.ToolName == "NotebookEdit" {
		_, _, rendered := editDiff(pt.Input)
		return rendered
	}
	return strings.TrimSpace(out)
}

// isInterrupted matches the CLI's interruption marker.
func isInterrupted(out string) bool {
	return strings.Contains(out, "[Request interrupted")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func lineCount(s string) int {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
