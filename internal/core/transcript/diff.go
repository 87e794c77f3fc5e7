package transcript

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// editDiff diffs the old_string/new_string inputs of an Edit or NotebookEdit
// invocation. Notebook edits carry the replacement under new_source.
func editDiff(input map[string]any) (added, removed int, rendered string) {
	oldStr := stringField(input, "old_string")
	newStr := stringField(input, "new_string")
	if newStr == "" {
		newStr = stringField(input, "new_source")
	}
	if oldStr == "" && newStr == "" {
		return 0, 0, ""
	}
	return lineDiff(oldStr, newStr)
}

// lineDiff computes a line-level diff, returning added/removed counts and a
// unified-style rendering with +/-/space prefixes.
func lineDiff(oldStr, newStr string) (added, removed int, rendered string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldStr, newStr)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range splitDiffLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				added++
			case diffmatchpatch.DiffDelete:
				removed++
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return added, removed, strings.TrimRight(sb.String(), "\n")
}

func splitDiffLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
