package terminal

import (
	"regexp"
	"strings"
)

// ansiRe matches CSI and OSC escape sequences, the two families tmux emits in
// capture-pane -e output.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)

// StripANSI removes escape sequences and trailing per-line whitespace.
func StripANSI(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// Lines splits a pane capture into trimmed-right lines for the analyzers.
func Lines(capture string) []string {
	return strings.Split(StripANSI(capture), "\n")
}
