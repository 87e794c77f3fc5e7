// Package terminal analyzes captured tmux pane text: interactive-prompt
// regions, the spinner status line, bash-command output, and the usage panel.
// Everything here is best-effort pattern matching over plain text; all
// functions return zero values on unrecognized content rather than failing.
package terminal

import (
	"regexp"
	"strings"
)

// Prompt kinds, in detection priority order.
const (
	PromptExitPlan     = "ExitPlanMode"
	PromptQuestionTabs = "AskUserQuestionTabs"
	PromptQuestion     = "AskUserQuestion"
	PromptPermission   = "PermissionPrompt"
	PromptRestore      = "RestoreCheckpoint"
	PromptSettings     = "Settings"
)

// Prompt is a detected interactive region within a pane capture.
type Prompt struct {
	Kind  string
	Start int // index of the first region line
	End   int // index of the last region line, inclusive
	Lines []string
}

// Text joins the region lines.
func (p *Prompt) Text() string {
	return strings.Join(p.Lines, "\n")
}

// UIPattern describes one interactive-prompt shape. The first line matching
// any top pattern opens the region; the first later line matching any bottom
// pattern closes it. Empty Bottom means the region runs to the last non-empty
// line, used for panels whose footer varies by tab state.
type UIPattern struct {
	Name   string
	Top    []*regexp.Regexp
	Bottom []*regexp.Regexp
	MinGap int // minimum lines between top and bottom; smaller gaps reject the match
}

var (
	optionNoRe = regexp.MustCompile(`^\s*❯?\s*\d+\.\s+No\b`)

	// patterns are tried in declared order; first match wins. More specific
	// shapes come first so the generic permission prompt cannot shadow them.
	patterns = []UIPattern{
		{
			Name:   PromptExitPlan,
			Top:    []*regexp.Regexp{regexp.MustCompile(`Would you like to proceed\?`)},
			Bottom: []*regexp.Regexp{regexp.MustCompile(`keep planning`)},
			MinGap: 1,
		},
		{
			Name: PromptQuestionTabs,
			Top:  []*regexp.Regexp{regexp.MustCompile(`Question \d+ of \d+`)},
			// Footer varies with tab focus; take everything below the header.
			Bottom: nil,
			MinGap: 2,
		},
		{
			Name: PromptQuestion,
			Top:  []*regexp.Regexp{regexp.MustCompile(`^\s*●\s+.+\?`)},
			Bottom: []*regexp.Regexp{
				regexp.MustCompile(`Enter to select`),
				regexp.MustCompile(`Tab to toggle`),
			},
			MinGap: 2,
		},
		{
			Name: PromptPermission,
			Top:  []*regexp.Regexp{regexp.MustCompile(`Do you want to`)},
			Bottom: []*regexp.Regexp{
				optionNoRe,
				regexp.MustCompile(`tell Claude what to do differently`),
			},
			MinGap: 1,
		},
		{
			Name: PromptRestore,
			Top: []*regexp.Regexp{
				regexp.MustCompile(`Restore checkpoint\?`),
				regexp.MustCompile(`Rewind to this point\?`),
			},
			Bottom: []*regexp.Regexp{optionNoRe, regexp.MustCompile(`^\s*❯?\s*\d+\.\s+Cancel\b`)},
			MinGap: 1,
		},
		{
			Name:   PromptSettings,
			Top:    []*regexp.Regexp{regexp.MustCompile(`^\s*Settings:`)},
			Bottom: []*regexp.Regexp{regexp.MustCompile(`^\s*Esc to `)},
			MinGap: 2,
		},
	}
)

// DetectPrompt scans the pane for an interactive-prompt region. Returns nil
// when no pattern matches.
func DetectPrompt(lines []string) *Prompt {
	for _, pat := range patterns {
		if p := matchPattern(pat, lines); p != nil {
			return p
		}
	}
	return nil
}

func matchPattern(pat UIPattern, lines []string) *Prompt {
	start := -1
	for i, line := range lines {
		if matchAny(pat.Top, line) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	end := -1
	if len(pat.Bottom) == 0 {
		// Region runs to the last non-empty line.
		for i := len(lines) - 1; i > start; i-- {
			if strings.TrimSpace(lines[i]) != "" {
				end = i
				break
			}
		}
	} else {
		for i := start + 1; i < len(lines); i++ {
			if matchAny(pat.Bottom, lines[i]) {
				end = i
				break
			}
		}
	}
	if end < 0 || end-start < pat.MinGap {
		return nil
	}

	region := make([]string, end-start+1)
	copy(region, lines[start:end+1])
	return &Prompt{Kind: pat.Name, Start: start, End: end, Lines: region}
}

func matchAny(res []*regexp.Regexp, line string) bool {
	for _, re := range res {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// spinnerRunes are the characters the CLI animates in front of its status
// line.
var spinnerRunes = []rune{'·', '✻', '✽', '✶', '✳', '✢'}

// chromeSeparatorRe matches the CLI's input-box border: a run of at least 20
// box-drawing dashes. Anchoring the status search to it prevents a '·' bullet
// in normal output from being mistaken for a spinner.
var chromeSeparatorRe = regexp.MustCompile(`─{20,}`)

// chromeWindow is how many trailing lines are searched for the separator.
const chromeWindow = 10

// statusWalkLimit is how many lines above the separator may be scanned for
// the spinner.
const statusWalkLimit = 4

// StatusLine extracts the spinner status text from a pane capture. Empty
// string when the CLI is not showing one.
func StatusLine(lines []string) string {
	sep := findChromeSeparator(lines)
	if sep < 0 {
		return ""
	}

	walked := 0
	for i := sep - 1; i >= 0 && walked < statusWalkLimit; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		walked++
		if text, ok := afterSpinner(line); ok {
			return text
		}
	}
	return ""
}

// findChromeSeparator returns the index of the topmost separator line within
// the trailing chrome window, -1 when absent.
func findChromeSeparator(lines []string) int {
	start := len(lines) - chromeWindow
	if start < 0 {
		start = 0
	}
	for i := start; i < len(lines); i++ {
		if chromeSeparatorRe.MatchString(lines[i]) {
			return i
		}
	}
	return -1
}

// afterSpinner splits off a leading spinner rune, returning the status text.
func afterSpinner(line string) (string, bool) {
	runes := []rune(line)
	if len(runes) < 2 {
		return "", false
	}
	for _, sp := range spinnerRunes {
		if runes[0] == sp {
			return strings.TrimSpace(string(runes[1:])), true
		}
	}
	return "", false
}

// BashOutput extracts the echo region of a `!command` typed into the CLI:
// from the echoed command line to the bottom of the non-chrome pane. Returns
// nil when the echo is not on screen.
func BashOutput(lines []string, command string) []string {
	end := findChromeSeparator(lines)
	if end < 0 {
		end = len(lines)
	}

	// The echo shows the command after "! ", possibly cut short with an
	// ellipsis. Matching compares at most the first 10 characters and accepts
	// an echo truncated even shorter than that.
	probe := command
	if len(probe) > 10 {
		probe = probe[:10]
	}

	for i := end - 1; i >= 0; i-- {
		echo := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(echo, "! ") {
			continue
		}
		echoCmd := strings.TrimSuffix(echo[2:], "…")
		if echoCmd == "" {
			continue
		}
		if strings.HasPrefix(echoCmd, probe) || strings.HasPrefix(probe, echoCmd) {
			region := make([]string, end-i)
			copy(region, lines[i:end])
			return trimTrailingBlank(region)
		}
	}
	return nil
}

// UsagePanel extracts the content lines of the CLI's usage overlay: the
// region between the "Settings: ... Usage" header and the "Esc to ..."
// footer, with leading block-element bars removed from each line.
func UsagePanel(lines []string) []string {
	start := -1
	for i, line := range lines {
		if strings.Contains(line, "Settings:") && strings.Contains(line, "Usage") {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "Esc to ") {
			end = i
			break
		}
	}
	if end < 0 {
		return nil
	}

	var out []string
	for _, line := range lines[start+1 : end] {
		cleaned := strings.TrimLeft(line, "█▉▊▋▌▍▎▏▓▒░ ")
		cleaned = strings.TrimRight(cleaned, " ")
		if cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
