package transcript

import (
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	"github.com/colonyops/waggle/internal/core/markup"
)

var (
	commandNameRe   = regexp.MustCompile(`<command-name>([^<]*)</command-name>`)
	commandArgsRe   = regexp.MustCompile(`<command-args>([^<]*)</command-args>`)
	commandStdoutRe = regexp.MustCompile(`(?s)<local-command-stdout>(.*?)</local-command-stdout>`)
)

// commandCarryKey parks the one-entry command label in the pending map, so a
// batch boundary between a command and its stdout entry keeps the pairing.
// Tool use ids are never empty, so the key cannot collide.
const commandCarryKey = ""

// Parse converts a batch of entries into records. pending carries parser
// continuation state from earlier batches, unmatched tool invocations above
// all; the updated map is returned and must be handed to the next call for
// the same session. Malformed entries are skipped, never failing the batch.
func Parse(entries []Entry, pending map[string]PendingTool) ([]Record, map[string]PendingTool) {
	if pending == nil {
		pending = make(map[string]PendingTool)
	}
	p := &parser{pending: pending}
	if c, ok := pending[commandCarryKey]; ok {
		p.lastCommand = c.ToolName
		delete(pending, commandCarryKey)
	}
	for _, e := range entries {
		p.entry(e)
	}
	if p.lastCommand != "" {
		p.pending[commandCarryKey] = PendingTool{ToolName: p.lastCommand}
	}
	return p.records, p.pending
}

// ParseAll parses a complete transcript in one shot. Invocations whose
// results never arrived stand as plain tool_use records in the output.
func ParseAll(entries []Entry) []Record {
	records, _ := Parse(entries, nil)
	return records
}

type parser struct {
	records []Record
	pending map[string]PendingTool

	// lastCommand holds a command name for exactly one following entry so a
	// stdout-only entry can be labeled with the command that produced it.
	lastCommand string
}

func (p *parser) emit(r Record) {
	p.records = append(p.records, r)
}

func (p *parser) entry(e Entry) {
	carry := p.lastCommand
	p.lastCommand = ""

	switch e.Type {
	case "user":
		p.userEntry(e, carry)
	case "assistant":
		p.assistantEntry(e)
	}
}

// userEntry handles local commands, tool results and pasted images. Plain
// user text is not mirrored: it is the user's own input, already visible on
// the side that sent it.
func (p *parser) userEntry(e Entry, carry string) {
	ts := e.Time()
	if s := e.Message.ContentString(); s != "" {
		p.localCommand(s, carry, ts)
		return
	}
	for _, b := range e.Message.Blocks() {
		switch b.Type {
		case "text":
			p.localCommand(b.Text, carry, ts)
		case "tool_result":
			p.toolResult(b, ts)
		case "image":
			if b.Source == nil || b.Source.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(b.Source.Data)
			if err != nil {
				continue
			}
			p.emit(Record{Role: RoleUser, Type: TypeText, Text: "[image]", Timestamp: ts, ImageData: data})
		}
	}
}

// localCommand detects the CLI's local-command markers in user text and
// emits a synthetic record. A command whose stdout arrives in the next entry
// is labeled through the one-entry look-behind.
func (p *parser) localCommand(text, carry string, ts time.Time) {
	if m := commandNameRe.FindStringSubmatch(text); m != nil {
		name := strings.TrimSpace(m[1])
		if name == "" {
			return
		}
		rec := name
		if am := commandArgsRe.FindStringSubmatch(text); am != nil {
			if args := strings.TrimSpace(am[1]); args != "" {
				rec += " " + args
			}
		}
		if sm := commandStdoutRe.FindStringSubmatch(text); sm != nil {
			if out := strings.TrimSpace(sm[1]); out != "" {
				rec += "\n" + out
			}
		} else {
			p.lastCommand = name
		}
		p.emit(Record{Role: RoleUser, Type: TypeLocalCommand, Text: rec, Timestamp: ts})
		return
	}
	if sm := commandStdoutRe.FindStringSubmatch(text); sm != nil {
		out := strings.TrimSpace(sm[1])
		if out == "" {
			return
		}
		if carry != "" {
			out = carry + "\n" + out
		}
		p.emit(Record{Role: RoleUser, Type: TypeLocalCommand, Text: out, Timestamp: ts})
	}
}

func (p *parser) assistantEntry(e Entry) {
	ts := e.Time()
	if s := e.Message.ContentString(); s != "" {
		if isCommandEcho(s) {
			return
		}
		p.emit(Record{Role: RoleAssistant, Type: TypeText, Text: s, Timestamp: ts})
		return
	}
	for _, b := range e.Message.Blocks() {
		switch b.Type {
		case "text":
			if b.Text == "" || isCommandEcho(b.Text) {
				continue
			}
			p.emit(Record{Role: RoleAssistant, Type: TypeText, Text: b.Text, Timestamp: ts})
		case "thinking":
			if b.Thinking == "" {
				continue
			}
			p.emit(Record{Role: RoleAssistant, Type: TypeThinking, Text: markup.WrapQuote(b.Thinking), Timestamp: ts})
		case "tool_use":
			p.toolUse(b, ts)
		}
	}
}

// isCommandEcho reports whether assistant text replays a local command that
// the user-side record already covers.
func isCommandEcho(s string) bool {
	return commandNameRe.MatchString(s) || commandStdoutRe.MatchString(s)
}

func (p *parser) toolUse(b ContentBlock, ts time.Time) {
	input := b.InputMap()

	// The plan travels as tool input; surface it as normal text ahead of the
	// invocation record.
	if b.Name == "ExitPlanMode" {
		if plan, _ := input["plan"].(string); plan != "" {
			p.emit(Record{Role: RoleAssistant, Type: TypeText, Text: plan, Timestamp: ts})
		}
	}

	summary := Summarize(b.Name, input)
	p.pending[b.ID] = PendingTool{Summary: summary, ToolName: b.Name, Input: input}
	p.emit(Record{
		Role:        RoleAssistant,
		Type:        TypeToolUse,
		Text:        summary,
		ToolUseID:   b.ID,
		ToolName:    b.Name,
		Timestamp:   ts,
		Interactive: interactiveTool(b.Name),
	})
}

func (p *parser) toolResult(b ContentBlock, ts time.Time) {
	pt, known := p.pending[b.ToolUseID]
	delete(p.pending, b.ToolUseID)

	p.emit(Record{
		Role:      RoleUser,
		Type:      TypeToolResult,
		Text:      formatResult(pt, known, b.ResultText(), b.IsError),
		ToolUseID: b.ToolUseID,
		ToolName:  pt.ToolName,
		Timestamp: ts,
		IsError:   b.IsError,
	})
}

// interactiveTool marks tools whose invocation renders an interactive prompt
// in the terminal rather than plain output.
func interactiveTool(name string) bool {
	return name == "AskUserQuestion" || name == "ExitPlanMode"
}
