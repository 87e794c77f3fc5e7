// Package transcript parses the append-only JSONL logs written by the coding
// CLI into a normalized stream of message records. Tool invocations are
// paired with their results across entries, and across parse calls via an
// explicit pending map the caller carries between batches.
package transcript

import (
	"encoding/json"
	"time"
)

// Record roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RecordType classifies a normalized message record.
type RecordType string

const (
	TypeText         RecordType = "text"
	TypeThinking     RecordType = "thinking"
	TypeToolUse      RecordType = "tool_use"
	TypeToolResult   RecordType = "tool_result"
	TypeLocalCommand RecordType = "local_command"
)

// Record is one normalized message produced from transcript entries.
type Record struct {
	Role      string
	Type      RecordType
	Text      string
	ToolUseID string
	ToolName  string
	Timestamp time.Time
	ImageData []byte

	// Interactive marks tools the delivery layer must route through the
	// interactive-prompt flow instead of sending as a plain message.
	Interactive bool

	// IsError marks a failed tool result, for notification filtering.
	IsError bool
}

// PendingTool remembers a tool_use whose tool_result has not arrived yet.
// Carried across parse calls so a result observed in a later batch still
// pairs with its invocation.
type PendingTool struct {
	Summary  string
	ToolName string
	Input    map[string]any
}

// Entry is one decoded transcript line.
type Entry struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	UUID      string      `json:"uuid"`
	SessionID string      `json:"sessionId"`
	Cwd       string      `json:"cwd"`
	Summary   string      `json:"summary"`
	Message   MessageBody `json:"message"`
}

// Time parses the entry timestamp, zero on failure.
func (e Entry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MessageBody holds the message payload. Content is either a plain string or
// a list of content blocks; it stays raw until one of the accessors runs.
type MessageBody struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentString returns the content when it is a plain string, else "".
func (m MessageBody) ContentString() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return ""
	}
	return s
}

// Blocks returns the content blocks when content is a list, else nil.
func (m MessageBody) Blocks() []ContentBlock {
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// ContentBlock is one element of a block-style message content list. Fields
// are populated per block type: text.text, thinking.thinking,
// tool_use.id/name/input, tool_result.tool_use_id/content/is_error,
// image.source.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
	Source    *ImageSource    `json:"source"`
}

// ImageSource carries inline image data from an image block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// InputMap decodes the tool input object, nil when absent or malformed.
func (b ContentBlock) InputMap() map[string]any {
	if len(b.Input) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b.Input, &m); err != nil {
		return nil
	}
	return m
}

// ResultText flattens a tool_result content field, which is either a plain
// string or a list of text blocks.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err != nil {
		return ""
	}
	var out string
	for _, blk := range blocks {
		if blk.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += blk.Text
	}
	return out
}

// DecodeLine parses one raw transcript line. The caller decides whether a
// failure means a torn tail (defer) or garbage (skip).
func DecodeLine(line []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}
