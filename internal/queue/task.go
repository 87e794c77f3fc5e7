// Package queue delivers parsed records and pane status to the chat
// platform. One FIFO per user, a bounded worker pool with at most one
// in-flight task per user, in-place edits for status and tool messages, and
// markup conversion exactly once at the send edge.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/colonyops/waggle/internal/core/transcript"
)

// Kind discriminates queue tasks.
type Kind int

const (
	KindContent Kind = iota
	KindStatusUpdate
	KindStatusClear
)

// Task is one unit of outbound work. Content tasks carry pre-split message
// parts; status tasks carry the status line text.
type Task struct {
	Kind     Kind
	UserID   int64
	TopicID  int64
	WindowID string

	// Content fields.
	Parts       []string
	ToolUseID   string
	ContentType transcript.RecordType

	// Status text.
	Text string
}

// Content builds a content task from pre-split parts.
func Content(userID, topicID int64, windowID string, parts []string, contentType transcript.RecordType, toolUseID string) Task {
	return Task{
		Kind:        KindContent,
		UserID:      userID,
		TopicID:     topicID,
		WindowID:    windowID,
		Parts:       parts,
		ContentType: contentType,
		ToolUseID:   toolUseID,
	}
}

// StatusUpdate builds a status-line task.
func StatusUpdate(userID, topicID int64, windowID, text string) Task {
	return Task{Kind: KindStatusUpdate, UserID: userID, TopicID: topicID, WindowID: windowID, Text: text}
}

// StatusClear removes the thread's status message.
func StatusClear(userID, topicID int64) Task {
	return Task{Kind: KindStatusClear, UserID: userID, TopicID: topicID}
}

// ErrBadMarkup is returned by Platform implementations when the platform
// rejects the rendered markup; the engine retries plain.
var ErrBadMarkup = errors.New("queue: bad markup")

// RateLimitError carries the platform's retry-after hint. The worker holding
// the task sleeps it off and retries the same task.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("queue: rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimit unwraps err to a RateLimitError when one is in the chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
