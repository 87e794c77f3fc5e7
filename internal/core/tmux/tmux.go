// Package tmux wraps the terminal multiplexer behind a narrow adapter:
// window listing, pane capture, keystroke injection, and window lifecycle.
// All access goes through executil so tests can script the tmux binary.
package tmux

import (
	"context"
	"errors"
	"regexp"
)

// ErrWindowGone reports that the target window no longer exists.
var ErrWindowGone = errors.New("tmux: window gone")

// IsWindowGone reports whether err means the target window disappeared.
func IsWindowGone(err error) bool {
	return errors.Is(err, ErrWindowGone)
}

// Window is one multiplexer window. ID is the stable @-prefixed identifier
// assigned by the server; Name is the mutable display name.
type Window struct {
	ID      string
	Name    string
	Path    string // pane current working directory
	Command string // pane current command (e.g. "claude" or the login shell)
}

// windowIDRe is the shape of tmux window ids.
var windowIDRe = regexp.MustCompile(`^@\d+$`)

// IsWindowID reports whether s looks like a tmux window id.
func IsWindowID(s string) bool {
	return windowIDRe.MatchString(s)
}

// Named keys accepted by SendKey.
const (
	KeyUp     = "Up"
	KeyDown   = "Down"
	KeyLeft   = "Left"
	KeyRight  = "Right"
	KeyEnter  = "Enter"
	KeySpace  = "Space"
	KeyTab    = "Tab"
	KeyEscape = "Escape"
	KeyCtrlC  = "C-c"
)

// Adapter is the narrow multiplexer interface the rest of the system uses.
// Implementations may block on subprocess calls; callers treat every method
// as a suspension point.
type Adapter interface {
	// EnsureSession creates the owned session (with its placeholder window)
	// when it does not exist.
	EnsureSession(ctx context.Context) error

	// ListWindows returns the session's windows, excluding the placeholder.
	ListWindows(ctx context.Context) ([]Window, error)

	// FindWindow looks a window up by id.
	FindWindow(ctx context.Context, id string) (Window, bool, error)

	// FindWindowByName looks a window up by display name.
	FindWindowByName(ctx context.Context, name string) (Window, bool, error)

	// CapturePane returns the pane text. With color, SGR escapes are
	// preserved for the screenshot renderer.
	CapturePane(ctx context.Context, id string, color bool) (string, error)

	// SendText types text into the window. With enter, a separate Enter
	// keypress follows after a settle delay so the TUI does not read the
	// text and the newline as one paste.
	SendText(ctx context.Context, id, text string, enter bool) error

	// SendKey sends one named key (Up, Down, Enter, Escape, C-c, ...).
	SendKey(ctx context.Context, id, key string) error

	// CreateWindow opens a new window in cwd running the provider command
	// with extraArgs appended. Colliding names get a -2, -3, ... suffix.
	CreateWindow(ctx context.Context, cwd, name string, extraArgs []string) (Window, error)

	// KillWindow destroys the window.
	KillWindow(ctx context.Context, id string) error
}
