package tmux

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/waggle/pkg/executil"
)

// Delays around multi-part key sends. The CLI's TUI needs time to register
// typed text before Enter arrives, and longer to switch modes after a bang.
const (
	enterGap = 500 * time.Millisecond
	bangGap  = 1 * time.Second
)

// listFormat is the tab-separated field list used for window listings.
const listFormat = "#{window_id}\t#{window_name}\t#{pane_current_path}\t#{pane_current_command}"

// Client is the exec-backed Adapter implementation.
type Client struct {
	exec        executil.Executor
	session     string
	placeholder string
	provider    string
	log         zerolog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewClient returns a Client bound to one tmux session. provider is the CLI
// command launched in new windows.
func NewClient(exec executil.Executor, session, placeholder, provider string, log zerolog.Logger) *Client {
	return &Client{
		exec:        exec,
		session:     session,
		placeholder: placeholder,
		provider:    provider,
		log:         log.With().Str("component", "tmux").Logger(),
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := c.exec.Run(ctx, "tmux", args...)
	if err != nil && mentionsMissingTarget(out) {
		return out, fmt.Errorf("%w: %s", ErrWindowGone, strings.TrimSpace(string(out)))
	}
	return out, err
}

// mentionsMissingTarget matches tmux's error text for dead targets.
func mentionsMissingTarget(out []byte) bool {
	s := string(out)
	return strings.Contains(s, "can't find window") ||
		strings.Contains(s, "can't find pane") ||
		strings.Contains(s, "can't find session")
}

// EnsureSession creates the owned session with the placeholder window when
// absent. tmux kills a session when its last window closes; the placeholder
// keeps it alive with zero agent windows.
func (c *Client) EnsureSession(ctx context.Context) error {
	if _, err := c.exec.Run(ctx, "tmux", "has-session", "-t", "="+c.session); err == nil {
		return nil
	}

	c.log.Info().Str("session", c.session).Msg("creating tmux session")
	_, err := c.run(ctx, "new-session", "-d", "-s", c.session, "-n", c.placeholder)
	if err != nil {
		return fmt.Errorf("tmux new-session: %w", err)
	}
	return nil
}

// ListWindows returns the session's windows, placeholder excluded.
func (c *Client) ListWindows(ctx context.Context) ([]Window, error) {
	out, err := c.run(ctx, "list-windows", "-t", "="+c.session, "-F", listFormat)
	if err != nil {
		return nil, fmt.Errorf("tmux list-windows: %w", err)
	}

	var windows []Window
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) < 2 || !IsWindowID(parts[0]) {
			continue
		}
		w := Window{ID: parts[0], Name: parts[1]}
		if len(parts) >= 3 {
			w.Path = parts[2]
		}
		if len(parts) >= 4 {
			w.Command = parts[3]
		}
		if w.Name == c.placeholder {
			continue
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// FindWindow looks a window up by id.
func (c *Client) FindWindow(ctx context.Context, id string) (Window, bool, error) {
	windows, err := c.ListWindows(ctx)
	if err != nil {
		return Window{}, false, err
	}
	for _, w := range windows {
		if w.ID == id {
			return w, true, nil
		}
	}
	return Window{}, false, nil
}

// FindWindowByName looks a window up by display name.
func (c *Client) FindWindowByName(ctx context.Context, name string) (Window, bool, error) {
	windows, err := c.ListWindows(ctx)
	if err != nil {
		return Window{}, false, err
	}
	for _, w := range windows {
		if w.Name == name {
			return w, true, nil
		}
	}
	return Window{}, false, nil
}

// CapturePane returns the pane text. Plain captures join wrapped lines (-J);
// color captures keep SGR escapes (-e) for the screenshot renderer.
func (c *Client) CapturePane(ctx context.Context, id string, color bool) (string, error) {
	args := []string{"capture-pane", "-p", "-t", id}
	if color {
		args = append(args, "-e")
	} else {
		args = append(args, "-J")
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w", err)
	}
	return string(out), nil
}

// SendText types text into the window's pane. Text goes literally (-l) so
// tmux never interprets it as key names. A leading bang switches the CLI
// into shell mode, which needs its own settle delay before the rest.
func (c *Client) SendText(ctx context.Context, id, text string, enter bool) error {
	if strings.HasPrefix(text, "!") {
		if _, err := c.run(ctx, "send-keys", "-t", id, "-l", "--", "!"); err != nil {
			return fmt.Errorf("tmux send-keys: %w", err)
		}
		c.sleep(ctx, bangGap)
		text = text[1:]
	}

	if text != "" {
		if _, err := c.run(ctx, "send-keys", "-t", id, "-l", "--", text); err != nil {
			return fmt.Errorf("tmux send-keys: %w", err)
		}
	}

	if enter {
		c.sleep(ctx, enterGap)
		if _, err := c.run(ctx, "send-keys", "-t", id, "Enter"); err != nil {
			return fmt.Errorf("tmux send-keys enter: %w", err)
		}
	}
	return nil
}

// SendKey sends one named key.
func (c *Client) SendKey(ctx context.Context, id, key string) error {
	switch key {
	case KeyUp, KeyDown, KeyLeft, KeyRight, KeyEnter, KeySpace, KeyTab, KeyEscape, KeyCtrlC:
	default:
		return fmt.Errorf("tmux: unsupported key %q", key)
	}
	if _, err := c.run(ctx, "send-keys", "-t", id, key); err != nil {
		return fmt.Errorf("tmux send-keys %s: %w", key, err)
	}
	return nil
}

// CreateWindow opens a window in cwd running the provider command. A name
// collision gets a numeric suffix so topic titles stay distinguishable.
func (c *Client) CreateWindow(ctx context.Context, cwd, name string, extraArgs []string) (Window, error) {
	if err := c.EnsureSession(ctx); err != nil {
		return Window{}, err
	}

	if name == "" {
		name = filepath.Base(cwd)
	}
	name, err := c.dedupeName(ctx, name)
	if err != nil {
		return Window{}, err
	}

	args := []string{
		"new-window", "-d",
		"-t", "=" + c.session,
		"-n", name,
		"-c", cwd,
		"-P", "-F", "#{window_id}",
		"--", c.provider,
	}
	args = append(args, extraArgs...)

	c.log.Info().Str("name", name).Str("cwd", cwd).Strs("extra", extraArgs).Msg("creating window")
	out, err := c.run(ctx, args...)
	if err != nil {
		return Window{}, fmt.Errorf("tmux new-window: %w", err)
	}

	id := strings.TrimSpace(string(out))
	if !IsWindowID(id) {
		return Window{}, fmt.Errorf("tmux new-window: unexpected output %q", id)
	}
	return Window{ID: id, Name: name, Path: cwd, Command: c.provider}, nil
}

// dedupeName suffixes name with -2, -3, ... until it collides with no live
// window.
func (c *Client) dedupeName(ctx context.Context, name string) (string, error) {
	windows, err := c.ListWindows(ctx)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(windows))
	for _, w := range windows {
		taken[w.Name] = true
	}

	if !taken[name] {
		return name, nil
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

// KillWindow destroys the window. Killing an already-dead window is not an
// error.
func (c *Client) KillWindow(ctx context.Context, id string) error {
	_, err := c.run(ctx, "kill-window", "-t", id)
	if err != nil && !IsWindowGone(err) {
		return fmt.Errorf("tmux kill-window: %w", err)
	}
	return nil
}

var _ Adapter = (*Client)(nil)
