// Package hook implements the session-map writer that the agent CLI invokes
// on every prompt. The CLI pipes a JSON payload to `waggle hook` on stdin;
// the writer resolves which tmux window it is running in and records the
// conversation there, so the bridge can map transcripts to windows without
// ever talking to the CLI directly.
package hook

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/state"
	"github.com/colonyops/waggle/internal/store/jsonfile"
	"github.com/colonyops/waggle/pkg/executil"
)

// paneFormat asks tmux for the session name, window id and window name of
// the pane the hook fired in, tab-separated.
const paneFormat = "#S\t#{window_id}\t#{window_name}"

// Payload is the hook event the CLI writes to stdin.
type Payload struct {
	SessionID      string `json:"session_id"`
	Cwd            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path"`
	HookEventName  string `json:"hook_event_name"`
}

// Writer merges hook payloads into the session-map file.
type Writer struct {
	exec    executil.Executor
	mapPath string
	log     zerolog.Logger
}

// NewWriter returns a Writer targeting the session map at mapPath.
func NewWriter(exec executil.Executor, mapPath string, log zerolog.Logger) *Writer {
	return &Writer{
		exec:    exec,
		mapPath: mapPath,
		log:     log.With().Str("component", "hook").Logger(),
	}
}

// Apply merges one payload into the session map. pane is the $TMUX_PANE
// value of the invoking shell. Malformed or out-of-context invocations
// return nil without writing: the hook runs inside the CLI's prompt path
// and must never surface an error there. Only lock and write failures are
// reported.
func (w *Writer) Apply(ctx context.Context, p Payload, pane string) error {
	if !validPayload(p) {
		w.log.Debug().Str("session", p.SessionID).Str("cwd", p.Cwd).Msg("invalid payload, ignoring")
		return nil
	}
	if pane == "" {
		w.log.Debug().Msg("no $TMUX_PANE, ignoring")
		return nil
	}

	loc, err := w.paneLocation(ctx, pane)
	if err != nil {
		w.log.Debug().Err(err).Str("pane", pane).Msg("pane lookup failed, ignoring")
		return nil
	}

	if err := w.merge(loc, p); err != nil {
		return fmt.Errorf("merge session map: %w", err)
	}
	w.log.Debug().
		Str("event", p.HookEventName).
		Str("window", loc.WindowID).
		Str("session", p.SessionID).
		Msg("session map updated")
	return nil
}

// validPayload accepts payloads with a parseable session UUID and an
// absolute cwd.
func validPayload(p Payload) bool {
	if _, err := uuid.Parse(p.SessionID); err != nil {
		return false
	}
	return filepath.IsAbs(p.Cwd)
}

// paneLocation names the tmux coordinates of one pane.
type paneLocation struct {
	Session    string
	WindowID   string
	WindowName string
}

func (w *Writer) paneLocation(ctx context.Context, pane string) (paneLocation, error) {
	out, err := w.exec.Run(ctx, "tmux", "display-message", "-p", "-t", pane, paneFormat)
	if err != nil {
		return paneLocation{}, fmt.Errorf("tmux display-message: %w", err)
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), "\t", 3)
	if len(parts) < 3 || !tmux.IsWindowID(parts[1]) {
		return paneLocation{}, fmt.Errorf("unexpected display-message output %q", strings.TrimSpace(string(out)))
	}
	return paneLocation{Session: parts[0], WindowID: parts[1], WindowName: parts[2]}, nil
}

// merge rewrites the session map with the new entry under the id-keyed
// scheme. Concurrent hook invocations and the monitor's pruner serialize on
// the sibling lock file; the write itself is atomic so readers that skip the
// lock never see a torn file.
func (w *Writer) merge(loc paneLocation, p Payload) error {
	lock, err := jsonfile.AcquireLock(w.mapPath + ".lock")
	if err != nil {
		return err
	}
	defer lock.Release()

	raw := map[string]state.SessionMapEntry{}
	if _, err := jsonfile.Load(w.mapPath, &raw); err != nil {
		w.log.Warn().Err(err).Msg("session map unreadable, rewriting")
		raw = map[string]state.SessionMapEntry{}
	}

	// An entry written by a pre-id-keyed hook for this window would shadow
	// ours during ingestion's grace check. Drop it before adding the new key.
	delete(raw, loc.Session+":"+loc.WindowName)

	raw[loc.Session+":"+loc.WindowID] = state.SessionMapEntry{
		SessionID:      p.SessionID,
		Cwd:            p.Cwd,
		WindowName:     loc.WindowName,
		TranscriptPath: p.TranscriptPath,
	}
	return jsonfile.Save(w.mapPath, raw)
}
