package state

import (
	"context"
	"strings"
	"time"

	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/store/jsonfile"
)

// SessionMapEntry is one hook-written record: the conversation currently
// running inside one window. Keys in the file are "{tmux_session}:{window_id}";
// keys from before the id-keyed scheme used the window name instead.
type SessionMapEntry struct {
	SessionID      string `json:"session_id"`
	Cwd            string `json:"cwd"`
	WindowName     string `json:"window_name"`
	TranscriptPath string `json:"transcript_path"`
}

// IngestSessionMap reads the hook-written session map and folds entries for
// our tmux session into the window states, returning the window → entry
// projection for the monitor to diff.
//
// Window states absent from the map are purged, with one grace: an entry
// whose session id is still referenced by an old-format (name-keyed) map key
// survives while its window remains in live, since the hook has not re-fired
// since an upgrade rather than died. live nil means liveness is unknown and
// the grace always holds.
func (s *Store) IngestSessionMap(path, tmuxSession string, live map[string]bool) (map[string]SessionMapEntry, error) {
	var raw map[string]SessionMapEntry
	if _, err := jsonfile.Load(path, &raw); err != nil {
		return nil, err
	}

	prefix := tmuxSession + ":"
	projection := make(map[string]SessionMapEntry)
	oldFormatSids := make(map[string]bool)
	for key, entry := range raw {
		suffix, found := strings.CutPrefix(key, prefix)
		if !found {
			continue
		}
		if tmux.IsWindowID(suffix) {
			projection[suffix] = entry
		} else if entry.SessionID != "" {
			oldFormatSids[entry.SessionID] = true
		}
	}

	changed := false
	s.mu.Lock()
	for wid, e := range projection {
		ws := s.windows[wid]
		if ws.SessionID == e.SessionID && ws.Cwd == e.Cwd &&
			ws.WindowName == e.WindowName && ws.TranscriptPath == e.TranscriptPath {
			continue
		}
		ws.SessionID = e.SessionID
		ws.Cwd = e.Cwd
		ws.WindowName = e.WindowName
		ws.TranscriptPath = e.TranscriptPath
		s.windows[wid] = ws
		if e.WindowName != "" {
			s.names[wid] = e.WindowName
		}
		changed = true
	}
	for wid, ws := range s.windows {
		if _, ok := projection[wid]; ok {
			continue
		}
		if oldFormatSids[ws.SessionID] && (live == nil || live[wid]) {
			continue
		}
		delete(s.windows, wid)
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.saver.Schedule()
	}
	return projection, nil
}

// PruneSessionMap rewrites the session-map file without entries for windows
// that are no longer alive. Hook invocations merge into the same file from
// other processes, so the read-modify-write runs under the shared advisory
// lock.
func (s *Store) PruneSessionMap(path, tmuxSession string, live []tmux.Window) error {
	liveIDs := make(map[string]bool, len(live))
	liveNames := make(map[string]bool, len(live))
	for _, w := range live {
		liveIDs[w.ID] = true
		liveNames[w.Name] = true
	}

	lock, err := jsonfile.AcquireLock(path + ".lock")
	if err != nil {
		return err
	}
	defer lock.Release()

	var raw map[string]SessionMapEntry
	ok, err := jsonfile.Load(path, &raw)
	if err != nil || !ok {
		return err
	}

	prefix := tmuxSession + ":"
	changed := false
	for key := range raw {
		suffix, found := strings.CutPrefix(key, prefix)
		if !found {
			continue
		}
		alive := false
		if tmux.IsWindowID(suffix) {
			alive = liveIDs[suffix]
		} else {
			alive = liveNames[suffix] // old-format key, window name
		}
		if alive {
			continue
		}
		delete(raw, key)
		changed = true
	}
	if !changed {
		return nil
	}

	s.log.Debug().Str("path", path).Msg("pruned dead windows from session map")
	return jsonfile.Save(path, raw)
}

// WaitForSessionMapEntry polls the session map until an entry for windowID
// appears or the timeout elapses. Used after creating a window: the CLI's
// hook fires on its first prompt, so the entry can trail the window by
// seconds.
func (s *Store) WaitForSessionMapEntry(ctx context.Context, path, tmuxSession, windowID string, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		projection, err := s.IngestSessionMap(path, tmuxSession, nil)
		if err == nil {
			if _, ok := projection[windowID]; ok {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}
