package state

import (
	"github.com/colonyops/waggle/internal/core/tmux"
)

// ReconcileWindows rewrites persisted entries that reference windows which
// no longer exist. tmux assigns fresh @N ids when its server restarts, so a
// stale id is first re-resolved through its display name; only entries with
// no live match are dropped. Entries persisted under the old name-keyed
// scheme are migrated to ids the same way. Runs once per process; later
// calls are no-ops.
func (s *Store) ReconcileWindows(live []tmux.Window) {
	s.mu.Lock()
	if s.reconciled {
		s.mu.Unlock()
		return
	}
	s.reconciled = true

	liveByID := make(map[string]tmux.Window, len(live))
	liveByName := make(map[string]string, len(live))
	for _, w := range live {
		liveByID[w.ID] = w
		liveByName[w.Name] = w.ID
	}

	// remap holds key → live id, with "" meaning drop. Resolution reads the
	// original maps, so every key is resolved before any map is rebuilt.
	remap := map[string]string{}
	resolve := func(key string) {
		if _, done := remap[key]; done {
			return
		}
		if _, ok := liveByID[key]; ok {
			remap[key] = key
			return
		}
		name := s.names[key]
		if name == "" {
			name = s.windows[key].WindowName
		}
		if name == "" && !tmux.IsWindowID(key) {
			name = key // old key scheme stored the window name directly
		}
		if id, ok := liveByName[name]; ok && name != "" {
			remap[key] = id
			return
		}
		remap[key] = ""
	}

	for id := range s.windows {
		resolve(id)
	}
	for id := range s.names {
		resolve(id)
	}
	for _, wid := range s.bindings {
		resolve(wid)
	}
	for _, inner := range s.offsets {
		for wid := range inner {
			resolve(wid)
		}
	}

	var dropped, remapped int
	for key, id := range remap {
		switch {
		case id == "":
			dropped++
		case id != key:
			remapped++
		}
	}

	windows := make(map[string]WindowState, len(s.windows))
	for id, ws := range s.windows {
		nid := remap[id]
		if nid == "" {
			continue
		}
		if w, ok := liveByID[nid]; ok && w.Name != "" {
			ws.WindowName = w.Name
		}
		windows[nid] = ws
	}
	s.windows = windows

	names := make(map[string]string, len(s.names))
	for id := range s.names {
		nid := remap[id]
		if nid == "" {
			continue
		}
		names[nid] = liveByID[nid].Name
	}
	s.names = names

	bindings := make(map[ThreadKey]string, len(s.bindings))
	for key, wid := range s.bindings {
		nid := remap[wid]
		if nid == "" {
			continue
		}
		bindings[key] = nid
	}
	s.bindings = bindings

	for user, inner := range s.offsets {
		fresh := make(map[string]int64, len(inner))
		for wid, off := range inner {
			nid := remap[wid]
			if nid == "" {
				continue
			}
			// Two stale ids can land on one live window; keep the larger
			// offset so nothing already delivered is re-sent.
			if cur, ok := fresh[nid]; !ok || off > cur {
				fresh[nid] = off
			}
		}
		if len(fresh) == 0 {
			delete(s.offsets, user)
			continue
		}
		s.offsets[user] = fresh
	}

	s.rebuildIndexLocked()
	s.mu.Unlock()

	if dropped > 0 || remapped > 0 {
		s.log.Info().
			Int("remapped", remapped).
			Int("dropped", dropped).
			Msg("reconciled stale window ids")
	}
	s.saver.Schedule()
}
