// Package monitor tails provider transcripts for the windows of one tmux
// session and turns appended lines into normalized records for delivery.
// It owns the read offsets: each transcript is consumed exactly once, from
// the byte where tracking started, surviving restarts via a small state file.
package monitor

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/waggle/internal/core/logging"
	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/core/transcript"
	"github.com/colonyops/waggle/internal/state"
	"github.com/colonyops/waggle/internal/store/jsonfile"
)

// DefaultInterval is the transcript poll cadence when none is configured.
const DefaultInterval = 2 * time.Second

// Config carries the paths and cadence the monitor works with.
type Config struct {
	SessionMapPath string
	StatePath      string
	ProjectsDir    string
	TmuxSession    string
	Interval       time.Duration
}

// RecordsFunc receives the records parsed from one session's transcript, in
// transcript order, attributed to the window currently hosting the session.
// Offset is the byte position past the last consumed line, for receivers
// that persist per-user read positions.
type RecordsFunc func(ctx context.Context, windowID, sessionID string, records []transcript.Record, offset int64)

// NewWindowFunc fires once for each window that appears after the baseline
// cycle and has no thread bound to it. The session map entry is zero when
// the window's hook has not reported yet.
type NewWindowFunc func(ctx context.Context, w tmux.Window, entry state.SessionMapEntry)

// trackedSession is the per-session tail state. Offset only ever advances
// past newline-terminated bytes, so a torn write is re-read next cycle.
type trackedSession struct {
	SessionID string `json:"session_id"`
	FilePath  string `json:"file_path"`
	Offset    int64  `json:"last_byte_offset"`

	lastSize  int64
	lastMtime time.Time
}

type stateDoc struct {
	Tracked map[string]*trackedSession `json:"tracked_sessions"`
}

// Monitor polls the session map and live windows, resolves each active
// session's transcript, and tails it incrementally.
type Monitor struct {
	cfg   Config
	store *state.Store
	tmux  tmux.Adapter
	log   zerolog.Logger

	// OnRecords and OnNewWindow must be set before Run.
	OnRecords   RecordsFunc
	OnNewWindow NewWindowFunc

	tracked  map[string]*trackedSession
	pending  map[string]map[string]transcript.PendingTool
	seen     map[string]bool
	baseline bool
}

// New builds a Monitor over the given store and tmux adapter.
func New(cfg Config, st *state.Store, tm tmux.Adapter, log zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Monitor{
		cfg:     cfg,
		store:   st,
		tmux:    tm,
		log:     log.With().Str("component", "monitor").Logger(),
		tracked: make(map[string]*trackedSession),
		pending: make(map[string]map[string]transcript.PendingTool),
		seen:    make(map[string]bool),
	}
}

// Run polls until ctx is done. A watcher on the session map wakes the loop
// early when a hook fires, so new conversations are picked up before the
// next tick.
func (m *Monitor) Run(ctx context.Context) error {
	m.loadTracked()

	var wake <-chan struct{}
	if watcher, err := jsonfile.WatchFile(m.cfg.SessionMapPath); err != nil {
		m.log.Debug().Err(err).Msg("session map watch unavailable, polling only")
	} else {
		wake = watcher.Changes()
		defer watcher.Close()
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.cycle(ctx)
		case <-wake:
			m.cycle(ctx)
		}
	}
}

// cycle runs one monitor pass: ingest the session map, announce new windows,
// retire sessions whose window closed or moved on, and tail the rest.
func (m *Monitor) cycle(ctx context.Context) {
	live, err := m.tmux.ListWindows(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("listing windows failed")
		return
	}
	m.store.ReconcileWindows(live)

	liveSet := make(map[string]bool, len(live))
	for _, w := range live {
		liveSet[w.ID] = true
	}

	projection, err := m.store.IngestSessionMap(m.cfg.SessionMapPath, m.cfg.TmuxSession, liveSet)
	if err != nil {
		m.log.Warn().Err(err).Msg("session map unreadable")
		projection = nil
	}
	for wid := range projection {
		if !liveSet[wid] {
			delete(projection, wid)
		}
	}

	m.announceNew(ctx, live, liveSet, projection)

	// Sessions drop out of tracking when no live window hosts them anymore:
	// the window closed, or /new swapped in a fresh conversation.
	active := make(map[string]string, len(projection))
	for wid, e := range projection {
		if e.SessionID != "" {
			active[e.SessionID] = wid
		}
	}
	changed := false
	for sid := range m.tracked {
		if _, ok := active[sid]; !ok {
			delete(m.tracked, sid)
			delete(m.pending, sid)
			changed = true
		}
	}

	for sid, wid := range active {
		sctx := logging.WithSessionID(logging.WithWindowID(ctx, wid), sid)
		if m.tailSession(sctx, sid, wid, projection[wid]) {
			changed = true
		}
	}
	if changed {
		m.persistTracked()
	}

	if err := m.store.PruneSessionMap(m.cfg.SessionMapPath, m.cfg.TmuxSession, live); err != nil {
		m.log.Debug().Err(err).Msg("session map prune failed")
	}
}

// announceNew fires OnNewWindow for unbound windows that were not present
// in any earlier cycle. The first cycle only establishes the baseline, so a
// restart does not re-announce everything already running.
func (m *Monitor) announceNew(ctx context.Context, live []tmux.Window, liveSet map[string]bool, projection map[string]state.SessionMapEntry) {
	for _, w := range live {
		if m.seen[w.ID] {
			continue
		}
		m.seen[w.ID] = true
		if !m.baseline || m.OnNewWindow == nil {
			continue
		}
		if len(m.store.BindingsForWindow(w.ID)) > 0 {
			continue
		}
		m.OnNewWindow(ctx, w, projection[w.ID])
	}
	for id := range m.seen {
		if !liveSet[id] {
			delete(m.seen, id)
		}
	}
	m.baseline = true
}

// tailSession stats one session's transcript and parses any bytes appended
// since the last pass. Reports whether tracked state changed.
func (m *Monitor) tailSession(ctx context.Context, sid, windowID string, entry state.SessionMapEntry) bool {
	ts := m.tracked[sid]

	path := entry.TranscriptPath
	if path == "" && ts != nil {
		path = ts.FilePath
	}
	if path == "" {
		path, _ = transcript.FindSessionFile(m.cfg.ProjectsDir, sid, entry.Cwd)
	}
	if path == "" {
		return false
	}

	fi, err := os.Stat(path)
	if err != nil {
		// The hook can report before the CLI creates the file.
		return false
	}

	if ts == nil {
		// First sight: start at EOF. History predating the binding is the
		// terminal's business, not the bridge's.
		m.tracked[sid] = &trackedSession{
			SessionID: sid,
			FilePath:  path,
			Offset:    fi.Size(),
			lastSize:  fi.Size(),
			lastMtime: fi.ModTime(),
		}
		m.log.Info().Ctx(ctx).Str("path", path).Int64("offset", fi.Size()).Msg("tracking session")
		return true
	}

	if filepath.Clean(path) != filepath.Clean(ts.FilePath) {
		m.log.Warn().Ctx(ctx).Str("old", ts.FilePath).Str("new", path).Msg("transcript moved, resetting offset")
		ts.FilePath = path
		ts.Offset = fi.Size()
		ts.lastSize, ts.lastMtime = fi.Size(), fi.ModTime()
		return true
	}

	if fi.Size() < ts.Offset {
		m.log.Warn().Ctx(ctx).Msg("transcript truncated, resetting offset")
		ts.Offset = fi.Size()
		ts.lastSize, ts.lastMtime = fi.Size(), fi.ModTime()
		return true
	}

	if fi.Size() == ts.lastSize && fi.ModTime().Equal(ts.lastMtime) {
		return false
	}
	ts.lastSize, ts.lastMtime = fi.Size(), fi.ModTime()
	if fi.Size() == ts.Offset {
		return false
	}

	buf, err := readFrom(path, ts.Offset)
	if err != nil {
		m.log.Warn().Ctx(ctx).Err(err).Msg("transcript read failed")
		return false
	}

	consumed, entries := m.decodeComplete(ctx, buf)
	if consumed == 0 {
		return false
	}
	ts.Offset += int64(consumed)

	records, pend := transcript.Parse(entries, m.pending[sid])
	m.pending[sid] = pend
	if len(records) > 0 && m.OnRecords != nil {
		m.OnRecords(ctx, windowID, sid, records, ts.Offset)
	}
	return true
}

// decodeComplete decodes newline-terminated lines from buf and reports how
// many bytes were consumed. A trailing fragment without a newline is a write
// in progress: it stays unconsumed and is retried once terminated. A
// terminated line that fails to decode is garbage: logged and skipped.
func (m *Monitor) decodeComplete(ctx context.Context, buf []byte) (int, []transcript.Entry) {
	var entries []transcript.Entry
	consumed := 0
	for {
		i := bytes.IndexByte(buf[consumed:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(buf[consumed : consumed+i])
		consumed += i + 1
		if len(line) == 0 {
			continue
		}
		e, err := transcript.DecodeLine(line)
		if err != nil {
			m.log.Warn().Ctx(ctx).Err(err).Int("bytes", len(line)).Msg("skipping malformed transcript line")
			continue
		}
		entries = append(entries, e)
	}
	return consumed, entries
}

func readFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// loadTracked restores persisted offsets. Sessions whose transcript vanished
// while we were down are dropped here; sessions gone from the session map
// are swept on the first cycle.
func (m *Monitor) loadTracked() {
	var doc stateDoc
	ok, err := jsonfile.Load(m.cfg.StatePath, &doc)
	if err != nil {
		m.log.Warn().Err(err).Msg("monitor state unreadable, starting fresh")
		return
	}
	if !ok {
		return
	}
	for sid, ts := range doc.Tracked {
		if ts == nil || ts.SessionID == "" || ts.FilePath == "" {
			continue
		}
		if _, err := os.Stat(ts.FilePath); err != nil {
			continue
		}
		m.tracked[sid] = ts
	}
	m.log.Debug().Int("sessions", len(m.tracked)).Msg("restored tracked sessions")
}

func (m *Monitor) persistTracked() {
	if err := jsonfile.Save(m.cfg.StatePath, stateDoc{Tracked: m.tracked}); err != nil {
		m.log.Warn().Err(err).Msg("persisting monitor state failed")
	}
}
