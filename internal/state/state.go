// Package state is the durable hub for everything the bridge must remember
// across restarts: window states, topic bindings, per-user read offsets,
// group-chat routing, display names, and directory favorites. The Store owns
// all persisted maps exclusively; other components query and mutate through
// its methods and never hold references into the maps.
package state

import (
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/colonyops/waggle/internal/core/config"
	"github.com/colonyops/waggle/internal/store/jsonfile"
)

// ThreadKey identifies one forum topic owned by one user. TopicID 0 is the
// user's direct-message chat; Telegram assigns forum topics ids starting at
// 1, so 0 never collides with a real topic.
type ThreadKey struct {
	UserID  int64
	TopicID int64
}

// WindowState is the per-window record fed by the session map: which
// conversation the window currently hosts and where its transcript lives.
type WindowState struct {
	SessionID        string                  `json:"session_id"`
	Cwd              string                  `json:"cwd"`
	WindowName       string                  `json:"window_name"`
	TranscriptPath   string                  `json:"transcript_path"`
	NotificationMode config.NotificationMode `json:"notification_mode,omitempty"`
}

// Binding is one (user, topic) → window association.
type Binding struct {
	UserID   int64
	TopicID  int64
	WindowID string
}

// document is the on-disk shape. User and topic ids are serialized as
// strings because JSON object keys must be strings; they are restored to
// integers on load.
type document struct {
	WindowStates       map[string]WindowState       `json:"window_states"`
	UserWindowOffsets  map[string]map[string]int64  `json:"user_window_offsets"`
	ThreadBindings     map[string]map[string]string `json:"thread_bindings"`
	GroupChatIDs       map[string]map[string]int64  `json:"group_chat_ids"`
	WindowDisplayNames map[string]string            `json:"window_display_names"`
	UserDirFavorites   map[string][]string          `json:"user_dir_favorites"`
}

// Store keeps the persisted maps in memory and writes them back debounced
// through the atomic-rename pattern. A load failure leaves the maps empty
// and raises the needs-migration flag instead of failing startup.
type Store struct {
	path        string
	defaultMode config.NotificationMode
	log         zerolog.Logger
	saver       *jsonfile.Saver

	mu        sync.RWMutex
	windows   map[string]WindowState
	offsets   map[int64]map[string]int64 // user → window → read offset
	bindings  map[ThreadKey]string       // (user, topic) → window
	chats     map[ThreadKey]int64        // (user, topic) → group chat
	names     map[string]string          // window → display name
	favorites map[int64][]string         // user → starred directories

	// byWindow is the reverse binding index, rebuilt on load so inbound
	// window → topics lookups stay O(1).
	byWindow map[string][]ThreadKey

	reconciled     bool
	needsMigration bool
}

// New loads the store from path, or starts empty when the file is absent.
func New(path string, defaultMode config.NotificationMode, log zerolog.Logger) *Store {
	s := &Store{
		path:        path,
		defaultMode: defaultMode,
		log:         log.With().Str("component", "state").Logger(),
		windows:     map[string]WindowState{},
		offsets:     map[int64]map[string]int64{},
		bindings:    map[ThreadKey]string{},
		chats:       map[ThreadKey]int64{},
		names:       map[string]string{},
		favorites:   map[int64][]string{},
		byWindow:    map[string][]ThreadKey{},
	}
	s.saver = jsonfile.NewSaver(jsonfile.DebounceDelay, s.saveNow)
	s.load()
	return s
}

func (s *Store) load() {
	var doc document
	ok, err := jsonfile.Load(s.path, &doc)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("state file unreadable, starting empty")
		s.needsMigration = true
		return
	}
	if !ok {
		return
	}

	for id, ws := range doc.WindowStates {
		s.windows[id] = ws
	}
	for uid, inner := range doc.UserWindowOffsets {
		user, err := strconv.ParseInt(uid, 10, 64)
		if err != nil {
			continue
		}
		m := make(map[string]int64, len(inner))
		for wid, off := range inner {
			m[wid] = off
		}
		s.offsets[user] = m
	}
	for uid, inner := range doc.ThreadBindings {
		user, err := strconv.ParseInt(uid, 10, 64)
		if err != nil {
			continue
		}
		for tid, wid := range inner {
			topic, err := strconv.ParseInt(tid, 10, 64)
			if err != nil {
				continue
			}
			s.bindings[ThreadKey{UserID: user, TopicID: topic}] = wid
		}
	}
	for uid, inner := range doc.GroupChatIDs {
		user, err := strconv.ParseInt(uid, 10, 64)
		if err != nil {
			continue
		}
		for tid, chat := range inner {
			topic, err := strconv.ParseInt(tid, 10, 64)
			if err != nil {
				continue
			}
			s.chats[ThreadKey{UserID: user, TopicID: topic}] = chat
		}
	}
	for id, name := range doc.WindowDisplayNames {
		s.names[id] = name
	}
	for uid, dirs := range doc.UserDirFavorites {
		user, err := strconv.ParseInt(uid, 10, 64)
		if err != nil {
			continue
		}
		s.favorites[user] = append([]string(nil), dirs...)
	}
	s.rebuildIndexLocked()
}

// snapshotLocked builds the on-disk document. Callers hold at least a read
// lock. Inner maps are freshly allocated so the marshal can run unlocked.
func (s *Store) snapshotLocked() document {
	doc := document{
		WindowStates:       map[string]WindowState{},
		UserWindowOffsets:  map[string]map[string]int64{},
		ThreadBindings:     map[string]map[string]string{},
		GroupChatIDs:       map[string]map[string]int64{},
		WindowDisplayNames: map[string]string{},
		UserDirFavorites:   map[string][]string{},
	}
	for id, ws := range s.windows {
		doc.WindowStates[id] = ws
	}
	for user, inner := range s.offsets {
		if len(inner) == 0 {
			continue
		}
		m := make(map[string]int64, len(inner))
		for wid, off := range inner {
			m[wid] = off
		}
		doc.UserWindowOffsets[strconv.FormatInt(user, 10)] = m
	}
	for key, wid := range s.bindings {
		uid := strconv.FormatInt(key.UserID, 10)
		m := doc.ThreadBindings[uid]
		if m == nil {
			m = map[string]string{}
			doc.ThreadBindings[uid] = m
		}
		m[strconv.FormatInt(key.TopicID, 10)] = wid
	}
	for key, chat := range s.chats {
		uid := strconv.FormatInt(key.UserID, 10)
		m := doc.GroupChatIDs[uid]
		if m == nil {
			m = map[string]int64{}
			doc.GroupChatIDs[uid] = m
		}
		m[strconv.FormatInt(key.TopicID, 10)] = chat
	}
	for id, name := range s.names {
		doc.WindowDisplayNames[id] = name
	}
	for user, dirs := range s.favorites {
		if len(dirs) == 0 {
			continue
		}
		doc.UserDirFavorites[strconv.FormatInt(user, 10)] = append([]string(nil), dirs...)
	}
	return doc
}

func (s *Store) saveNow() {
	s.mu.RLock()
	doc := s.snapshotLocked()
	s.mu.RUnlock()

	if err := jsonfile.Save(s.path, doc); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("state save failed")
	}
}

// mutate runs fn under the write lock and schedules a debounced save.
func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	s.saver.Schedule()
}

// Flush writes any pending state synchronously. Called on shutdown.
func (s *Store) Flush() {
	s.saver.Flush()
}

// NeedsMigration reports whether the state file existed but could not be
// parsed, meaning the maps were reset.
func (s *Store) NeedsMigration() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.needsMigration
}

func (s *Store) rebuildIndexLocked() {
	s.byWindow = make(map[string][]ThreadKey, len(s.bindings))
	for key, wid := range s.bindings {
		s.byWindow[wid] = append(s.byWindow[wid], key)
	}
	for _, keys := range s.byWindow {
		sortThreadKeys(keys)
	}
}

func (s *Store) dropFromIndexLocked(windowID string, key ThreadKey) {
	keys := s.byWindow[windowID]
	for i, k := range keys {
		if k == key {
			s.byWindow[windowID] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(s.byWindow[windowID]) == 0 {
		delete(s.byWindow, windowID)
	}
}

// Bind associates a topic with a window, replacing any previous binding for
// the same (user, topic).
func (s *Store) Bind(userID, topicID int64, windowID string) {
	s.mutate(func() {
		key := ThreadKey{UserID: userID, TopicID: topicID}
		if old, ok := s.bindings[key]; ok {
			s.dropFromIndexLocked(old, key)
		}
		s.bindings[key] = windowID
		s.byWindow[windowID] = append(s.byWindow[windowID], key)
		sortThreadKeys(s.byWindow[windowID])
	})
}

// Unbind removes the topic's window association. The group-chat mapping is
// kept so a later rebind in the same topic still routes to the owning chat.
func (s *Store) Unbind(userID, topicID int64) {
	s.mutate(func() {
		key := ThreadKey{UserID: userID, TopicID: topicID}
		wid, ok := s.bindings[key]
		if !ok {
			return
		}
		delete(s.bindings, key)
		s.dropFromIndexLocked(wid, key)
	})
}

// PurgeTopic removes every persisted trace of a deleted topic: the binding
// and the chat routing entry.
func (s *Store) PurgeTopic(userID, topicID int64) {
	s.mutate(func() {
		key := ThreadKey{UserID: userID, TopicID: topicID}
		if wid, ok := s.bindings[key]; ok {
			delete(s.bindings, key)
			s.dropFromIndexLocked(wid, key)
		}
		delete(s.chats, key)
	})
}

// WindowForThread returns the window bound to (user, topic).
func (s *Store) WindowForThread(userID, topicID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wid, ok := s.bindings[ThreadKey{UserID: userID, TopicID: topicID}]
	return wid, ok
}

// ThreadBindings returns a sorted copy of all bindings.
func (s *Store) ThreadBindings() []Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Binding, 0, len(s.bindings))
	for key, wid := range s.bindings {
		out = append(out, Binding{UserID: key.UserID, TopicID: key.TopicID, WindowID: wid})
	}
	sortBindings(out)
	return out
}

// BindingsForWindow returns the (user, topic) pairs bound to a window.
func (s *Store) BindingsForWindow(windowID string) []ThreadKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ThreadKey(nil), s.byWindow[windowID]...)
}

// UsersForSession returns every binding whose window currently hosts the
// session. Scanned in memory; bounded by the number of bindings.
func (s *Store) UsersForSession(sessionID string) []Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Binding
	for wid, ws := range s.windows {
		if ws.SessionID != sessionID {
			continue
		}
		for _, key := range s.byWindow[wid] {
			out = append(out, Binding{UserID: key.UserID, TopicID: key.TopicID, WindowID: wid})
		}
	}
	sortBindings(out)
	return out
}

// SetGroupChat records the group chat that owns (user, topic).
func (s *Store) SetGroupChat(userID, topicID, chatID int64) {
	s.mutate(func() {
		s.chats[ThreadKey{UserID: userID, TopicID: topicID}] = chatID
	})
}

// ResolveChatID returns the chat to send to for (user, topic): the owning
// group chat when known, otherwise the user's DM chat (chat id == user id).
func (s *Store) ResolveChatID(userID, topicID int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if chat, ok := s.chats[ThreadKey{UserID: userID, TopicID: topicID}]; ok {
		return chat
	}
	return userID
}

// ReadOffset returns how far into the window's transcript the user has seen.
func (s *Store) ReadOffset(userID int64, windowID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsets[userID][windowID]
}

// SetReadOffset records the user's read position in the window's transcript.
func (s *Store) SetReadOffset(userID int64, windowID string, offset int64) {
	s.mutate(func() {
		m := s.offsets[userID]
		if m == nil {
			m = map[string]int64{}
			s.offsets[userID] = m
		}
		m[windowID] = offset
	})
}

// WindowState returns the window's record.
func (s *Store) WindowState(windowID string) (WindowState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.windows[windowID]
	return ws, ok
}

// SetWindowState replaces the window's record and keeps the display-name map
// in sync.
func (s *Store) SetWindowState(windowID string, ws WindowState) {
	s.mutate(func() {
		s.windows[windowID] = ws
		if ws.WindowName != "" {
			s.names[windowID] = ws.WindowName
		}
	})
}

// RemoveWindow drops the window's record. The display-name entry is kept so
// id → name lookups stay valid briefly after a purge.
func (s *Store) RemoveWindow(windowID string) {
	s.mutate(func() {
		delete(s.windows, windowID)
	})
}

// Windows returns a copy of all window records.
func (s *Store) Windows() map[string]WindowState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]WindowState, len(s.windows))
	for id, ws := range s.windows {
		out[id] = ws
	}
	return out
}

// DisplayName returns the window's display name, falling back from the
// dedicated name map to the window record.
func (s *Store) DisplayName(windowID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.names[windowID]; ok && name != "" {
		return name
	}
	return s.windows[windowID].WindowName
}

// SetDisplayName records a window rename.
func (s *Store) SetDisplayName(windowID, name string) {
	s.mutate(func() {
		s.names[windowID] = name
		if ws, ok := s.windows[windowID]; ok && ws.WindowName != name {
			ws.WindowName = name
			s.windows[windowID] = ws
		}
	})
}

// NotificationMode returns the window's mode, or the configured default when
// unset.
func (s *Store) NotificationMode(windowID string) config.NotificationMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ws, ok := s.windows[windowID]; ok && ws.NotificationMode.IsValid() {
		return ws.NotificationMode
	}
	return s.defaultMode
}

// CycleNotificationMode advances the window's mode (all → errors_only →
// muted → all) and returns the new value.
func (s *Store) CycleNotificationMode(windowID string) config.NotificationMode {
	var next config.NotificationMode
	s.mutate(func() {
		ws := s.windows[windowID]
		cur := ws.NotificationMode
		if !cur.IsValid() {
			cur = s.defaultMode
		}
		next = cur.Next()
		ws.NotificationMode = next
		s.windows[windowID] = ws
	})
	return next
}

// DirFavorites returns the user's starred directories in insertion order.
func (s *Store) DirFavorites(userID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.favorites[userID]...)
}

// AddDirFavorite stars a directory for the user. Duplicates are ignored.
func (s *Store) AddDirFavorite(userID int64, dir string) {
	s.mutate(func() {
		for _, d := range s.favorites[userID] {
			if d == dir {
				return
			}
		}
		s.favorites[userID] = append(s.favorites[userID], dir)
	})
}

// RemoveDirFavorite unstars a directory for the user.
func (s *Store) RemoveDirFavorite(userID int64, dir string) {
	s.mutate(func() {
		dirs := s.favorites[userID]
		for i, d := range dirs {
			if d == dir {
				s.favorites[userID] = append(dirs[:i], dirs[i+1:]...)
				break
			}
		}
		if len(s.favorites[userID]) == 0 {
			delete(s.favorites, userID)
		}
	})
}

func sortThreadKeys(keys []ThreadKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].TopicID < keys[j].TopicID
	})
}

func sortBindings(bindings []Binding) {
	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].UserID != bindings[j].UserID {
			return bindings[i].UserID < bindings[j].UserID
		}
		if bindings[i].TopicID != bindings[j].TopicID {
			return bindings[i].TopicID < bindings[j].TopicID
		}
		return bindings[i].WindowID < bindings[j].WindowID
	})
}
