package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/waggle/internal/core/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state.json"), config.NotifyAll, zerolog.Nop())
}

func TestStore_BindAndLookup(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.Bind(100, 7, "@3")
	s.Bind(100, 9, "@5")
	s.Bind(200, 4, "@3")

	wid, ok := s.WindowForThread(100, 7)
	require.True(t, ok)
	assert.Equal(t, "@3", wid)

	_, ok = s.WindowForThread(100, 99)
	assert.False(t, ok)

	keys := s.BindingsForWindow("@3")
	require.Len(t, keys, 2)
	assert.Equal(t, ThreadKey{UserID: 100, TopicID: 7}, keys[0])
	assert.Equal(t, ThreadKey{UserID: 200, TopicID: 4}, keys[1])

	all := s.ThreadBindings()
	assert.Len(t, all, 3)
}

func TestStore_RebindReplacesWindow(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.Bind(100, 7, "@3")
	s.Bind(100, 7, "@8")

	wid, ok := s.WindowForThread(100, 7)
	require.True(t, ok)
	assert.Equal(t, "@8", wid)
	assert.Empty(t, s.BindingsForWindow("@3"))
}

func TestStore_UnbindKeepsGroupChat(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.Bind(100, 7, "@3")
	s.SetGroupChat(100, 7, -1001234)

	s.Unbind(100, 7)

	_, ok := s.WindowForThread(100, 7)
	assert.False(t, ok)
	assert.Equal(t, int64(-1001234), s.ResolveChatID(100, 7))

	s.PurgeTopic(100, 7)
	assert.Equal(t, int64(100), s.ResolveChatID(100, 7))
}

func TestStore_UsersForSession(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.SetWindowState("@3", WindowState{SessionID: "sess-a", Cwd: "/work"})
	s.SetWindowState("@5", WindowState{SessionID: "sess-b", Cwd: "/other"})
	s.Bind(100, 7, "@3")
	s.Bind(200, 2, "@3")
	s.Bind(100, 9, "@5")

	got := s.UsersForSession("sess-a")
	require.Len(t, got, 2)
	assert.Equal(t, Binding{UserID: 100, TopicID: 7, WindowID: "@3"}, got[0])
	assert.Equal(t, Binding{UserID: 200, TopicID: 2, WindowID: "@3"}, got[1])

	assert.Empty(t, s.UsersForSession("sess-unknown"))
}

func TestStore_ReadOffsets(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.Zero(t, s.ReadOffset(100, "@3"))

	s.SetReadOffset(100, "@3", 2048)
	assert.Equal(t, int64(2048), s.ReadOffset(100, "@3"))
	assert.Zero(t, s.ReadOffset(200, "@3"))
}

func TestStore_NotificationMode(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.Equal(t, config.NotifyAll, s.NotificationMode("@3"))

	next := s.CycleNotificationMode("@3")
	assert.Equal(t, config.NotifyErrorsOnly, next)
	assert.Equal(t, config.NotifyErrorsOnly, s.NotificationMode("@3"))

	assert.Equal(t, config.NotifyMuted, s.CycleNotificationMode("@3"))
	assert.Equal(t, config.NotifyAll, s.CycleNotificationMode("@3"))
}

func TestStore_DisplayNameSurvivesPurge(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.SetWindowState("@3", WindowState{SessionID: "sess-a", WindowName: "api"})
	assert.Equal(t, "api", s.DisplayName("@3"))

	s.RemoveWindow("@3")
	assert.Equal(t, "api", s.DisplayName("@3"))
}

func TestStore_DirFavorites(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.AddDirFavorite(100, "/work/api")
	s.AddDirFavorite(100, "/work/web")
	s.AddDirFavorite(100, "/work/api") // duplicate

	assert.Equal(t, []string{"/work/api", "/work/web"}, s.DirFavorites(100))

	s.RemoveDirFavorite(100, "/work/api")
	assert.Equal(t, []string{"/work/web"}, s.DirFavorites(100))
	assert.Empty(t, s.DirFavorites(200))
}

func TestStore_RoundTripStable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, config.NotifyAll, zerolog.Nop())

	s.SetWindowState("@3", WindowState{
		SessionID:      "11111111-1111-1111-1111-111111111111",
		Cwd:            "/work/api",
		WindowName:     "api",
		TranscriptPath: "/home/u/.claude/projects/-work-api/1111.jsonl",
	})
	s.CycleNotificationMode("@3")
	s.Bind(100, 7, "@3")
	s.Bind(200, 2, "@3")
	s.SetGroupChat(100, 7, -1001234)
	s.SetReadOffset(100, "@3", 4096)
	s.AddDirFavorite(100, "/work")
	s.Flush()

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	reloaded := New(path, config.NotifyAll, zerolog.Nop())
	reloaded.saveNow()

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	wid, ok := reloaded.WindowForThread(100, 7)
	require.True(t, ok)
	assert.Equal(t, "@3", wid)
	assert.Equal(t, int64(4096), reloaded.ReadOffset(100, "@3"))
	assert.Equal(t, config.NotifyErrorsOnly, reloaded.NotificationMode("@3"))
}

func TestStore_PersistedKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, config.NotifyAll, zerolog.Nop())
	s.Bind(100, 7, "@3")
	s.Flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	for _, key := range []string{
		"window_states", "user_window_offsets", "thread_bindings",
		"group_chat_ids", "window_display_names", "user_dir_favorites",
	} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
	// ids are serialized as strings
	assert.Contains(t, string(data), `"100"`)
	assert.Contains(t, string(data), `"7"`)
}

func TestStore_MalformedFileStartsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New(path, config.NotifyAll, zerolog.Nop())
	assert.True(t, s.NeedsMigration())
	assert.Empty(t, s.ThreadBindings())
	assert.Empty(t, s.Windows())
}

func TestStore_MissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.False(t, s.NeedsMigration())
	assert.Empty(t, s.ThreadBindings())
}
