package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/waggle/internal/core/tmux"
)

func TestReconcileWindows_RemapsByDisplayName(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.SetWindowState("@17", WindowState{SessionID: "sess-a", Cwd: "/work/proj", WindowName: "proj"})
	s.Bind(100, 7, "@17")
	s.SetReadOffset(100, "@17", 9000)

	s.ReconcileWindows([]tmux.Window{{ID: "@3", Name: "proj", Path: "/work/proj"}})

	wid, ok := s.WindowForThread(100, 7)
	require.True(t, ok)
	assert.Equal(t, "@3", wid)

	_, ok = s.WindowState("@17")
	assert.False(t, ok)
	ws, ok := s.WindowState("@3")
	require.True(t, ok)
	assert.Equal(t, "sess-a", ws.SessionID)
	assert.Equal(t, "proj", ws.WindowName)

	assert.Equal(t, int64(9000), s.ReadOffset(100, "@3"))
	assert.Zero(t, s.ReadOffset(100, "@17"))
	assert.Equal(t, "proj", s.DisplayName("@3"))
	assert.Empty(t, s.DisplayName("@17"))
}

func TestReconcileWindows_DropsUnresolvable(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.SetWindowState("@17", WindowState{SessionID: "sess-a", WindowName: "gone"})
	s.Bind(100, 7, "@17")
	s.SetReadOffset(100, "@17", 100)

	s.ReconcileWindows([]tmux.Window{{ID: "@3", Name: "other"}})

	_, ok := s.WindowForThread(100, 7)
	assert.False(t, ok)
	assert.Empty(t, s.Windows())
	assert.Zero(t, s.ReadOffset(100, "@17"))
}

func TestReconcileWindows_MigratesNameKeyedEntries(t *testing.T) {
	t.Parallel()

	// Older releases keyed maps by window name instead of window id.
	s := newTestStore(t)
	s.SetWindowState("proj", WindowState{SessionID: "sess-a", Cwd: "/work/proj"})
	s.Bind(100, 7, "proj")

	s.ReconcileWindows([]tmux.Window{{ID: "@4", Name: "proj"}})

	wid, ok := s.WindowForThread(100, 7)
	require.True(t, ok)
	assert.Equal(t, "@4", wid)

	ws, ok := s.WindowState("@4")
	require.True(t, ok)
	assert.Equal(t, "sess-a", ws.SessionID)
	_, ok = s.WindowState("proj")
	assert.False(t, ok)
}

func TestReconcileWindows_KeepsLiveIDs(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.SetWindowState("@3", WindowState{SessionID: "sess-a", WindowName: "api"})
	s.Bind(100, 7, "@3")

	s.ReconcileWindows([]tmux.Window{{ID: "@3", Name: "api"}})

	wid, ok := s.WindowForThread(100, 7)
	require.True(t, ok)
	assert.Equal(t, "@3", wid)
}

func TestReconcileWindows_RunsOnce(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.SetWindowState("@3", WindowState{SessionID: "sess-a", WindowName: "api"})
	s.ReconcileWindows([]tmux.Window{{ID: "@3", Name: "api"}})

	// A later call with an empty live set must not wipe anything: the
	// reconciliation window is startup only.
	s.ReconcileWindows(nil)

	_, ok := s.WindowState("@3")
	assert.True(t, ok)
}

func TestReconcileWindows_MergesOffsetsOnCollision(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.SetWindowState("@17", WindowState{WindowName: "proj"})
	s.SetReadOffset(100, "@17", 500)
	s.SetReadOffset(100, "@3", 900)

	s.ReconcileWindows([]tmux.Window{{ID: "@3", Name: "proj"}})

	assert.Equal(t, int64(900), s.ReadOffset(100, "@3"))
}
