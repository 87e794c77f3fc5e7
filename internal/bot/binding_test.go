package bot

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/waggle/internal/state"
)

func TestUnboundTextOpensPickerAndBinds(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "proj", "/tmp"))

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "fix the tests")})

	kbs := fx.platform.ops("sendKB")
	require.Len(t, kbs, 1)
	assert.Contains(t, kbs[0].Text, "Pick a window")

	fx.bridge.handleCallback(ctx, press(topicMain, kbs[0].MessageID, "wb:@1"))

	wid, bound := fx.store.WindowForThread(userA, topicMain)
	require.True(t, bound)
	assert.Equal(t, "@1", wid)
	assert.Equal(t, []string{"fix the tests"}, fx.tmux.SentTexts("@1"), "stash forwarded after bind")

	edits := fx.platform.ops("edit")
	require.NotEmpty(t, edits)
	assert.Contains(t, edits[len(edits)-1].Text, "Bound to window")
}

func TestUnboundTextFallsToBrowserWhenAllTaken(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "proj", "/tmp"))
	fx.bind(99, "@1") // the only window is claimed by another topic

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "hello")})

	kbs := fx.platform.ops("sendKB")
	require.Len(t, kbs, 1)
	assert.Contains(t, kbs[0].Text, "Pick a project directory")
}

func TestBoundTextForwards(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "proj", "/tmp"))
	fx.bind(topicMain, "@1")

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "run the linter")})

	assert.Equal(t, []string{"run the linter"}, fx.tmux.SentTexts("@1"))
	assert.Len(t, fx.platform.ops("typing"), 1)
}

func TestBangTextSpawnsBashCapture(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "proj", "/tmp"))
	fx.bind(topicMain, "@1")
	key := state.ThreadKey{UserID: userA, TopicID: topicMain}

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "!git status")})

	fx.bridge.mu.Lock()
	first := fx.bridge.bash[key]
	fx.bridge.mu.Unlock()
	require.NotNil(t, first, "capture registered for the thread")

	// A newer message cancels the old run; plain text leaves none behind.
	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "carry on")})

	fx.bridge.mu.Lock()
	second := fx.bridge.bash[key]
	fx.bridge.mu.Unlock()
	assert.Nil(t, second)
}

func TestUIGuardBlocksTextMidFlow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "proj", "/tmp"))

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "first")})
	require.Len(t, fx.platform.ops("sendKB"), 1, "picker opened")

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "second")})

	sends := fx.platform.ops("send")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Text, "Finish or cancel")
	assert.Empty(t, fx.tmux.SentTexts("@1"))
}

func TestDeadWindowOffersRecovery(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	cwd := t.TempDir()
	fx.bind(topicMain, "@9")
	fx.store.SetWindowState("@9", state.WindowState{Cwd: cwd, WindowName: "proj"})

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "are you there?")})

	kbs := fx.platform.ops("sendKB")
	require.Len(t, kbs, 1)
	assert.Contains(t, kbs[0].Text, "is gone")

	// Fresh recreates in the saved cwd and forwards the stash.
	fx.bridge.handleCallback(ctx, press(topicMain, kbs[0].MessageID, "rec:fresh"))

	creates := fx.tmux.Creates
	require.Len(t, creates, 1)
	assert.Equal(t, cwd, creates[0].Cwd)
	assert.Empty(t, creates[0].ExtraArgs)

	wid, bound := fx.store.WindowForThread(userA, topicMain)
	require.True(t, bound)
	assert.NotEqual(t, "@9", wid)
	assert.Equal(t, []string{"are you there?"}, fx.tmux.SentTexts(wid))
}

func TestRecoveryContinuePassesFlag(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	cwd := t.TempDir()
	fx.bind(topicMain, "@9")
	fx.store.SetWindowState("@9", state.WindowState{Cwd: cwd})

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "keep going")})
	kbs := fx.platform.ops("sendKB")
	require.Len(t, kbs, 1)

	fx.bridge.handleCallback(ctx, press(topicMain, kbs[0].MessageID, "rec:cont"))

	creates := fx.tmux.Creates
	require.Len(t, creates, 1)
	assert.Equal(t, []string{"--continue"}, creates[0].ExtraArgs)
}

func TestRecoveryResumeWithNoSessions(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	cwd := t.TempDir()
	fx.bind(topicMain, "@9")
	fx.store.SetWindowState("@9", state.WindowState{Cwd: cwd})

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "resume me")})
	kbs := fx.platform.ops("sendKB")
	require.Len(t, kbs, 1)

	fx.bridge.handleCallback(ctx, press(topicMain, kbs[0].MessageID, "rec:resume"))
	assert.Equal(t, "No past sessions found", fx.platform.lastAnswer())
}

func TestDeadWindowLostCwdFallsToBrowser(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.bind(topicMain, "@9")
	fx.store.SetWindowState("@9", state.WindowState{Cwd: "/no/such/dir"})

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "hello?")})

	_, bound := fx.store.WindowForThread(userA, topicMain)
	assert.False(t, bound, "stale binding dropped")

	kbs := fx.platform.ops("sendKB")
	require.Len(t, kbs, 1)
	assert.Contains(t, kbs[0].Text, "Pick a project directory")
}

func TestUserTopicCloseKillsWindow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "proj", "/tmp"))
	fx.bind(topicMain, "@1")

	msg := inbound(topicMain, "")
	msg.TopicClosed = &struct{}{}
	fx.bridge.dispatch(ctx, Update{Message: msg})

	assert.Equal(t, []string{"@1"}, fx.tmux.Killed)
	_, bound := fx.store.WindowForThread(userA, topicMain)
	assert.False(t, bound)
}

func TestAutoCloseSkipsKill(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "proj", "/tmp"))
	fx.bind(topicMain, "@1")
	key := state.ThreadKey{UserID: userA, TopicID: topicMain}

	fx.bridge.markAutoClosed(key)
	msg := inbound(topicMain, "")
	msg.TopicClosed = &struct{}{}
	fx.bridge.dispatch(ctx, Update{Message: msg})

	assert.Empty(t, fx.tmux.Killed, "self-inflicted close leaves the window running")
	_, bound := fx.store.WindowForThread(userA, topicMain)
	assert.False(t, bound)
}

func TestCreateAndBindWarnsWhenHookStaysSilent(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.bridge.hookWait = 40 * time.Millisecond
	fx.bridge.hookPoll = 5 * time.Millisecond
	ctx := context.Background()
	key := state.ThreadKey{UserID: userA, TopicID: topicMain}

	fx.bridge.createAndBind(ctx, groupChat, key, t.TempDir(), "api", nil, "first prompt")

	sends := fx.platform.ops("send")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Text, "Bound to window")

	require.Eventually(t, func() bool {
		for _, c := range fx.platform.ops("send") {
			if strings.Contains(c.Text, "waggle doctor") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "handshake warning lands in the topic")
}

func TestCreateAndBindQuietOnceHookReports(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.bridge.hookWait = 60 * time.Millisecond
	fx.bridge.hookPoll = 5 * time.Millisecond
	ctx := context.Background()
	key := state.ThreadKey{UserID: userA, TopicID: topicMain}
	cwd := t.TempDir()

	// The fake hands out @101 first; seed the map as if the hook already fired.
	raw := map[string]state.SessionMapEntry{
		"waggle:@101": {SessionID: "s-1", Cwd: cwd, WindowName: "api"},
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fx.cfg.SessionMapFile(), data, 0o644))

	fx.bridge.createAndBind(ctx, groupChat, key, cwd, "api", nil, "first prompt")

	time.Sleep(150 * time.Millisecond)
	for _, c := range fx.platform.ops("send") {
		assert.NotContains(t, c.Text, "waggle doctor")
	}
}
