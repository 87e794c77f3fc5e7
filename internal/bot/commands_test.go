package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/waggle/internal/core/config"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		cmd  string
		arg  string
		ok   bool
	}{
		{"/bind @1", "bind", "@1", true},
		{"/status", "status", "", true},
		{"/status@wagglebot", "status", "", true},
		{"/STATUS@WaggleBot", "status", "", true},
		{"/status@otherbot", "", "", false},
		{"/new /home/me/proj", "new", "/home/me/proj", true},
		{"/mute  ", "mute", "", true},
	}
	for _, tc := range cases {
		cmd, arg, ok := splitCommand(tc.in, "wagglebot")
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.cmd, cmd, "input %q", tc.in)
		assert.Equal(t, tc.arg, arg, "input %q", tc.in)
	}
}

func TestCmdBindByIDAndName(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))
	fx.tmux.AddWindow(tmuxWindow("@2", "web", "/tmp"))

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/bind @1")})
	wid, bound := fx.store.WindowForThread(userA, topicMain)
	require.True(t, bound)
	assert.Equal(t, "@1", wid)

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain+1, "/bind web")})
	wid, bound = fx.store.WindowForThread(userA, topicMain+1)
	require.True(t, bound)
	assert.Equal(t, "@2", wid)

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain+2, "/bind nope")})
	_, bound = fx.store.WindowForThread(userA, topicMain+2)
	assert.False(t, bound)
	sends := fx.platform.ops("send")
	require.NotEmpty(t, sends)
	assert.Contains(t, sends[len(sends)-1].Text, "No window matches")
}

func TestCmdUnbindKeepsWindow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))
	fx.bind(topicMain, "@1")

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/unbind")})

	_, bound := fx.store.WindowForThread(userA, topicMain)
	assert.False(t, bound)
	assert.Empty(t, fx.tmux.Killed)

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/unbind")})
	sends := fx.platform.ops("send")
	require.NotEmpty(t, sends)
	assert.Contains(t, sends[len(sends)-1].Text, "Nothing is bound")
}

func TestCmdMuteCycles(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))
	fx.bind(topicMain, "@1")

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/mute")})
	assert.Equal(t, config.NotifyErrorsOnly, fx.store.NotificationMode("@1"))

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/mute")})
	assert.Equal(t, config.NotifyMuted, fx.store.NotificationMode("@1"))

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/mute")})
	assert.Equal(t, config.NotifyAll, fx.store.NotificationMode("@1"))
}

func TestCmdStatusShowsDetailWithKeyboard(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))
	fx.tmux.SetPane("@1", statusPane("Pondering… (5s · esc to interrupt)"))
	fx.bind(topicMain, "@1")

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/status")})

	kbs := fx.platform.ops("sendKB")
	require.Len(t, kbs, 1)
	assert.Contains(t, kbs[0].Text, "Pondering")
	require.NotNil(t, kbs[0].KB)
	first := kbs[0].KB.InlineKeyboard[0][0]
	require.NotNil(t, first.CallbackData)
	assert.Equal(t, "st:ref", *first.CallbackData)
}

func TestStatusInterruptButton(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))
	fx.bind(topicMain, "@1")

	fx.bridge.handleCallback(ctx, press(topicMain, 5, "st:int"))

	require.Len(t, fx.tmux.Keys, 1)
	assert.Equal(t, "Escape", fx.tmux.Keys[0].Key)
	assert.Equal(t, "Sent Esc", fx.platform.lastAnswer())
}

func TestCmdNewValidation(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/new relative/path")})
	sends := fx.platform.ops("send")
	require.NotEmpty(t, sends)
	assert.Contains(t, sends[len(sends)-1].Text, "absolute path")

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/new /no/such/dir")})
	sends = fx.platform.ops("send")
	assert.Contains(t, sends[len(sends)-1].Text, "Not a directory")
}

func TestCmdNewCreatesAndBinds(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/new "+dir)})

	require.Len(t, fx.tmux.Creates, 1)
	assert.Equal(t, dir, fx.tmux.Creates[0].Cwd)

	wid, bound := fx.store.WindowForThread(userA, topicMain)
	require.True(t, bound)
	ws, ok := fx.store.WindowState(wid)
	require.True(t, ok)
	assert.Equal(t, dir, ws.Cwd)
}

func TestCmdCancelClearsPendingFlow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "pick something")})
	require.Len(t, fx.platform.ops("sendKB"), 1)

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/cancel")})
	assert.Nil(t, fx.bridge.userUI(userA))

	edits := fx.platform.ops("edit")
	require.NotEmpty(t, edits)
	assert.Contains(t, edits[len(edits)-1].Text, "Cancelled")
}

func TestCmdUsageReadsPanel(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))
	fx.bind(topicMain, "@1")
	fx.tmux.SetPane("@1", `  Settings:   Config   Usage
█ Session: 42% used
█ Week: 10h 12m remaining
  Esc to close
`)

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/usage")})

	assert.Equal(t, []string{"/usage"}, fx.tmux.SentTexts("@1"))
	require.Len(t, fx.tmux.Keys, 1, "dialog closed after capture")
	assert.Equal(t, "Escape", fx.tmux.Keys[0].Key)

	sends := fx.platform.ops("send")
	require.NotEmpty(t, sends)
	assert.Contains(t, sends[len(sends)-1].Text, "Session: 42% used")
}

func TestCmdResumeUnbound(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/resume")})
	sends := fx.platform.ops("send")
	require.NotEmpty(t, sends)
	assert.Contains(t, sends[len(sends)-1].Text, "Nothing is bound")
}

func TestCmdHelp(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/help")})
	sends := fx.platform.ops("send")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Text, "/bind")

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/frobnicate")})
	sends = fx.platform.ops("send")
	require.Len(t, sends, 2)
	assert.Contains(t, sends[1].Text, "Unknown command")
}

func TestUnlistedUserIgnored(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))

	msg := inbound(topicMain, "/bind @1")
	msg.From = &User{ID: 666}
	fx.bridge.dispatch(ctx, Update{Message: msg})

	assert.Empty(t, fx.platform.calls)
	_, bound := fx.store.WindowForThread(666, topicMain)
	assert.False(t, bound)
}
