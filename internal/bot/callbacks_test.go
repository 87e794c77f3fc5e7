package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	t.Parallel()

	valid := map[string]CallbackAction{
		"db:cd:3":   {Kind: "db", Arg: "cd:3"},
		"db:up":     {Kind: "db", Arg: "up"},
		"wb:@5":     {Kind: "wb", Arg: "@5"},
		"wb:cancel": {Kind: "wb", Arg: "cancel"},
		"rec:fresh": {Kind: "rec", Arg: "fresh"},
		"res:pg:1":  {Kind: "res", Arg: "pg:1"},
		"aq:up":     {Kind: "aq", Arg: "up"},
		"kb:enter":  {Kind: "kb", Arg: "enter"},
		"ss:ref:":   {Kind: "ss", Arg: "ref:"},
		"st:ref":    {Kind: "st", Arg: "ref"},
		"sess:@12":  {Kind: "sess", Arg: "@12"},
		"hp:2":      {Kind: "hp", Arg: "2"},
		"hn:0":      {Kind: "hn", Arg: "0"},
	}
	for data, want := range valid {
		got, ok := ParseCallback(data)
		require.True(t, ok, "data %q", data)
		assert.Equal(t, want, got, "data %q", data)
	}

	for _, data := range []string{"", "x", ":", ":up", "zz:1", "db", "history:2"} {
		_, ok := ParseCallback(data)
		assert.False(t, ok, "data %q should be rejected", data)
	}
}

func TestSplitOp(t *testing.T) {
	t.Parallel()

	op, arg := splitOp("cd:3")
	assert.Equal(t, "cd", op)
	assert.Equal(t, "3", arg)

	op, arg = splitOp("up")
	assert.Equal(t, "up", op)
	assert.Empty(t, arg)
}

func TestCallbackUnknownKindToasts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.bridge.handleCallback(context.Background(), press(topicMain, 1, "zz:wat"))
	assert.Equal(t, "Invalid data", fx.platform.lastAnswer())
}

func TestCallbackStaleTopic(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()
	fx.tmux.AddWindow(tmuxWindow("@1", "proj", "/tmp"))

	// Text in an unbound topic opens the window picker there.
	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "hello")})
	require.Len(t, fx.platform.ops("sendKB"), 1)

	// The same button pressed from another topic is stale.
	fx.bridge.handleCallback(ctx, press(topicMain+1, 1, "wb:@1"))
	assert.Equal(t, "Stale (topic mismatch)", fx.platform.lastAnswer())

	// And so is a kind the pending flow does not own.
	fx.bridge.handleCallback(ctx, press(topicMain, 1, "db:up"))
	assert.Equal(t, "Stale (topic mismatch)", fx.platform.lastAnswer())
}

func TestCallbackAlwaysAnswered(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	for _, data := range []string{"aq:up", "st:ref", "hp:1", "sess:nope", "ss:ref:", "kb:up"} {
		fx.bridge.handleCallback(ctx, press(topicMain, 1, data))
	}
	assert.Len(t, fx.platform.answers, 6, "every press answers its query")
}
