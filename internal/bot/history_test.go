package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colonyops/waggle/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTranscript writes n assistant text entries as a JSONL transcript and
// returns its path.
func writeTranscript(t *testing.T, n int) string {
	t.Helper()
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb,
			`{"type":"assistant","timestamp":"2026-01-02T15:%02d:00Z","message":{"role":"assistant","content":[{"type":"text","text":"answer-%02d"}]}}`+"\n",
			i%60, i)
	}
	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestCmdHistoryRendersLatestPage(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.bind(topicMain, "@1")
	fx.store.SetWindowState("@1", state.WindowState{
		WindowName:     "api",
		TranscriptPath: writeTranscript(t, 2),
	})

	fx.bridge.dispatch(context.Background(), Update{Message: inbound(topicMain, "/history")})

	sends := fx.platform.ops("send")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Text, "History 1–2 of 2")
	assert.Contains(t, sends[0].Text, "🤖 answer-01")
	assert.Contains(t, sends[0].Text, "🤖 answer-02")
	assert.Empty(t, fx.platform.ops("sendKB"), "short transcripts need no pager")
}

func TestCmdHistoryPaging(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.bind(topicMain, "@1")
	fx.store.SetWindowState("@1", state.WindowState{
		WindowName:     "api",
		TranscriptPath: writeTranscript(t, 12),
	})

	ctx := context.Background()
	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/history")})

	kbs := fx.platform.ops("sendKB")
	require.Len(t, kbs, 1)
	assert.Contains(t, kbs[0].Text, "History 8–12 of 12")
	assert.Contains(t, kbs[0].Text, "answer-12")

	fx.bridge.handleCallback(ctx, press(topicMain, kbs[0].MessageID, "hp:1"))
	edits := fx.platform.ops("editKB")
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Text, "History 3–7 of 12")
	assert.Contains(t, edits[0].Text, "answer-07")
	assert.NotContains(t, edits[0].Text, "answer-08")

	fx.bridge.handleCallback(ctx, press(topicMain, kbs[0].MessageID, "hn:0"))
	edits = fx.platform.ops("editKB")
	require.Len(t, edits, 2)
	assert.Contains(t, edits[1].Text, "History 8–12 of 12")

	fx.bridge.handleCallback(ctx, press(topicMain, kbs[0].MessageID, "hp:9"))
	assert.Equal(t, "No more pages", fx.platform.lastAnswer())
}

func TestCmdHistoryUnboundAndMissing(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/history")})
	sends := fx.platform.ops("send")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Text, "No window is bound here")

	fx.bind(topicMain, "@1")
	fx.bridge.dispatch(ctx, Update{Message: inbound(topicMain, "/history")})
	sends = fx.platform.ops("send")
	require.Len(t, sends, 2)
	assert.Contains(t, sends[1].Text, "no session recorded")
}

func TestCmdScreenshotRendersPNG(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.cfg.Screenshot.Renderer = "render-term --cols 80"
	fx.exec.out = []byte{0x89, 'P', 'N', 'G'}
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))
	fx.tmux.SetPane("@1", "some colorful pane")
	fx.bind(topicMain, "@1")

	fx.bridge.dispatch(context.Background(), Update{Message: inbound(topicMain, "/screenshot")})

	docs := fx.platform.ops("doc")
	require.Len(t, docs, 1)
	assert.Equal(t, "pane-1.png", docs[0].Filename)
	assert.NotNil(t, docs[0].KB)
	assert.Contains(t, docs[0].Text, "@1")

	fx.exec.mu.Lock()
	defer fx.exec.mu.Unlock()
	require.Len(t, fx.exec.runs, 1)
	assert.Equal(t, []string{"render-term", "--cols", "80"}, fx.exec.runs[0])
}

func TestCmdScreenshotFallsBackToText(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.cfg.Screenshot.Renderer = "render-term"
	fx.exec.err = errors.New("no such binary")
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))
	fx.tmux.SetPane("@1", "plain pane text")
	fx.bind(topicMain, "@1")

	fx.bridge.dispatch(context.Background(), Update{Message: inbound(topicMain, "/screenshot")})

	docs := fx.platform.ops("doc")
	require.Len(t, docs, 1)
	assert.Equal(t, "pane-1.txt", docs[0].Filename)
}

func TestScreenshotKeyRelayRecaptures(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.tmux.AddWindow(tmuxWindow("@1", "api", "/tmp"))
	fx.tmux.SetPane("@1", "pane")
	fx.bind(topicMain, "@1")

	fx.bridge.handleCallback(context.Background(), press(topicMain, 500, "kb:up"))

	require.Len(t, fx.tmux.Keys, 1)
	assert.Equal(t, "Up", fx.tmux.Keys[0].Key)
	docs := fx.platform.ops("doc")
	require.Len(t, docs, 1)
	assert.Equal(t, "pane-1.txt", docs[0].Filename)
	assert.Equal(t, "", fx.platform.lastAnswer())
}
