package bot

import (
	"context"
	"strings"
	"time"

	"github.com/colonyops/waggle/internal/core/terminal"
	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/state"
)

// promptSettleDelay is how long a relayed keypress gets to repaint the pane
// before the mirror re-captures it.
const promptSettleDelay = 300 * time.Millisecond

// promptKeys maps aq: payloads to adapter key names.
var promptKeys = map[string]string{
	"up":    tmux.KeyUp,
	"down":  tmux.KeyDown,
	"left":  tmux.KeyLeft,
	"right": tmux.KeyRight,
	"esc":   tmux.KeyEscape,
	"enter": tmux.KeyEnter,
	"space": tmux.KeySpace,
	"tab":   tmux.KeyTab,
}

// promptHeaders label the mirrored prompt by detected kind.
var promptHeaders = map[string]string{
	terminal.PromptExitPlan:     "📋 Plan approval",
	terminal.PromptQuestionTabs: "❓ Question",
	terminal.PromptQuestion:     "❓ Question",
	terminal.PromptPermission:   "🔐 Permission request",
	terminal.PromptRestore:      "⏪ Restore checkpoint",
	terminal.PromptSettings:     "⚙️ Settings",
}

// upsertPrompt mirrors a detected interactive region into the thread:
// creates the keyboard message on first sight, edits it when the region
// repaints, and replaces it when the window changed underneath.
func (b *Bridge) upsertPrompt(ctx context.Context, key state.ThreadKey, windowID string, p *terminal.Prompt) {
	chatID := b.store.ResolveChatID(key.UserID, key.TopicID)
	text := renderPrompt(p)

	ps := b.promptFor(key)
	if ps != nil && ps.WindowID == windowID && ps.Kind == p.Kind {
		if ps.Text == text {
			return
		}
		if err := b.editKB(ctx, chatID, ps.MessageID, text, promptKeyboard()); err != nil {
			b.log.Debug().Err(err).Msg("prompt edit failed")
			return
		}
		ps.Text = text
		b.setPrompt(key, ps)
		return
	}

	if ps != nil {
		// Window or prompt kind changed: the old mirror no longer applies.
		if err := b.platform.Delete(ctx, chatID, ps.MessageID); err != nil {
			b.log.Debug().Err(err).Msg("stale prompt delete failed")
		}
	}

	id, err := b.sendKB(ctx, chatID, key.TopicID, text, promptKeyboard())
	if err != nil {
		b.log.Warn().Err(err).Msg("prompt mirror send failed")
		return
	}
	b.setPrompt(key, &promptState{WindowID: windowID, Kind: p.Kind, MessageID: id, Text: text})
}

// resolvePrompt finalizes the thread's prompt mirror after the region left
// the pane. Reports whether a mirror was actually cleared, so the poller can
// skip one cycle while the pane settles.
func (b *Bridge) resolvePrompt(ctx context.Context, key state.ThreadKey) bool {
	ps := b.promptFor(key)
	if ps == nil {
		return false
	}
	b.clearPrompt(key)

	chatID := b.store.ResolveChatID(key.UserID, key.TopicID)
	header := promptHeaders[ps.Kind]
	if header == "" {
		header = "❓ Prompt"
	}
	if err := b.editText(ctx, chatID, ps.MessageID, header+" ✅ answered"); err != nil {
		b.log.Debug().Err(err).Msg("prompt resolve edit failed")
	}
	return true
}

// handlePromptKey relays one aq: press into the window and refreshes the
// mirror from a fresh capture.
func (b *Bridge) handlePromptKey(ctx context.Context, cb *Callback, topicID int64, arg string) string {
	key := state.ThreadKey{UserID: cb.From.ID, TopicID: topicID}
	ps := b.promptFor(key)
	if ps == nil {
		return "Prompt is gone"
	}

	if arg != "ref" {
		keyName, ok := promptKeys[arg]
		if !ok {
			return "Invalid data"
		}
		if err := b.tmux.SendKey(ctx, ps.WindowID, keyName); err != nil {
			if tmux.IsWindowGone(err) {
				b.clearPrompt(key)
				return "Window is gone"
			}
			b.log.Warn().Err(err).Str("window", ps.WindowID).Msg("prompt key failed")
			return "Key delivery failed"
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(promptSettleDelay):
		}
	}

	capture, err := b.tmux.CapturePane(ctx, ps.WindowID, false)
	if err != nil {
		if tmux.IsWindowGone(err) {
			b.clearPrompt(key)
			return "Window is gone"
		}
		return "Capture failed"
	}

	if p := terminal.DetectPrompt(terminal.Lines(capture)); p != nil {
		b.upsertPrompt(ctx, key, ps.WindowID, p)
		return ""
	}
	b.resolvePrompt(ctx, key)
	return ""
}

// renderPrompt formats the region for the chat: a kind header above the pane
// lines in a fence, trailing whitespace stripped.
func renderPrompt(p *terminal.Prompt) string {
	header := promptHeaders[p.Kind]
	if header == "" {
		header = "❓ Prompt"
	}
	lines := make([]string, 0, len(p.Lines))
	for _, l := range p.Lines {
		lines = append(lines, strings.TrimRight(l, " "))
	}
	return header + "\n```\n" + strings.Join(lines, "\n") + "\n```"
}
