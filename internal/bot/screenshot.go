package bot

import (
	"context"
	"strings"
	"time"

	"github.com/colonyops/waggle/internal/core/terminal"
	"github.com/colonyops/waggle/internal/core/tmux"
)

// handleScreenshotCmd serves /screenshot for the thread's bound window.
func (b *Bridge) handleScreenshotCmd(ctx context.Context, msg *Message) {
	wid, bound := b.store.WindowForThread(msg.From.ID, msg.ThreadID)
	if !bound {
		b.replyMsg(ctx, msg, "⚠️ No window is bound here.")
		return
	}
	if err := b.sendScreenshot(ctx, msg.Chat.ID, msg.ThreadID, wid); err != nil {
		b.replyMsg(ctx, msg, "⚠️ Screenshot failed: "+err.Error())
	}
}

// sendScreenshot captures the pane with color and delivers it as a document
// with the pane-remote keyboard attached: a PNG when a renderer is
// configured and succeeds, the raw text otherwise.
func (b *Bridge) sendScreenshot(ctx context.Context, chatID, topicID int64, windowID string) error {
	capture, err := b.tmux.CapturePane(ctx, windowID, true)
	if err != nil {
		return err
	}

	caption := b.displayTitle(windowID) + " (" + windowID + ")"
	kb := screenshotKeyboard()
	base := "pane-" + strings.TrimPrefix(windowID, "@")

	if renderer := b.cfg.Screenshot.Renderer; renderer != "" {
		fields := strings.Fields(renderer)
		png, err := b.exec.RunInput(ctx, []byte(capture), fields[0], fields[1:]...)
		if err == nil && len(png) > 0 {
			return b.platform.SendDocument(ctx, chatID, topicID, base+".png", png, caption, &kb)
		}
		b.log.Warn().Err(err).Str("renderer", fields[0]).Msg("renderer failed, falling back to text")
	}

	text := terminal.StripANSI(capture)
	return b.platform.SendDocument(ctx, chatID, topicID, base+".txt", []byte(text), caption, &kb)
}

// handleScreenshotKey relays one kb: press into the bound window, lets the
// pane repaint, and posts a fresh capture.
func (b *Bridge) handleScreenshotKey(ctx context.Context, cb *Callback, topicID int64, arg string) string {
	keyName, ok := promptKeys[arg]
	if !ok {
		return "Invalid data"
	}
	wid, bound := b.store.WindowForThread(cb.From.ID, topicID)
	if !bound {
		return "No window bound"
	}

	if err := b.tmux.SendKey(ctx, wid, keyName); err != nil {
		if tmux.IsWindowGone(err) {
			return "Window is gone"
		}
		return "Key delivery failed"
	}
	select {
	case <-ctx.Done():
		return ""
	case <-time.After(promptSettleDelay):
	}

	if err := b.sendScreenshot(ctx, cb.Message.Chat.ID, topicID, wid); err != nil {
		return "Screenshot failed"
	}
	return ""
}

// handleScreenshotRefresh posts a fresh capture of the bound window.
func (b *Bridge) handleScreenshotRefresh(ctx context.Context, cb *Callback, topicID int64) string {
	wid, bound := b.store.WindowForThread(cb.From.ID, topicID)
	if !bound {
		return "No window bound"
	}
	if err := b.sendScreenshot(ctx, cb.Message.Chat.ID, topicID, wid); err != nil {
		return "Screenshot failed"
	}
	return ""
}
