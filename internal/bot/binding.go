package bot

import (
	"context"
	"os"
	"strings"

	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/state"
)

// handleText is the inbound-text state machine: reject while a keyboard flow
// is pending here, offer bind targets when the topic is unbound, offer
// recovery when the window died, otherwise forward to the window.
func (b *Bridge) handleText(ctx context.Context, msg *Message, text string) {
	userID, topicID := msg.From.ID, msg.ThreadID
	key := state.ThreadKey{UserID: userID, TopicID: topicID}

	if b.uiActiveFor(userID, topicID) {
		b.replyMsg(ctx, msg, "⚠️ Finish or cancel the selection above first.")
		return
	}

	wid, w, bound, alive := b.boundWindow(ctx, userID, topicID)
	if !bound {
		b.offerBindTargets(ctx, msg, text)
		return
	}

	if !alive {
		ws, _ := b.store.WindowState(wid)
		if ws.Cwd != "" && dirExists(ws.Cwd) {
			b.showRecovery(ctx, msg, wid, ws.Cwd, text)
			return
		}
		// Nothing to recover into: the project directory is gone too.
		b.store.Unbind(userID, topicID)
		b.showBrowser(ctx, msg, text)
		return
	}

	b.forwardText(ctx, key, w.ID, msg, text)
}

// offerBindTargets starts the bind flow for an unbound topic: a picker over
// windows no thread claims yet, or the directory browser when every window
// is taken. The triggering text is stashed and forwarded after the bind.
func (b *Bridge) offerBindTargets(ctx context.Context, msg *Message, stash string) {
	unbound, err := b.unboundWindows(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("window listing failed")
		b.replyMsg(ctx, msg, "⚠️ Could not list windows: "+err.Error())
		return
	}
	if len(unbound) > 0 {
		b.showPicker(ctx, msg, unbound, stash)
		return
	}
	b.showBrowser(ctx, msg, stash)
}

// unboundWindows lists live windows with no thread bound to them.
func (b *Bridge) unboundWindows(ctx context.Context) ([]tmux.Window, error) {
	live, err := b.tmux.ListWindows(ctx)
	if err != nil {
		return nil, err
	}
	var out []tmux.Window
	for _, w := range live {
		if len(b.store.BindingsForWindow(w.ID)) == 0 {
			out = append(out, w)
		}
	}
	return out, nil
}

// forwardText delivers user text into the window. A newer message cancels
// any bash capture still running for the thread; a leading '!' starts a
// fresh one to mirror the command's output back.
func (b *Bridge) forwardText(ctx context.Context, key state.ThreadKey, windowID string, msg *Message, text string) {
	b.cancelBash(key)
	b.platform.SendTyping(ctx, msg.Chat.ID, key.TopicID)

	if err := b.tmux.SendText(ctx, windowID, text, true); err != nil {
		if tmux.IsWindowGone(err) {
			ws, _ := b.store.WindowState(windowID)
			if ws.Cwd != "" && dirExists(ws.Cwd) {
				b.showRecovery(ctx, msg, windowID, ws.Cwd, text)
				return
			}
		}
		b.log.Warn().Err(err).Str("window", windowID).Msg("text forward failed")
		b.replyMsg(ctx, msg, "⚠️ Could not send to window `"+windowID+"`: "+err.Error())
		return
	}

	if cmd, ok := strings.CutPrefix(text, "!"); ok && strings.TrimSpace(cmd) != "" {
		b.spawnBashCapture(key, msg.Chat.ID, windowID, strings.TrimSpace(cmd))
	}
}

// bindAndForward records the binding and delivers any stashed text, returning
// a summary line for the caller to surface in its own flow.
func (b *Bridge) bindAndForward(ctx context.Context, chatID int64, key state.ThreadKey, w tmux.Window, stash string) string {
	b.store.Bind(key.UserID, key.TopicID, w.ID)
	title := w.Name
	if title == "" {
		title = w.ID
	}

	if stash != "" {
		if err := b.tmux.SendText(ctx, w.ID, stash, true); err != nil {
			b.log.Warn().Err(err).Str("window", w.ID).Msg("stash forward failed")
			b.reply(ctx, chatID, key.TopicID, "⚠️ Could not deliver the pending message: "+err.Error())
		}
	}
	return "📌 Bound to window `" + w.ID + "` (" + title + ")"
}

// createAndBind opens a fresh provider window in cwd and binds it to the
// thread. extraArgs feed the provider launch (e.g. --continue).
func (b *Bridge) createAndBind(ctx context.Context, chatID int64, key state.ThreadKey, cwd, name string, extraArgs []string, stash string) {
	w, err := b.tmux.CreateWindow(ctx, cwd, name, extraArgs)
	if err != nil {
		b.log.Warn().Err(err).Str("cwd", cwd).Msg("window creation failed")
		b.reply(ctx, chatID, key.TopicID, "⚠️ Could not create window: "+err.Error())
		return
	}
	b.store.SetWindowState(w.ID, state.WindowState{Cwd: cwd, WindowName: w.Name})
	b.reply(ctx, chatID, key.TopicID, b.bindAndForward(ctx, chatID, key, w, stash))
	if stash != "" {
		go b.watchHookHandshake(chatID, key.TopicID, w.ID)
	}
}

// watchHookHandshake waits for the provider hook to record a fresh window in
// the session map. The hook fires on prompt submit, and createAndBind just
// forwarded the first prompt, so prolonged silence means the hook is not
// installed and nothing will ever mirror back.
func (b *Bridge) watchHookHandshake(chatID, topicID int64, windowID string) {
	ctx := context.Background()
	if b.store.WaitForSessionMapEntry(ctx, b.cfg.SessionMapFile(), b.cfg.Tmux.Session, windowID, b.hookWait, b.hookPoll) {
		return
	}
	b.log.Warn().Str("window", windowID).Msg("no hook handshake for new window")
	b.reply(ctx, chatID, topicID, "⚠️ The session hook hasn't reported this window yet, so output will not mirror here. Run `waggle doctor` to check the hook setup.")
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
