package bot

import (
	"context"

	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/state"
)

// pickerState snapshots the unbound windows offered to the user. The
// callback carries the window id; the snapshot only feeds the labels.
type pickerState struct {
	Windows []tmux.Window
}

// showPicker offers the unbound windows for this thread to claim.
func (b *Bridge) showPicker(ctx context.Context, msg *Message, windows []tmux.Window, stash string) {
	st := &uiState{
		Kind:    uiPicker,
		ChatID:  msg.Chat.ID,
		TopicID: msg.ThreadID,
		Stash:   stash,
		Picker:  &pickerState{Windows: windows},
	}

	id, err := b.sendKB(ctx, msg.Chat.ID, msg.ThreadID, "🪟 Pick a window to bind to this topic:", pickerKeyboard(windows))
	if err != nil {
		b.log.Warn().Err(err).Msg("picker open failed")
		return
	}
	st.MessageID = id
	b.setUI(msg.From.ID, st)
}

// handlePicker resolves one wb: callback: bind the chosen window or cancel.
// Returns the toast for the callback answer.
func (b *Bridge) handlePicker(ctx context.Context, cb *Callback, st *uiState, arg string) string {
	if arg == "cancel" {
		b.clearUI(cb.From.ID)
		if err := b.editText(ctx, st.ChatID, st.MessageID, "✖️ Cancelled"); err != nil {
			b.log.Debug().Err(err).Msg("picker cancel edit failed")
		}
		return ""
	}
	if !tmux.IsWindowID(arg) {
		return "Invalid data"
	}

	w, ok, err := b.tmux.FindWindow(ctx, arg)
	if err != nil || !ok {
		return "Window is gone"
	}

	b.clearUI(cb.From.ID)
	key := state.ThreadKey{UserID: cb.From.ID, TopicID: st.TopicID}
	summary := b.bindAndForward(ctx, st.ChatID, key, w, st.Stash)
	if err := b.editText(ctx, st.ChatID, st.MessageID, summary); err != nil {
		b.log.Debug().Err(err).Msg("picker finalize edit failed")
	}
	return ""
}
