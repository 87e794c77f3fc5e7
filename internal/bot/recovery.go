package bot

import (
	"context"
	"path/filepath"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/colonyops/waggle/internal/core/transcript"
	"github.com/colonyops/waggle/internal/state"
)

// recoveryState remembers the dead window a thread can be revived from.
type recoveryState struct {
	WindowID string
	Cwd      string
}

// resumeState is the paginated past-session picker backing the Resume
// recovery action.
type resumeState struct {
	Cwd      string
	Sessions []transcript.SessionInfo
	Page     int
}

const (
	resumePageSize = 5
	resumeListMax  = 25
)

// showRecovery offers the dead-window choices for a thread whose project
// directory still exists.
func (b *Bridge) showRecovery(ctx context.Context, msg *Message, windowID, cwd, stash string) {
	b.openRecovery(ctx, msg.Chat.ID, state.ThreadKey{UserID: msg.From.ID, TopicID: msg.ThreadID}, windowID, cwd, stash)
}

func (b *Bridge) openRecovery(ctx context.Context, chatID int64, key state.ThreadKey, windowID, cwd, stash string) {
	st := &uiState{
		Kind:     uiRecovery,
		ChatID:   chatID,
		TopicID:  key.TopicID,
		Stash:    stash,
		Recovery: &recoveryState{WindowID: windowID, Cwd: cwd},
	}

	text := "💀 Window `" + windowID + "` (" + b.displayTitle(windowID) + ") is gone.\n" +
		"Directory: `" + cwd + "`"
	id, err := b.sendKB(ctx, chatID, key.TopicID, text, recoveryKeyboard())
	if err != nil {
		b.log.Warn().Err(err).Msg("recovery open failed")
		return
	}
	st.MessageID = id
	b.setUI(key.UserID, st)
}

// handleRecovery executes one rec: action. Fresh and Continue relaunch the
// provider in the saved directory; Resume switches to the session picker.
func (b *Bridge) handleRecovery(ctx context.Context, cb *Callback, st *uiState, action string) string {
	rs := st.Recovery
	key := state.ThreadKey{UserID: cb.From.ID, TopicID: st.TopicID}

	switch action {
	case "fresh", "cont":
		b.clearUI(cb.From.ID)
		b.store.Unbind(key.UserID, key.TopicID)
		b.store.RemoveWindow(rs.WindowID)

		var extraArgs []string
		verb := "🌱 Starting fresh in `" + rs.Cwd + "`"
		if action == "cont" {
			extraArgs = []string{"--continue"}
			verb = "▶️ Continuing in `" + rs.Cwd + "`"
		}
		if err := b.editText(ctx, st.ChatID, st.MessageID, verb); err != nil {
			b.log.Debug().Err(err).Msg("recovery finalize edit failed")
		}
		b.createAndBind(ctx, st.ChatID, key, rs.Cwd, filepath.Base(rs.Cwd), extraArgs, st.Stash)
		return ""

	case "resume":
		sessions := transcript.ListSessions(b.cfg.Provider.ProjectsDir, rs.Cwd, resumeListMax)
		if len(sessions) == 0 {
			return "No past sessions found"
		}
		st.Kind = uiResume
		st.Resume = &resumeState{Cwd: rs.Cwd, Sessions: sessions}
		b.refreshResume(ctx, st)
		return ""

	case "cancel":
		b.clearUI(cb.From.ID)
		if err := b.editText(ctx, st.ChatID, st.MessageID, "✖️ Cancelled"); err != nil {
			b.log.Debug().Err(err).Msg("recovery cancel edit failed")
		}
		return ""
	}
	return "Invalid data"
}

// renderResume builds the session-picker page text and keyboard.
func renderResume(rs *resumeState) (string, tgbotapi.InlineKeyboardMarkup) {
	start := rs.Page * resumePageSize
	if start > len(rs.Sessions) {
		start = len(rs.Sessions)
	}
	end := start + resumePageSize
	if end > len(rs.Sessions) {
		end = len(rs.Sessions)
	}

	text := "📜 Past sessions in `" + rs.Cwd + "`:"
	kb := resumeKeyboard(rs.Sessions[start:end], start, rs.Page > 0, end < len(rs.Sessions), rs.Page)
	return text, kb
}

// refreshResume re-renders the session picker page into the flow's message.
func (b *Bridge) refreshResume(ctx context.Context, st *uiState) {
	text, kb := renderResume(st.Resume)
	if err := b.editKB(ctx, st.ChatID, st.MessageID, text, kb); err != nil {
		b.log.Debug().Err(err).Msg("resume refresh failed")
	}
}

// openResumePicker starts the session picker as a fresh flow, outside the
// recovery keyboard (the /resume command path).
func (b *Bridge) openResumePicker(ctx context.Context, chatID int64, key state.ThreadKey, cwd, stash string) bool {
	sessions := transcript.ListSessions(b.cfg.Provider.ProjectsDir, cwd, resumeListMax)
	if len(sessions) == 0 {
		return false
	}

	st := &uiState{
		Kind:    uiResume,
		ChatID:  chatID,
		TopicID: key.TopicID,
		Stash:   stash,
		Resume:  &resumeState{Cwd: cwd, Sessions: sessions},
	}
	text, kb := renderResume(st.Resume)
	id, err := b.sendKB(ctx, chatID, key.TopicID, text, kb)
	if err != nil {
		b.log.Warn().Err(err).Msg("resume open failed")
		return true
	}
	st.MessageID = id
	b.setUI(key.UserID, st)
	return true
}

// handleResume executes one res: action: page navigation, cancel, or a bare
// index picking the session to resume in a fresh window.
func (b *Bridge) handleResume(ctx context.Context, cb *Callback, st *uiState, op, arg string) string {
	rs := st.Resume
	key := state.ThreadKey{UserID: cb.From.ID, TopicID: st.TopicID}

	switch op {
	case "pg":
		page, err := strconv.Atoi(arg)
		if err != nil || page < 0 || page*resumePageSize >= len(rs.Sessions) {
			return "Invalid data"
		}
		rs.Page = page
		b.refreshResume(ctx, st)
		return ""

	case "cancel":
		b.clearUI(cb.From.ID)
		if err := b.editText(ctx, st.ChatID, st.MessageID, "✖️ Cancelled"); err != nil {
			b.log.Debug().Err(err).Msg("resume cancel edit failed")
		}
		return ""

	default:
		idx, err := strconv.Atoi(op)
		if err != nil || idx < 0 || idx >= len(rs.Sessions) {
			return "Invalid data"
		}
		picked := rs.Sessions[idx]

		b.clearUI(cb.From.ID)
		b.store.Unbind(key.UserID, key.TopicID)
		if err := b.editText(ctx, st.ChatID, st.MessageID, "📜 Resuming session from "+picked.Modified.Format("Jan 2 15:04")); err != nil {
			b.log.Debug().Err(err).Msg("resume finalize edit failed")
		}
		b.createAndBind(ctx, st.ChatID, key, rs.Cwd, filepath.Base(rs.Cwd), []string{"--resume", picked.ID}, st.Stash)
		return ""
	}
}
