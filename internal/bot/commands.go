package bot

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/colonyops/waggle/internal/core/config"
	"github.com/colonyops/waggle/internal/core/terminal"
	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/state"
)

// usageSettleDelay is how long the provider's usage dialog gets to paint
// before we capture it. It is a full-screen redraw, slower than a keypress.
const usageSettleDelay = 1500 * time.Millisecond

// splitCommand splits "/cmd@bot arg" into its parts. ok is false when the
// command is explicitly addressed to a different bot and should be ignored.
func splitCommand(text, botName string) (cmd, arg string, ok bool) {
	rest := strings.TrimPrefix(text, "/")
	cmd, arg, _ = strings.Cut(rest, " ")
	arg = strings.TrimSpace(arg)

	if name, mention, found := strings.Cut(cmd, "@"); found {
		if botName != "" && !strings.EqualFold(mention, botName) {
			return "", "", false
		}
		cmd = name
	}
	return strings.ToLower(cmd), arg, true
}

// handleCommand dispatches a slash command.
func (b *Bridge) handleCommand(ctx context.Context, msg *Message, text string) {
	cmd, arg, ok := splitCommand(text, b.platform.Username())
	if !ok {
		return
	}
	b.log.Debug().Str("cmd", cmd).Int64("user", msg.From.ID).Int64("topic", msg.ThreadID).Msg("command")

	switch cmd {
	case "bind":
		b.cmdBind(ctx, msg, arg)
	case "unbind":
		b.cmdUnbind(ctx, msg)
	case "status":
		b.cmdStatus(ctx, msg)
	case "screenshot":
		b.handleScreenshotCmd(ctx, msg)
	case "history":
		b.showHistory(ctx, msg)
	case "sessions":
		b.showDashboard(ctx, msg)
	case "usage":
		b.cmdUsage(ctx, msg)
	case "mute":
		b.cmdMute(ctx, msg)
	case "resume":
		b.cmdResume(ctx, msg)
	case "new":
		b.cmdNew(ctx, msg, arg)
	case "cancel":
		b.cmdCancel(ctx, msg)
	case "help", "start":
		b.replyMsg(ctx, msg, helpText)
	default:
		b.replyMsg(ctx, msg, "Unknown command. /help lists what I understand.")
	}
}

const helpText = `🐝 **waggle** bridges this topic to a tmux window.

Send any text to forward it to the bound window. Prefix with ` + "`!`" + ` to run a shell command in the window's directory.

/bind [id or name] - bind this topic to a window
/unbind - detach the topic, keep the window running
/new [path] - start a fresh window (browse when no path given)
/resume - restart from a past session in this project
/status - window state, with controls
/screenshot - rendered image of the pane
/history - browse the session transcript
/sessions - all windows at a glance
/usage - provider usage panel
/mute - cycle notifications: all → errors only → muted
/cancel - abandon the pending selection`

func (b *Bridge) cmdBind(ctx context.Context, msg *Message, arg string) {
	userID, topicID := msg.From.ID, msg.ThreadID
	key := state.ThreadKey{UserID: userID, TopicID: topicID}

	if arg == "" {
		windows, err := b.tmux.ListWindows(ctx)
		if err != nil {
			b.replyMsg(ctx, msg, "⚠️ Could not list windows: "+err.Error())
			return
		}
		if len(windows) == 0 {
			b.showBrowser(ctx, msg, "")
			return
		}
		b.showPicker(ctx, msg, windows, "")
		return
	}

	var (
		w     tmux.Window
		found bool
		err   error
	)
	if tmux.IsWindowID(arg) {
		w, found, err = b.tmux.FindWindow(ctx, arg)
	} else {
		w, found, err = b.tmux.FindWindowByName(ctx, arg)
	}
	if err != nil {
		b.replyMsg(ctx, msg, "⚠️ Window lookup failed: "+err.Error())
		return
	}
	if !found {
		b.replyMsg(ctx, msg, "⚠️ No window matches `"+arg+"`. /sessions shows what is running.")
		return
	}
	b.replyMsg(ctx, msg, b.bindAndForward(ctx, msg.Chat.ID, key, w, ""))
}

func (b *Bridge) cmdUnbind(ctx context.Context, msg *Message) {
	userID, topicID := msg.From.ID, msg.ThreadID
	wid, bound := b.store.WindowForThread(userID, topicID)
	if !bound {
		b.replyMsg(ctx, msg, "Nothing is bound here.")
		return
	}
	b.store.Unbind(userID, topicID)
	b.clearThread(state.ThreadKey{UserID: userID, TopicID: topicID})
	b.replyMsg(ctx, msg, "🔓 Unbound from `"+wid+"`. The window keeps running.")
}

func (b *Bridge) cmdStatus(ctx context.Context, msg *Message) {
	wid, w, bound, alive := b.boundWindow(ctx, msg.From.ID, msg.ThreadID)
	if !bound {
		b.replyMsg(ctx, msg, "🔌 This topic is not bound. Send any message to pick a window, or /new to start one.")
		return
	}
	if !alive {
		b.replyMsg(ctx, msg, "💀 Window `"+wid+"` is gone. Send a message to recover the session.")
		return
	}
	if _, err := b.sendKB(ctx, msg.Chat.ID, msg.ThreadID, b.renderWindowDetail(ctx, w), statusKeyboard()); err != nil {
		b.log.Warn().Err(err).Msg("status send failed")
	}
}

// handleStatusAction services the buttons under a /status reply. The toast
// string is shown to the user in the button spinner.
func (b *Bridge) handleStatusAction(ctx context.Context, cb *Callback, topicID int64, arg string) string {
	wid, w, bound, alive := b.boundWindow(ctx, cb.From.ID, topicID)
	if !bound {
		return "Not bound"
	}

	switch arg {
	case "ref":
		if !alive {
			if err := b.editText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, "💀 Window `"+wid+"` is gone."); err != nil {
				b.log.Debug().Err(err).Msg("status edit failed")
			}
			return ""
		}
		if err := b.editKB(ctx, cb.Message.Chat.ID, cb.Message.MessageID, b.renderWindowDetail(ctx, w), statusKeyboard()); err != nil {
			b.log.Debug().Err(err).Msg("status refresh failed")
		}
		return ""
	case "int":
		if !alive {
			return "Window is gone"
		}
		if err := b.tmux.SendKey(ctx, w.ID, tmux.KeyEscape); err != nil {
			return "Interrupt failed"
		}
		return "Sent Esc"
	case "ss":
		if !alive {
			return "Window is gone"
		}
		if err := b.sendScreenshot(ctx, cb.Message.Chat.ID, topicID, w.ID); err != nil {
			return "Screenshot failed"
		}
		return ""
	default:
		return "Invalid data"
	}
}

// cmdUsage drives the provider's /usage dialog: type the command, wait for
// the panel to paint, capture it, then close it with Escape.
func (b *Bridge) cmdUsage(ctx context.Context, msg *Message) {
	_, w, bound, alive := b.boundWindow(ctx, msg.From.ID, msg.ThreadID)
	if !bound || !alive {
		b.replyMsg(ctx, msg, "⚠️ No live window bound here.")
		return
	}

	if err := b.tmux.SendText(ctx, w.ID, "/usage", true); err != nil {
		b.replyMsg(ctx, msg, "⚠️ Could not reach the window: "+err.Error())
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(usageSettleDelay):
	}

	capture, err := b.tmux.CapturePane(ctx, w.ID, false)
	if err != nil {
		b.replyMsg(ctx, msg, "⚠️ Capture failed: "+err.Error())
		return
	}
	panel := terminal.UsagePanel(terminal.Lines(capture))

	// Close the dialog regardless of what we read.
	if err := b.tmux.SendKey(ctx, w.ID, tmux.KeyEscape); err != nil {
		b.log.Debug().Err(err).Str("window", w.ID).Msg("usage dialog close failed")
	}

	if len(panel) == 0 {
		b.replyMsg(ctx, msg, "⚠️ Couldn't read the usage panel.")
		return
	}
	b.replyMsg(ctx, msg, "```\n"+strings.Join(panel, "\n")+"\n```")
}

func (b *Bridge) cmdMute(ctx context.Context, msg *Message) {
	wid, bound := b.store.WindowForThread(msg.From.ID, msg.ThreadID)
	if !bound {
		b.replyMsg(ctx, msg, "🔌 This topic is not bound.")
		return
	}
	switch b.store.CycleNotificationMode(wid) {
	case config.NotifyErrorsOnly:
		b.replyMsg(ctx, msg, "⚠️ Notifications: errors only")
	case config.NotifyMuted:
		b.replyMsg(ctx, msg, "🔕 Notifications: muted")
	default:
		b.replyMsg(ctx, msg, "🔔 Notifications: all")
	}
}

func (b *Bridge) cmdResume(ctx context.Context, msg *Message) {
	userID, topicID := msg.From.ID, msg.ThreadID
	key := state.ThreadKey{UserID: userID, TopicID: topicID}

	wid, w, bound, alive := b.boundWindow(ctx, userID, topicID)
	if !bound {
		b.replyMsg(ctx, msg, "🔌 Nothing is bound here. Send a message to bind a window first.")
		return
	}

	cwd := ""
	if ws, ok := b.store.WindowState(wid); ok && ws.Cwd != "" {
		cwd = ws.Cwd
	} else if alive {
		cwd = w.Path
	}
	if cwd == "" || !dirExists(cwd) {
		b.replyMsg(ctx, msg, "⚠️ No project directory known for this window.")
		return
	}

	if !b.openResumePicker(ctx, msg.Chat.ID, key, cwd, "") {
		b.replyMsg(ctx, msg, "📭 No past sessions found in `"+cwd+"`.")
	}
}

func (b *Bridge) cmdNew(ctx context.Context, msg *Message, arg string) {
	userID, topicID := msg.From.ID, msg.ThreadID
	key := state.ThreadKey{UserID: userID, TopicID: topicID}

	if arg == "" {
		b.openBrowser(ctx, msg.Chat.ID, key, "")
		return
	}
	if !filepath.IsAbs(arg) {
		b.replyMsg(ctx, msg, "⚠️ Give an absolute path, or run /new without arguments to browse.")
		return
	}
	if !dirExists(arg) {
		b.replyMsg(ctx, msg, "⚠️ Not a directory: `"+arg+"`")
		return
	}
	b.createAndBind(ctx, msg.Chat.ID, key, arg, filepath.Base(arg), nil, "")
}

func (b *Bridge) cmdCancel(ctx context.Context, msg *Message) {
	st := b.userUI(msg.From.ID)
	if st == nil || st.TopicID != msg.ThreadID {
		b.replyMsg(ctx, msg, "Nothing to cancel.")
		return
	}
	b.clearUI(msg.From.ID)
	if err := b.editText(ctx, st.ChatID, st.MessageID, "✖️ Cancelled"); err != nil {
		b.log.Debug().Err(err).Msg("cancel edit failed")
	}
}
