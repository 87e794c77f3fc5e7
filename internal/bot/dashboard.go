package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/colonyops/waggle/internal/core/tmux"
)

// showDashboard replies with the all-windows overview and its drill-down
// keyboard.
func (b *Bridge) showDashboard(ctx context.Context, msg *Message) {
	text, ids, names, err := b.renderDashboard(ctx)
	if err != nil {
		b.replyMsg(ctx, msg, "⚠️ Could not list windows: "+err.Error())
		return
	}
	if _, err := b.sendKB(ctx, msg.Chat.ID, msg.ThreadID, text, dashboardKeyboard(ids, names)); err != nil {
		b.log.Warn().Err(err).Msg("dashboard send failed")
	}
}

// renderDashboard builds the overview text plus the id/name sets backing the
// keyboard.
func (b *Bridge) renderDashboard(ctx context.Context) (string, []string, map[string]string, error) {
	live, err := b.tmux.ListWindows(ctx)
	if err != nil {
		return "", nil, nil, err
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	var sb strings.Builder
	fmt.Fprintf(&sb, "🪟 **Windows** (%d)\n", len(live))

	ids := make([]string, 0, len(live))
	names := make(map[string]string, len(live))
	for _, w := range live {
		ids = append(ids, w.ID)
		names[w.ID] = w.Name

		icon := "💤"
		if status := b.statusLine(ctx, w.ID); status != "" {
			icon = "⚡"
		}
		bindings := b.store.BindingsForWindow(w.ID)
		suffix := "unbound"
		if n := len(bindings); n == 1 {
			suffix = "1 topic"
		} else if n > 1 {
			suffix = fmt.Sprintf("%d topics", n)
		}
		fmt.Fprintf(&sb, "\n%s `%s` %s (%s)", icon, w.ID, w.Name, suffix)
	}
	if len(live) == 0 {
		sb.WriteString("\nNone running.")
	}
	return sb.String(), ids, names, nil
}

// renderWindowDetail builds the drill-down view for one window.
func (b *Bridge) renderWindowDetail(ctx context.Context, w tmux.Window) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🪟 `%s` **%s**\n", w.ID, w.Name)
	fmt.Fprintf(&sb, "\nDirectory: `%s`", w.Path)
	fmt.Fprintf(&sb, "\nCommand: `%s`", w.Command)

	if ws, ok := b.store.WindowState(w.ID); ok {
		if ws.SessionID != "" {
			fmt.Fprintf(&sb, "\nSession: `%s`", ws.SessionID)
		}
	}
	fmt.Fprintf(&sb, "\nNotifications: %s", b.store.NotificationMode(w.ID))

	if status := b.statusLine(ctx, w.ID); status != "" {
		fmt.Fprintf(&sb, "\nStatus: %s", status)
	}

	bindings := b.store.BindingsForWindow(w.ID)
	if len(bindings) == 0 {
		sb.WriteString("\nBindings: none")
	} else {
		sb.WriteString("\nBindings:")
		for _, key := range bindings {
			fmt.Fprintf(&sb, "\n  • user %d topic %d", key.UserID, key.TopicID)
		}
	}
	return sb.String()
}

// handleDashboard serves sess: presses: refresh, back to overview, or a
// window id for the detail view. All of them edit the dashboard message in
// place.
func (b *Bridge) handleDashboard(ctx context.Context, cb *Callback, arg string) string {
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID

	switch {
	case arg == "ref", arg == "back":
		text, ids, names, err := b.renderDashboard(ctx)
		if err != nil {
			return "Listing failed"
		}
		if err := b.editKB(ctx, chatID, messageID, text, dashboardKeyboard(ids, names)); err != nil {
			b.log.Debug().Err(err).Msg("dashboard refresh failed")
		}
		return ""

	case tmux.IsWindowID(arg):
		w, ok, err := b.tmux.FindWindow(ctx, arg)
		if err != nil {
			return "Listing failed"
		}
		if !ok {
			return "Window is gone"
		}
		if err := b.editKB(ctx, chatID, messageID, b.renderWindowDetail(ctx, w), dashboardDetailKeyboard()); err != nil {
			b.log.Debug().Err(err).Msg("dashboard detail failed")
		}
		return ""
	}
	return "Invalid data"
}
