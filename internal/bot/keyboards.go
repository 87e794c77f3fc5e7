package bot

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/core/transcript"
)

// Keyboard constructors for every callback flow. Callback data stays under
// Telegram's 64-byte cap: entries are referenced by index into state held
// server-side, never by path.

func btn(label, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, data)
}

// pickerKeyboard lists unbound windows, one per row.
func pickerKeyboard(windows []tmux.Window) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(windows)+1)
	for _, w := range windows {
		label := w.ID
		if w.Name != "" {
			label = w.Name + " (" + w.ID + ")"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn(label, "wb:"+w.ID)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn("✖️ Cancel", "wb:cancel")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// browserKeyboard renders one page of directory entries plus navigation and
// action rows. labels run parallel to the state's entry slice; start is the
// absolute index of the first shown entry.
func browserKeyboard(labels []string, start int, hasPrev, hasNext bool, page int) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(labels)+3)
	for i, label := range labels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn(label, "db:cd:"+strconv.Itoa(start+i))))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if hasPrev {
		nav = append(nav, btn("⬅️", "db:pg:"+strconv.Itoa(page-1)))
	}
	nav = append(nav, btn("⬆️ Up", "db:up"))
	if hasNext {
		nav = append(nav, btn("➡️", "db:pg:"+strconv.Itoa(page+1)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(nav...))

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		btn("✅ Start here", "db:sel"),
		btn("⭐ Favorite", "db:fav"),
	))
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn("✖️ Cancel", "db:cancel")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// recoveryKeyboard offers the dead-window choices.
func recoveryKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			btn("🌱 Fresh", "rec:fresh"),
			btn("▶️ Continue", "rec:cont"),
		),
		tgbotapi.NewInlineKeyboardRow(
			btn("📜 Resume…", "rec:resume"),
			btn("✖️ Cancel", "rec:cancel"),
		),
	)
}

// resumeKeyboard lists one page of past sessions; indices are absolute into
// the state's session slice.
func resumeKeyboard(sessions []transcript.SessionInfo, start int, hasPrev, hasNext bool, page int) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(sessions)+2)
	for i, s := range sessions {
		label := s.Modified.Format("Jan 2 15:04")
		if s.Preview != "" {
			label += " · " + s.Preview
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn(label, "res:"+strconv.Itoa(start+i))))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if hasPrev {
		nav = append(nav, btn("⬅️ Newer", "res:pg:"+strconv.Itoa(page-1)))
	}
	if hasNext {
		nav = append(nav, btn("Older ➡️", "res:pg:"+strconv.Itoa(page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(nav...))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn("✖️ Cancel", "res:cancel")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// promptKeyboard is the interactive-prompt remote: terminal navigation keys
// relayed into the window.
func promptKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			btn("⬅️", "aq:left"),
			btn("⬆️", "aq:up"),
			btn("⬇️", "aq:down"),
			btn("➡️", "aq:right"),
		),
		tgbotapi.NewInlineKeyboardRow(
			btn("↹ Tab", "aq:tab"),
			btn("␣ Space", "aq:space"),
			btn("⏎ Enter", "aq:enter"),
		),
		tgbotapi.NewInlineKeyboardRow(
			btn("⎋ Esc", "aq:esc"),
			btn("🔄 Refresh", "aq:ref"),
		),
	)
}

// screenshotKeyboard is the pane remote attached to screenshot documents.
func screenshotKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			btn("⬅️", "kb:left"),
			btn("⬆️", "kb:up"),
			btn("⬇️", "kb:down"),
			btn("➡️", "kb:right"),
		),
		tgbotapi.NewInlineKeyboardRow(
			btn("↹", "kb:tab"),
			btn("␣", "kb:space"),
			btn("⏎", "kb:enter"),
			btn("⎋", "kb:esc"),
		),
		tgbotapi.NewInlineKeyboardRow(btn("📸 Refresh", "ss:ref:")),
	)
}

// statusKeyboard is attached to /status replies.
func statusKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			btn("🔄 Refresh", "st:ref"),
			btn("⎋ Interrupt", "st:int"),
			btn("📸 Screenshot", "st:ss"),
		),
	)
}

// dashboardKeyboard lists every window for drill-down plus a refresh row.
func dashboardKeyboard(ids []string, names map[string]string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(ids)+1)
	for _, id := range ids {
		label := id
		if name := names[id]; name != "" {
			label = name + " (" + id + ")"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn(label, "sess:"+id)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn("🔄 Refresh", "sess:ref")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// dashboardDetailKeyboard navigates back from a window detail view.
func dashboardDetailKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(btn("⬅️ Back", "sess:back")),
	)
}

// historyKeyboard pages through transcript history. Older pages have higher
// numbers; page 0 is the latest.
func historyKeyboard(page int, hasOlder, hasNewer bool) tgbotapi.InlineKeyboardMarkup {
	var nav []tgbotapi.InlineKeyboardButton
	if hasOlder {
		nav = append(nav, btn("⬅️ Older", "hp:"+strconv.Itoa(page+1)))
	}
	if hasNewer {
		nav = append(nav, btn("Newer ➡️", "hn:"+strconv.Itoa(page-1)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(nav...))
}
