package bot

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/colonyops/waggle/internal/state"
)

// browserState is the directory-browser position: the directory being viewed
// and the entry snapshot the callback indices point into. Favorites come
// first, then subdirectories; all absolute paths.
type browserState struct {
	Dir     string
	Entries []string
	Faves   int // first Faves entries are starred jumps
	Page    int
}

const browserPageSize = 8

// showBrowser opens the directory browser for the thread, starting at the
// user's home directory.
func (b *Bridge) showBrowser(ctx context.Context, msg *Message, stash string) {
	key := state.ThreadKey{UserID: msg.From.ID, TopicID: msg.ThreadID}
	b.openBrowser(ctx, msg.Chat.ID, key, stash)
}

func (b *Bridge) openBrowser(ctx context.Context, chatID int64, key state.ThreadKey, stash string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	st := &uiState{
		Kind:    uiBrowser,
		ChatID:  chatID,
		TopicID: key.TopicID,
		Stash:   stash,
		Browser: &browserState{Dir: home},
	}
	b.reloadBrowserEntries(key.UserID, st.Browser)

	text, kb := b.renderBrowser(st.Browser)
	id, err := b.sendKB(ctx, chatID, key.TopicID, text, kb)
	if err != nil {
		b.log.Warn().Err(err).Msg("browser open failed")
		return
	}
	st.MessageID = id
	b.setUI(key.UserID, st)
}

// reloadBrowserEntries rebuilds the entry snapshot for the current directory:
// the user's favorites, then the directory's visible subdirectories.
func (b *Bridge) reloadBrowserEntries(userID int64, bs *browserState) {
	faves := b.store.DirFavorites(userID)
	bs.Entries = append([]string(nil), faves...)
	bs.Faves = len(faves)
	bs.Entries = append(bs.Entries, listSubdirs(bs.Dir)...)
	bs.Page = 0
}

// listSubdirs returns the sorted absolute paths of dir's non-hidden
// subdirectories. Unreadable directories list as empty.
func listSubdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out
}

// renderBrowser builds the message text and keyboard for the current page.
func (b *Bridge) renderBrowser(bs *browserState) (string, tgbotapi.InlineKeyboardMarkup) {
	start := bs.Page * browserPageSize
	if start > len(bs.Entries) {
		start = len(bs.Entries)
	}
	end := start + browserPageSize
	if end > len(bs.Entries) {
		end = len(bs.Entries)
	}

	labels := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		name := filepath.Base(bs.Entries[i])
		if i < bs.Faves {
			labels = append(labels, "⭐ "+name)
		} else {
			labels = append(labels, "📁 "+name)
		}
	}

	text := "📂 `" + bs.Dir + "`\nPick a project directory:"
	kb := browserKeyboard(labels, start, bs.Page > 0, end < len(bs.Entries), bs.Page)
	return text, kb
}

// handleBrowser executes one db: callback op against the user's browser
// state. Returns the toast text for the callback answer.
func (b *Bridge) handleBrowser(ctx context.Context, cb *Callback, st *uiState, op, arg string) string {
	bs := st.Browser
	key := state.ThreadKey{UserID: cb.From.ID, TopicID: st.TopicID}

	switch op {
	case "cd":
		idx, err := strconv.Atoi(arg)
		if err != nil || idx < 0 || idx >= len(bs.Entries) {
			return "Invalid data"
		}
		bs.Dir = bs.Entries[idx]
		b.reloadBrowserEntries(cb.From.ID, bs)

	case "up":
		parent := filepath.Dir(bs.Dir)
		if parent == bs.Dir {
			return "At the root"
		}
		bs.Dir = parent
		b.reloadBrowserEntries(cb.From.ID, bs)

	case "pg":
		page, err := strconv.Atoi(arg)
		if err != nil || page < 0 || page*browserPageSize >= len(bs.Entries)+browserPageSize {
			return "Invalid data"
		}
		bs.Page = page

	case "fav":
		faves := b.store.DirFavorites(cb.From.ID)
		starred := false
		for _, d := range faves {
			if d == bs.Dir {
				starred = true
				break
			}
		}
		if starred {
			b.store.RemoveDirFavorite(cb.From.ID, bs.Dir)
		} else {
			b.store.AddDirFavorite(cb.From.ID, bs.Dir)
		}
		b.reloadBrowserEntries(cb.From.ID, bs)
		if starred {
			return "Unstarred"
		}
		return "Starred"

	case "sel":
		b.clearUI(cb.From.ID)
		if err := b.editText(ctx, st.ChatID, st.MessageID, "🌱 Starting in `"+bs.Dir+"`"); err != nil {
			b.log.Debug().Err(err).Msg("browser finalize edit failed")
		}
		b.createAndBind(ctx, st.ChatID, key, bs.Dir, filepath.Base(bs.Dir), nil, st.Stash)
		return ""

	case "cancel":
		b.clearUI(cb.From.ID)
		if err := b.editText(ctx, st.ChatID, st.MessageID, "✖️ Cancelled"); err != nil {
			b.log.Debug().Err(err).Msg("browser cancel edit failed")
		}
		return ""

	default:
		return "Invalid data"
	}

	text, kb := b.renderBrowser(bs)
	if err := b.editKB(ctx, st.ChatID, st.MessageID, text, kb); err != nil {
		b.log.Debug().Err(err).Msg("browser refresh failed")
	}
	return ""
}
