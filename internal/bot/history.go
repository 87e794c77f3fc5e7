package bot

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/colonyops/waggle/internal/core/markup"
	"github.com/colonyops/waggle/internal/core/transcript"
)

const (
	historyPageSize = 5

	// historyScanBuf bounds one transcript line; tool results with large
	// file contents routinely exceed bufio's default.
	historyScanBuf = 10 * 1024 * 1024
)

// showHistory renders the latest transcript page for the thread's window
// into a new message with pagination buttons.
func (b *Bridge) showHistory(ctx context.Context, msg *Message) {
	wid, bound := b.store.WindowForThread(msg.From.ID, msg.ThreadID)
	if !bound {
		b.replyMsg(ctx, msg, "⚠️ No window is bound here. Send a message to set one up.")
		return
	}

	records, err := b.loadHistory(wid)
	if err != nil {
		b.replyMsg(ctx, msg, "⚠️ "+err.Error())
		return
	}
	if len(records) == 0 {
		b.replyMsg(ctx, msg, "No transcript yet for `"+wid+"`.")
		return
	}

	text, hasOlder := renderHistoryPage(records, 0)
	if hasOlder {
		if _, err := b.sendKB(ctx, msg.Chat.ID, msg.ThreadID, text, historyKeyboard(0, true, false)); err != nil {
			b.log.Warn().Err(err).Msg("history send failed")
		}
		return
	}
	b.replyMsg(ctx, msg, text)
}

// handleHistoryPage serves one hp:/hn: press by re-rendering the requested
// page into the same message.
func (b *Bridge) handleHistoryPage(ctx context.Context, cb *Callback, topicID int64, arg string) string {
	page, err := strconv.Atoi(arg)
	if err != nil || page < 0 {
		return "Invalid data"
	}

	wid, bound := b.store.WindowForThread(cb.From.ID, topicID)
	if !bound {
		return "No window bound"
	}
	records, err := b.loadHistory(wid)
	if err != nil {
		return "Transcript unavailable"
	}
	if page*historyPageSize >= len(records) {
		return "No more pages"
	}

	text, hasOlder := renderHistoryPage(records, page)
	if err := b.editKB(ctx, cb.Message.Chat.ID, cb.Message.MessageID, text, historyKeyboard(page, hasOlder, page > 0)); err != nil {
		b.log.Debug().Err(err).Msg("history page edit failed")
	}
	return ""
}

// loadHistory reads and parses the full transcript of the window's current
// session.
func (b *Bridge) loadHistory(windowID string) ([]transcript.Record, error) {
	ws, ok := b.store.WindowState(windowID)
	if !ok {
		return nil, fmt.Errorf("no session recorded for %s", windowID)
	}

	path := ws.TranscriptPath
	if path == "" && ws.SessionID != "" {
		path, _ = transcript.FindSessionFile(b.cfg.Provider.ProjectsDir, ws.SessionID, ws.Cwd)
	}
	if path == "" {
		return nil, fmt.Errorf("no transcript located for %s", windowID)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var entries []transcript.Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), historyScanBuf)
	for sc.Scan() {
		e, err := transcript.DecodeLine(sc.Bytes())
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return transcript.ParseAll(entries), nil
}

// renderHistoryPage formats page (0 = latest) of the record list, oldest
// first within the page. hasOlder reports whether earlier records remain.
func renderHistoryPage(records []transcript.Record, page int) (string, bool) {
	end := len(records) - page*historyPageSize
	if end < 0 {
		end = 0
	}
	start := end - historyPageSize
	if start < 0 {
		start = 0
	}

	var parts []string
	for _, rec := range records[start:end] {
		icon := "🤖"
		if rec.Role == transcript.RoleUser {
			icon = "👤"
		}
		body := rec.Text
		if len(body) > 600 {
			cut := 600
			for cut > 0 && body[cut]&0xC0 == 0x80 {
				cut--
			}
			body = body[:cut] + "…"
		}
		parts = append(parts, icon+" "+markup.StripSentinels(body))
	}

	header := fmt.Sprintf("📖 History %d–%d of %d\n\n", start+1, end, len(records))
	return header + strings.Join(parts, "\n\n"), start > 0
}
