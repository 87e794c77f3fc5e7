package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/colonyops/waggle/internal/core/config"
	"github.com/colonyops/waggle/internal/core/markup"
	"github.com/colonyops/waggle/internal/core/terminal"
	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/core/transcript"
	"github.com/colonyops/waggle/internal/queue"
	"github.com/colonyops/waggle/internal/state"
	"github.com/colonyops/waggle/pkg/executil"
)

// Platform is the full chat-platform surface the bridge drives. Telegram
// implements it; tests substitute a fake. The embedded queue slice covers
// plain send/edit/delete; the rest is keyboards, documents, topics, and the
// update stream.
type Platform interface {
	queue.Platform

	SendKeyboard(ctx context.Context, chatID, topicID int64, html string, kb tgbotapi.InlineKeyboardMarkup) (int, error)
	EditKeyboard(ctx context.Context, chatID int64, messageID int, html string, kb tgbotapi.InlineKeyboardMarkup) error
	SendDocument(ctx context.Context, chatID, topicID int64, filename string, data []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) error
	SendTyping(ctx context.Context, chatID, topicID int64)
	CreateTopic(ctx context.Context, chatID int64, name string) (int64, error)
	EditTopicName(ctx context.Context, chatID, topicID int64, name string) error
	CloseTopic(ctx context.Context, chatID, topicID int64) error
	ProbeTopic(ctx context.Context, chatID, topicID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	Updates(ctx context.Context) <-chan Update
	Username() string
}

// uiKind tags the pending keyboard flow a user is in.
type uiKind string

const (
	uiBrowser  uiKind = "browser"
	uiPicker   uiKind = "picker"
	uiRecovery uiKind = "recovery"
	uiResume   uiKind = "resume"
)

// uiState is one user's pending keyboard interaction. A user has at most one;
// opening a new flow replaces the old. TopicID anchors the state to the
// thread that opened it, so callbacks arriving from another topic are stale.
type uiState struct {
	Kind      uiKind
	ChatID    int64
	TopicID   int64
	MessageID int

	// Stash is the text that triggered the flow. It is forwarded to the
	// window once the flow resolves to a live one.
	Stash string

	Browser  *browserState
	Picker   *pickerState
	Recovery *recoveryState
	Resume   *resumeState
}

// promptState tracks the mirrored interactive prompt for one thread: the
// keyboard message that relays an in-terminal question or plan approval.
type promptState struct {
	WindowID  string
	Kind      string
	MessageID int
	Text      string
}

// pendingTopic is a deferred auto-topic creation, parked when the platform
// rate-limited the createForumTopic call. ReadyAt is when the penalty ends.
type pendingTopic struct {
	Window  tmux.Window
	Entry   state.SessionMapEntry
	ReadyAt time.Time
}

// autoTopicRetryTTL is how long a rate-limited auto-topic creation stays
// parked before the poller sweep retries it.
const autoTopicRetryTTL = 24 * time.Hour

// Hook handshake grace period after a new window receives its first prompt.
// The provider hook fires on prompt submit, so the session map entry should
// land well inside this.
const (
	defaultHookWait = 20 * time.Second
	defaultHookPoll = time.Second
)

// Bridge connects the Telegram update stream, the session monitor's record
// feed, and the tmux adapter. It owns the delivery queue and all per-user
// interface state; the Poller is its periodic sibling.
type Bridge struct {
	cfg      *config.Config
	store    *state.Store
	tmux     tmux.Adapter
	platform Platform
	engine   *queue.Engine
	exec     executil.Executor
	log      zerolog.Logger

	// hookWait/hookPoll bound the session-map handshake watch on fresh
	// windows; tests shrink them.
	hookWait time.Duration
	hookPoll time.Duration

	mu      sync.Mutex
	ui      map[int64]*uiState // user → pending keyboard flow
	prompts map[state.ThreadKey]*promptState
	bash    map[state.ThreadKey]*bashCapture

	// autoClosed marks topics this process closed itself, so the resulting
	// service message does not kill the window like a user-initiated close.
	autoClosed map[state.ThreadKey]bool

	// topicRetry parks auto-topic creations that hit a rate limit, keyed by
	// window id; the value deadline gates the poller's retry sweep.
	topicRetry *cache.Cache
}

// New wires a Bridge over the given store, adapter, and platform edge. The
// delivery queue is constructed here so its chat resolution and status
// re-polling close over the same store and adapter.
func New(cfg *config.Config, st *state.Store, tm tmux.Adapter, platform Platform, exec executil.Executor, log zerolog.Logger) *Bridge {
	b := &Bridge{
		cfg:        cfg,
		store:      st,
		tmux:       tm,
		platform:   platform,
		exec:       exec,
		log:        log.With().Str("component", "bridge").Logger(),
		ui:         make(map[int64]*uiState),
		prompts:    make(map[state.ThreadKey]*promptState),
		bash:       make(map[state.ThreadKey]*bashCapture),
		autoClosed: make(map[state.ThreadKey]bool),
		topicRetry: cache.New(autoTopicRetryTTL, time.Hour),
		hookWait:   defaultHookWait,
		hookPoll:   defaultHookPoll,
	}
	b.engine = queue.New(queue.Config{}, platform, st.ResolveChatID, b.statusLine, log)
	return b
}

// Queue exposes the delivery engine so the supervisor can run its worker
// pool alongside the other loops.
func (b *Bridge) Queue() *queue.Engine {
	return b.engine
}

// Run consumes the platform update stream until ctx is done. Updates are
// handled inline: the flows themselves are quick, and anything long-running
// (bash capture) forks its own goroutine.
func (b *Bridge) Run(ctx context.Context) error {
	updates := b.platform.Updates(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(ctx, u)
		}
	}
}

// dispatch routes one update: permission filter, group-chat bookkeeping,
// service messages, then commands, plain text, or callbacks.
func (b *Bridge) dispatch(ctx context.Context, u Update) {
	switch {
	case u.Callback != nil:
		cb := u.Callback
		if cb.From == nil || !b.cfg.AllowsUser(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)

	case u.Message != nil:
		msg := u.Message
		if msg.From == nil || msg.Chat == nil || !b.cfg.AllowsUser(msg.From.ID) {
			if msg.From != nil {
				b.log.Debug().Int64("user", msg.From.ID).Msg("ignoring message from unlisted user")
			}
			return
		}

		// Remember which group chat owns this thread so outbound traffic
		// routes back to it instead of the user's DM.
		if msg.Chat.Type == "group" || msg.Chat.Type == "supergroup" {
			b.store.SetGroupChat(msg.From.ID, msg.ThreadID, msg.Chat.ID)
		}

		if msg.TopicClosed != nil {
			b.handleTopicClosed(ctx, msg)
			return
		}

		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		if text == "" {
			return
		}
		if strings.HasPrefix(text, "/") {
			b.handleCommand(ctx, msg, text)
			return
		}
		b.handleText(ctx, msg, text)
	}
}

// handleTopicClosed reacts to a topic being closed. A close we issued
// ourselves (auto-close) only tidies state; a close by the user also kills
// the bound window.
func (b *Bridge) handleTopicClosed(ctx context.Context, msg *Message) {
	key := state.ThreadKey{UserID: msg.From.ID, TopicID: msg.ThreadID}

	b.mu.Lock()
	ours := b.autoClosed[key]
	delete(b.autoClosed, key)
	b.mu.Unlock()

	wid, bound := b.store.WindowForThread(key.UserID, key.TopicID)
	if !bound {
		return
	}
	if !ours {
		if err := b.tmux.KillWindow(ctx, wid); err != nil && !tmux.IsWindowGone(err) {
			b.log.Warn().Err(err).Str("window", wid).Msg("kill on topic close failed")
		}
	}
	b.store.Unbind(key.UserID, key.TopicID)
	b.clearThread(key)
	b.log.Info().Str("window", wid).Int64("topic", key.TopicID).Bool("auto", ours).Msg("topic closed, unbound")
}

// OnRecords is the monitor's delivery callback: fan transcript records out to
// every thread bound to the window, subject to each window's notification
// mode, then advance the per-user read offsets.
func (b *Bridge) OnRecords(ctx context.Context, windowID, sessionID string, records []transcript.Record, offset int64) {
	bindings := b.store.BindingsForWindow(windowID)
	if len(bindings) == 0 {
		return
	}
	mode := b.store.NotificationMode(windowID)

	for _, key := range bindings {
		for _, rec := range records {
			if rec.Interactive {
				// The poller's prompt mirror owns these; a plain message
				// would duplicate the keyboard UI.
				continue
			}
			if mode == config.NotifyMuted {
				continue
			}
			if mode == config.NotifyErrorsOnly && !rec.IsError {
				continue
			}
			if len(rec.ImageData) > 0 {
				chatID := b.store.ResolveChatID(key.UserID, key.TopicID)
				if err := b.platform.SendDocument(ctx, chatID, key.TopicID, "image.png", rec.ImageData, "", nil); err != nil {
					b.log.Warn().Err(err).Msg("image delivery failed")
				}
				continue
			}
			parts := markup.SplitMessage(rec.Text, markup.PartLimit)
			b.engine.Enqueue(queue.Content(key.UserID, key.TopicID, windowID, parts, rec.Type, rec.ToolUseID))
		}
		b.store.SetReadOffset(key.UserID, windowID, offset)
	}
}

// OnNewWindow is the monitor's callback for a window nobody is bound to yet:
// create a forum topic for it and bind. Rate limits park the creation in
// topicRetry for the poller sweep.
func (b *Bridge) OnNewWindow(ctx context.Context, w tmux.Window, entry state.SessionMapEntry) {
	b.createAutoTopic(ctx, w, entry)
}

func (b *Bridge) createAutoTopic(ctx context.Context, w tmux.Window, entry state.SessionMapEntry) {
	chatID, userID := b.autoTopicTarget()
	if chatID == 0 || userID == 0 {
		b.log.Debug().Str("window", w.ID).Msg("no group target for auto-topic, skipping")
		return
	}

	name := entry.WindowName
	if name == "" {
		name = w.Name
	}
	if name == "" {
		name = w.ID
	}

	topicID, err := b.platform.CreateTopic(ctx, chatID, name)
	if err != nil {
		if rl, ok := queue.AsRateLimit(err); ok {
			parked := pendingTopic{Window: w, Entry: entry, ReadyAt: time.Now().Add(rl.RetryAfter)}
			b.topicRetry.SetDefault(w.ID, parked)
			b.log.Warn().Str("window", w.ID).Dur("retry_after", rl.RetryAfter).Msg("auto-topic rate limited, parked")
			return
		}
		b.log.Warn().Err(err).Str("window", w.ID).Msg("auto-topic creation failed")
		return
	}

	b.store.SetGroupChat(userID, topicID, chatID)
	b.store.Bind(userID, topicID, w.ID)
	if entry.SessionID != "" || entry.Cwd != "" {
		b.store.SetWindowState(w.ID, state.WindowState{
			SessionID:      entry.SessionID,
			Cwd:            entry.Cwd,
			WindowName:     name,
			TranscriptPath: entry.TranscriptPath,
		})
	} else {
		b.store.SetDisplayName(w.ID, name)
	}
	b.reply(ctx, chatID, topicID, "📌 Bound to window `"+w.ID+"` ("+name+")")
	b.log.Info().Str("window", w.ID).Int64("topic", topicID).Msg("auto-topic created")
}

// autoTopicTarget picks the chat and user a fresh topic belongs to: the first
// existing binding that lives in a group chat, else the configured group and
// the primary allowed user.
func (b *Bridge) autoTopicTarget() (chatID, userID int64) {
	for _, bind := range b.store.ThreadBindings() {
		chat := b.store.ResolveChatID(bind.UserID, bind.TopicID)
		if chat != bind.UserID {
			return chat, bind.UserID
		}
	}
	if b.cfg.Telegram.GroupID != 0 {
		return b.cfg.Telegram.GroupID, b.cfg.PrimaryUser()
	}
	return 0, 0
}

// statusLine captures the window's pane and extracts the spinner status. It
// is the queue engine's re-poll hook, called after each content delivery.
func (b *Bridge) statusLine(ctx context.Context, windowID string) string {
	capture, err := b.tmux.CapturePane(ctx, windowID, false)
	if err != nil {
		return ""
	}
	return terminal.StatusLine(terminal.Lines(capture))
}

// reply renders text and sends it to the thread, logging failures rather
// than surfacing them: replies are advisory.
func (b *Bridge) reply(ctx context.Context, chatID, topicID int64, text string) {
	if _, err := b.platform.SendHTML(ctx, chatID, topicID, markup.Convert(text)); err != nil {
		b.log.Warn().Err(err).Int64("chat", chatID).Int64("topic", topicID).Msg("reply failed")
	}
}

// replyMsg replies into the thread an inbound message arrived in.
func (b *Bridge) replyMsg(ctx context.Context, msg *Message, text string) {
	b.reply(ctx, msg.Chat.ID, msg.ThreadID, text)
}

// sendKB renders text and sends it with an inline keyboard attached.
func (b *Bridge) sendKB(ctx context.Context, chatID, topicID int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error) {
	return b.platform.SendKeyboard(ctx, chatID, topicID, markup.Convert(text), kb)
}

// editKB renders text and edits a keyboard message in place.
func (b *Bridge) editKB(ctx context.Context, chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	return b.platform.EditKeyboard(ctx, chatID, messageID, markup.Convert(text), kb)
}

// editText renders text and edits a message in place, dropping any keyboard.
func (b *Bridge) editText(ctx context.Context, chatID int64, messageID int, text string) error {
	return b.platform.EditHTML(ctx, chatID, messageID, markup.Convert(text))
}

// setUI installs the user's pending keyboard flow, replacing any previous
// one, and returns the state for the caller to fill.
func (b *Bridge) setUI(userID int64, st *uiState) {
	b.mu.Lock()
	b.ui[userID] = st
	b.mu.Unlock()
}

// userUI returns the user's pending flow, nil when none.
func (b *Bridge) userUI(userID int64) *uiState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ui[userID]
}

// clearUI drops the user's pending flow.
func (b *Bridge) clearUI(userID int64) {
	b.mu.Lock()
	delete(b.ui, userID)
	b.mu.Unlock()
}

// uiActiveFor reports whether the user has a pending keyboard flow anchored
// to this topic. Inbound text is rejected while one is showing.
func (b *Bridge) uiActiveFor(userID, topicID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.ui[userID]
	return st != nil && st.TopicID == topicID
}

// promptFor returns the thread's mirrored interactive prompt, nil when none.
func (b *Bridge) promptFor(key state.ThreadKey) *promptState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prompts[key]
}

func (b *Bridge) setPrompt(key state.ThreadKey, p *promptState) {
	b.mu.Lock()
	b.prompts[key] = p
	b.mu.Unlock()
}

func (b *Bridge) clearPrompt(key state.ThreadKey) {
	b.mu.Lock()
	delete(b.prompts, key)
	b.mu.Unlock()
}

// clearThread drops every piece of per-thread interface state: prompt
// mirror, pending flow anchored here, and any running bash capture.
func (b *Bridge) clearThread(key state.ThreadKey) {
	b.mu.Lock()
	delete(b.prompts, key)
	if st := b.ui[key.UserID]; st != nil && st.TopicID == key.TopicID {
		delete(b.ui, key.UserID)
	}
	bc := b.bash[key]
	delete(b.bash, key)
	b.mu.Unlock()

	if bc != nil {
		bc.cancel()
	}
	b.engine.Enqueue(queue.StatusClear(key.UserID, key.TopicID))
}

// markAutoClosed flags a topic close as self-inflicted before issuing it.
func (b *Bridge) markAutoClosed(key state.ThreadKey) {
	b.mu.Lock()
	b.autoClosed[key] = true
	b.mu.Unlock()
}

// boundWindow resolves the thread's binding and the window's live handle.
// found reports the binding; alive reports the window still exists.
func (b *Bridge) boundWindow(ctx context.Context, userID, topicID int64) (wid string, w tmux.Window, bound, alive bool) {
	wid, bound = b.store.WindowForThread(userID, topicID)
	if !bound {
		return "", tmux.Window{}, false, false
	}
	w, ok, err := b.tmux.FindWindow(ctx, wid)
	if err != nil {
		b.log.Debug().Err(err).Str("window", wid).Msg("window lookup failed")
		return wid, tmux.Window{}, true, false
	}
	return wid, w, true, ok
}

// displayTitle is the window's topic-facing name: stored display name first,
// then the id itself.
func (b *Bridge) displayTitle(windowID string) string {
	if name := b.store.DisplayName(windowID); name != "" {
		return name
	}
	return windowID
}
