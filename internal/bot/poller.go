package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/colonyops/waggle/internal/core/terminal"
	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/queue"
	"github.com/colonyops/waggle/internal/state"
)

const (
	// deadMissCycles is how many consecutive listings a window must be
	// absent from before it counts as dead. Absorbs transient tmux hiccups.
	deadMissCycles = 3

	// autoCloseSweepInterval is the cadence of the auto-close timer sweep
	// and of parked auto-topic retries.
	autoCloseSweepInterval = 10 * time.Second

	// deadNotifyTTL bounds the one-shot dead-window notification dedup.
	deadNotifyTTL = 12 * time.Hour
)

// paneState is the topic-emoji state machine's input.
type paneState int

const (
	stateActive paneState = iota
	stateIdle
	stateDead
)

func emojiFor(st paneState) string {
	switch st {
	case stateActive:
		return "⚡"
	case stateDead:
		return "💀"
	default:
		return "💤"
	}
}

// topicRef addresses a forum topic for the title cache.
type topicRef struct {
	Chat  int64
	Topic int64
}

// Poller walks every binding once a second: it mirrors interactive prompt
// regions, extracts the status line, detects window death and renames, and
// keeps the topic-title emoji in sync. It also hosts the slower loops, the
// topic liveness probe and the auto-close sweep.
type Poller struct {
	b   *Bridge
	log zerolog.Logger

	missing    map[string]int              // consecutive cycles a bound window was unlisted
	lastStatus map[state.ThreadKey]string  // last status text pushed per thread
	lastState  map[state.ThreadKey]paneState
	lastTitle  map[topicRef]string // suppresses redundant title edits
	emojiOff   map[int64]bool      // chats where title edits were denied
	closeAt    map[state.ThreadKey]time.Time
	notified   *cache.Cache // one-shot dead notifications, user:topic:window
}

// NewPoller builds the poller over an existing bridge.
func NewPoller(b *Bridge, log zerolog.Logger) *Poller {
	return &Poller{
		b:          b,
		log:        log.With().Str("component", "poller").Logger(),
		missing:    make(map[string]int),
		lastStatus: make(map[state.ThreadKey]string),
		lastState:  make(map[state.ThreadKey]paneState),
		lastTitle:  make(map[topicRef]string),
		emojiOff:   make(map[int64]bool),
		closeAt:    make(map[state.ThreadKey]time.Time),
		notified:   cache.New(deadNotifyTTL, time.Hour),
	}
}

// Run drives the three cadences until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	status := time.NewTicker(p.b.cfg.Poll.StatusInterval)
	defer status.Stop()
	probe := time.NewTicker(p.b.cfg.Poll.LivenessInterval)
	defer probe.Stop()
	sweep := time.NewTicker(autoCloseSweepInterval)
	defer sweep.Stop()

	p.log.Info().
		Dur("status_interval", p.b.cfg.Poll.StatusInterval).
		Dur("liveness_interval", p.b.cfg.Poll.LivenessInterval).
		Msg("poller started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-status.C:
			p.cycle(ctx)
		case <-probe.C:
			p.probeTopics(ctx)
		case <-sweep.C:
			p.sweepAutoClose(ctx)
			p.retryParkedTopics(ctx)
		}
	}
}

// cycle runs one status pass over all bindings. Panes are captured at most
// once per window even when several topics share it.
func (p *Poller) cycle(ctx context.Context) {
	windows, err := p.b.tmux.ListWindows(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("window listing failed")
		return
	}
	live := make(map[string]tmux.Window, len(windows))
	for _, w := range windows {
		live[w.ID] = w
	}

	binds := p.b.store.ThreadBindings()

	// Advance miss counters once per window, not once per binding.
	bound := make(map[string]bool, len(binds))
	for _, bd := range binds {
		if bound[bd.WindowID] {
			continue
		}
		bound[bd.WindowID] = true
		if _, ok := live[bd.WindowID]; ok {
			delete(p.missing, bd.WindowID)
		} else {
			p.missing[bd.WindowID]++
		}
	}
	for id := range p.missing {
		if !bound[id] {
			delete(p.missing, id)
		}
	}

	captures := make(map[string][]string)
	for _, bd := range binds {
		p.pollBinding(ctx, bd, live, captures)
	}
}

func (p *Poller) pollBinding(ctx context.Context, bd state.Binding, live map[string]tmux.Window, captures map[string][]string) {
	key := state.ThreadKey{UserID: bd.UserID, TopicID: bd.TopicID}

	w, alive := live[bd.WindowID]
	if !alive {
		if p.missing[bd.WindowID] >= deadMissCycles {
			p.markDead(ctx, key, bd.WindowID)
		}
		return
	}

	lines, ok := captures[bd.WindowID]
	if !ok {
		capture, err := p.b.tmux.CapturePane(ctx, bd.WindowID, false)
		if err != nil {
			if tmux.IsWindowGone(err) {
				p.markDead(ctx, key, bd.WindowID)
			} else {
				p.log.Debug().Err(err).Str("window", bd.WindowID).Msg("capture failed")
			}
			return
		}
		lines = terminal.Lines(capture)
		captures[bd.WindowID] = lines
	}

	// Interactive mirror guard: while a prompt region is on screen the user
	// is mid-navigation and status churn would only fight the keyboard.
	prompt := terminal.DetectPrompt(lines)
	if p.b.promptFor(key) != nil {
		if prompt == nil {
			p.b.resolvePrompt(ctx, key)
			return // re-detect next cycle, not instantly
		}
		p.b.upsertPrompt(ctx, key, bd.WindowID, prompt)
		return
	}
	if prompt != nil {
		p.b.upsertPrompt(ctx, key, bd.WindowID, prompt)
		return
	}

	status := terminal.StatusLine(lines)
	if status != p.lastStatus[key] {
		if status == "" {
			p.b.engine.Enqueue(queue.StatusClear(key.UserID, key.TopicID))
		} else {
			p.b.engine.Enqueue(queue.StatusUpdate(key.UserID, key.TopicID, bd.WindowID, status))
		}
		p.lastStatus[key] = status
	}

	if w.Name != "" && p.b.store.DisplayName(bd.WindowID) != w.Name {
		p.b.store.SetDisplayName(bd.WindowID, w.Name)
		p.log.Debug().Str("window", bd.WindowID).Str("name", w.Name).Msg("window renamed")
	}

	next := stateIdle
	if status != "" {
		next = stateActive
	}
	p.transition(ctx, key, bd.WindowID, next)
}

// markDead flips the thread into the dead state and sends the one-shot
// recovery notification.
func (p *Poller) markDead(ctx context.Context, key state.ThreadKey, windowID string) {
	if p.lastStatus[key] != "" {
		p.b.engine.Enqueue(queue.StatusClear(key.UserID, key.TopicID))
		p.lastStatus[key] = ""
	}
	p.transition(ctx, key, windowID, stateDead)

	dedup := fmt.Sprintf("%d:%d:%s", key.UserID, key.TopicID, windowID)
	if _, dup := p.notified.Get(dedup); dup {
		return
	}
	p.notified.SetDefault(dedup, true)

	chatID := p.b.store.ResolveChatID(key.UserID, key.TopicID)
	ws, _ := p.b.store.WindowState(windowID)
	if ws.Cwd != "" && dirExists(ws.Cwd) {
		p.b.openRecovery(ctx, chatID, key, windowID, ws.Cwd, "")
		return
	}
	p.b.reply(ctx, chatID, key.TopicID, "💀 Window `"+windowID+"` is gone. Send a message to start over.")
}

// transition updates the emoji state machine and the auto-close timer.
func (p *Poller) transition(ctx context.Context, key state.ThreadKey, windowID string, next paneState) {
	if prev, known := p.lastState[key]; !known || prev != next {
		p.lastState[key] = next
		p.resetCloseTimer(key, next)
	}
	p.syncTitle(ctx, key, windowID, next)
}

// resetCloseTimer arms or clears the auto-close deadline on a state change.
func (p *Poller) resetCloseTimer(key state.ThreadKey, next paneState) {
	delete(p.closeAt, key)
	var after int
	switch next {
	case stateIdle:
		after = p.b.cfg.AutoClose.DoneAfter
	case stateDead:
		after = p.b.cfg.AutoClose.DeadAfter
	}
	if after > 0 {
		p.closeAt[key] = time.Now().Add(time.Duration(after) * time.Minute)
	}
}

// syncTitle keeps the topic title prefixed with the state emoji. One denied
// edit disables title updates for that chat until restart.
func (p *Poller) syncTitle(ctx context.Context, key state.ThreadKey, windowID string, st paneState) {
	if key.TopicID == 0 {
		return // direct messages have no topic title
	}
	chatID := p.b.store.ResolveChatID(key.UserID, key.TopicID)
	if p.emojiOff[chatID] {
		return
	}

	name := p.b.store.DisplayName(windowID)
	if name == "" {
		name = windowID
	}
	title := emojiFor(st) + " " + name

	ref := topicRef{Chat: chatID, Topic: key.TopicID}
	if p.lastTitle[ref] == title {
		return
	}
	if err := p.b.platform.EditTopicName(ctx, chatID, key.TopicID, title); err != nil {
		if errors.Is(err, ErrNoRights) {
			p.emojiOff[chatID] = true
			p.log.Warn().Int64("chat", chatID).Msg("topic title edit denied, emoji updates disabled for chat")
		} else {
			p.log.Debug().Err(err).Int64("topic", key.TopicID).Msg("title edit failed")
		}
		return
	}
	p.lastTitle[ref] = title
}

// probeTopics checks each bound topic still exists. A deleted topic takes
// its window down with it.
func (p *Poller) probeTopics(ctx context.Context) {
	for _, bd := range p.b.store.ThreadBindings() {
		if bd.TopicID == 0 {
			continue
		}
		chatID := p.b.store.ResolveChatID(bd.UserID, bd.TopicID)
		err := p.b.platform.ProbeTopic(ctx, chatID, bd.TopicID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrTopicGone) {
			p.log.Debug().Err(err).Int64("topic", bd.TopicID).Msg("liveness probe failed")
			continue
		}

		key := state.ThreadKey{UserID: bd.UserID, TopicID: bd.TopicID}
		p.log.Info().Int64("topic", bd.TopicID).Str("window", bd.WindowID).Msg("topic deleted, killing window")
		if kerr := p.b.tmux.KillWindow(ctx, bd.WindowID); kerr != nil && !tmux.IsWindowGone(kerr) {
			p.log.Warn().Err(kerr).Str("window", bd.WindowID).Msg("kill after topic delete failed")
		}
		p.b.store.Unbind(bd.UserID, bd.TopicID)
		if len(p.b.store.BindingsForWindow(bd.WindowID)) == 0 {
			p.b.store.RemoveWindow(bd.WindowID)
		}
		p.b.clearThread(key)
		p.forget(key)
	}
}

// sweepAutoClose closes topics whose done/dead deadline has passed.
func (p *Poller) sweepAutoClose(ctx context.Context) {
	now := time.Now()
	for key, deadline := range p.closeAt {
		if now.Before(deadline) {
			continue
		}
		delete(p.closeAt, key)
		p.autoClose(ctx, key)
	}
}

func (p *Poller) autoClose(ctx context.Context, key state.ThreadKey) {
	if key.TopicID == 0 {
		return
	}
	wid, bnd := p.b.store.WindowForThread(key.UserID, key.TopicID)
	if !bnd {
		p.forget(key)
		return
	}

	chatID := p.b.store.ResolveChatID(key.UserID, key.TopicID)
	p.b.markAutoClosed(key)
	if err := p.b.platform.CloseTopic(ctx, chatID, key.TopicID); err != nil {
		p.log.Warn().Err(err).Int64("topic", key.TopicID).Msg("auto-close failed")
		return
	}
	p.log.Info().Int64("topic", key.TopicID).Str("window", wid).Msg("topic auto-closed")

	// The window keeps running; only the thread goes away.
	p.b.store.Unbind(key.UserID, key.TopicID)
	p.b.clearThread(key)
	p.forget(key)
}

// retryParkedTopics re-runs auto-topic creations whose rate-limit penalty
// has elapsed.
func (p *Poller) retryParkedTopics(ctx context.Context) {
	now := time.Now()
	for id, item := range p.b.topicRetry.Items() {
		parked, ok := item.Object.(pendingTopic)
		if !ok || now.Before(parked.ReadyAt) {
			continue
		}
		p.b.topicRetry.Delete(id)

		w, found, err := p.b.tmux.FindWindow(ctx, parked.Window.ID)
		if err != nil || !found {
			p.log.Debug().Str("window", parked.Window.ID).Msg("parked window gone, dropping")
			continue
		}
		p.log.Info().Str("window", w.ID).Msg("retrying parked auto-topic")
		p.b.createAutoTopic(ctx, w, parked.Entry)
	}
}

// forget drops all per-thread poller caches.
func (p *Poller) forget(key state.ThreadKey) {
	delete(p.lastStatus, key)
	delete(p.lastState, key)
	delete(p.closeAt, key)
	chatID := p.b.store.ResolveChatID(key.UserID, key.TopicID)
	delete(p.lastTitle, topicRef{Chat: chatID, Topic: key.TopicID})
}
