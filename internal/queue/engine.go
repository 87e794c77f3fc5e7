package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/colonyops/waggle/internal/core/markup"
	"github.com/colonyops/waggle/internal/core/transcript"
)

// Platform is the slice of the chat edge the engine needs. HTML variants
// take pre-rendered markup; Plain variants are the fallback when the
// platform rejects it with ErrBadMarkup. Rate limits surface as
// *RateLimitError from any call.
type Platform interface {
	SendHTML(ctx context.Context, chatID, topicID int64, html string) (int, error)
	SendPlain(ctx context.Context, chatID, topicID int64, text string) (int, error)
	EditHTML(ctx context.Context, chatID int64, messageID int, html string) error
	EditPlain(ctx context.Context, chatID int64, messageID int, text string) error
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// StatusFunc returns the window's current status line, "" when none. Called
// after content delivery so the status message can re-appear below it.
type StatusFunc func(ctx context.Context, windowID string) string

// ChatResolver maps a (user, topic) thread to the chat it is delivered in.
// Zero means unroutable and drops the task.
type ChatResolver func(userID, topicID int64) int64

// Config sizes the engine.
type Config struct {
	// Workers is the delivery pool size. The per-user claim set keeps a
	// user's tasks strictly ordered regardless of pool size.
	Workers int

	// PartLimit caps a merged message's length.
	PartLimit int
}

const (
	defaultWorkers = 4

	// claimRetry bounds how long a parked worker waits when every queue
	// head belongs to a claimed user.
	claimRetry = 200 * time.Millisecond
)

type threadKey struct {
	UserID  int64
	TopicID int64
}

// statusMessage is the live status line shown at the bottom of one thread.
type statusMessage struct {
	MessageID int
	WindowID  string
	Text      string
}

type toolMsgRef struct {
	ChatID    int64
	MessageID int
}

// Engine is the delivery pump. Enqueue from any goroutine; Run blocks until
// ctx is done.
type Engine struct {
	platform  Platform
	resolve   ChatResolver
	status    StatusFunc
	log       zerolog.Logger
	workers   int
	partLimit int

	mu      sync.Mutex
	queues  map[int64][]Task
	claimed map[int64]bool
	wake    chan struct{}

	statusMu sync.Mutex
	statuses map[threadKey]*statusMessage

	// toolMsgs remembers tool_use message ids so the matching tool_result
	// can edit them in place. TTL'd: a result that never arrives should not
	// pin the entry forever.
	toolMsgs *cache.Cache
}

// New builds an engine over the given platform edge.
func New(cfg Config, platform Platform, resolve ChatResolver, status StatusFunc, log zerolog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.PartLimit <= 0 {
		cfg.PartLimit = markup.PartLimit
	}
	return &Engine{
		platform:  platform,
		resolve:   resolve,
		status:    status,
		log:       log.With().Str("component", "queue").Logger(),
		workers:   cfg.Workers,
		partLimit: cfg.PartLimit,
		queues:    make(map[int64][]Task),
		claimed:   make(map[int64]bool),
		wake:      make(chan struct{}, cfg.Workers),
		statuses:  make(map[threadKey]*statusMessage),
		toolMsgs:  cache.New(2*time.Hour, 30*time.Minute),
	}
}

// Enqueue appends a task to its user's FIFO.
func (e *Engine) Enqueue(t Task) {
	e.mu.Lock()
	e.queues[t.UserID] = append(e.queues[t.UserID], t)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run services the queues with the worker pool until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (e *Engine) worker(ctx context.Context) {
	timer := time.NewTimer(claimRetry)
	defer timer.Stop()

	for {
		t, ok := e.next()
		if !ok {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(claimRetry)
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
			case <-timer.C:
			}
			continue
		}

		e.process(ctx, t)
		e.releaseUser(t.UserID)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// next claims the head task of any unclaimed user. A content head absorbs
// compatible successors (merge) before the tail goes back.
func (e *Engine) next() (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for user, q := range e.queues {
		if e.claimed[user] || len(q) == 0 {
			continue
		}
		t := q[0]
		rest := q[1:]
		if t.Kind == KindContent {
			t, rest = mergeHead(t, rest, e.partLimit)
		}
		if len(rest) == 0 {
			delete(e.queues, user)
		} else {
			e.queues[user] = rest
		}
		e.claimed[user] = true
		return t, true
	}
	return Task{}, false
}

func (e *Engine) releaseUser(userID int64) {
	e.mu.Lock()
	delete(e.claimed, userID)
	more := len(e.queues[userID]) > 0
	e.mu.Unlock()

	if more {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

// mergeHead folds queued single-part text tasks for the same thread and
// window into the head while the combined length stays under limit. Tool
// traffic never merges: tool_use ids must map to their own messages.
func mergeHead(t Task, rest []Task, limit int) (Task, []Task) {
	if len(t.Parts) != 1 || !mergeable(t) {
		return t, rest
	}
	text := t.Parts[0]
	for len(rest) > 0 {
		c := rest[0]
		if c.Kind != KindContent || c.WindowID != t.WindowID || c.TopicID != t.TopicID ||
			!mergeable(c) || len(c.Parts) != 1 {
			break
		}
		if len(text)+2+len(c.Parts[0]) > limit {
			break
		}
		text += "\n\n" + c.Parts[0]
		rest = rest[1:]
	}
	t.Parts = []string{text}
	return t, rest
}

func mergeable(t Task) bool {
	return t.ContentType != transcript.TypeToolUse && t.ContentType != transcript.TypeToolResult
}

// process delivers one task, sleeping through rate limits and retrying the
// same task. Any other failure is logged and the task dropped; the worker
// never dies.
func (e *Engine) process(ctx context.Context, t Task) {
	for {
		err := e.deliver(ctx, t)
		if err == nil {
			return
		}
		if rl, ok := AsRateLimit(err); ok {
			wait := rl.RetryAfter
			if wait <= 0 {
				wait = time.Second
			}
			e.log.Warn().Int64("user", t.UserID).Dur("retry_after", wait).Msg("rate limited, retrying task")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		e.log.Error().Err(err).Int64("user", t.UserID).Int64("topic", t.TopicID).Msg("delivery failed, dropping task")
		return
	}
}

func (e *Engine) deliver(ctx context.Context, t Task) error {
	chatID := e.resolve(t.UserID, t.TopicID)
	if chatID == 0 {
		return fmt.Errorf("no chat for user %d topic %d", t.UserID, t.TopicID)
	}

	switch t.Kind {
	case KindContent:
		return e.deliverContent(ctx, chatID, t)
	case KindStatusUpdate:
		return e.deliverStatus(ctx, chatID, t)
	case KindStatusClear:
		return e.deliverClear(ctx, chatID, t)
	}
	return nil
}

func (e *Engine) deliverContent(ctx context.Context, chatID int64, t Task) error {
	if len(t.Parts) == 0 {
		return nil
	}
	key := threadKey{t.UserID, t.TopicID}

	// A tool result lands on its invocation's message when we still know it.
	if t.ContentType == transcript.TypeToolResult && t.ToolUseID != "" {
		if ref, ok := e.toolMsg(t.ToolUseID); ok && ref.ChatID == chatID {
			err := e.edit(ctx, chatID, ref.MessageID, t.Parts[0])
			if _, rl := AsRateLimit(err); rl {
				return err
			}
			if err == nil {
				e.toolMsgs.Delete(t.ToolUseID)
				for _, part := range t.Parts[1:] {
					if _, err := e.send(ctx, chatID, t.TopicID, part); err != nil {
						return err
					}
				}
				return e.appendStatus(ctx, chatID, t.UserID, t.TopicID, t.WindowID)
			}
			// The message may have been deleted underneath us; send fresh.
			e.toolMsgs.Delete(t.ToolUseID)
		}
	}

	lastID := 0
	for i, part := range t.Parts {
		sent := false
		if i == 0 {
			// Becoming the content of the live status message avoids the
			// delete-then-send flicker.
			if id, ok := e.statusFor(key, t.WindowID); ok {
				err := e.edit(ctx, chatID, id, part)
				if _, rl := AsRateLimit(err); rl {
					return err
				}
				if err == nil {
					e.dropStatusIf(key, id)
					lastID = id
					sent = true
				}
			}
		}
		if !sent {
			id, err := e.send(ctx, chatID, t.TopicID, part)
			if err != nil {
				return err
			}
			lastID = id
		}
	}

	if t.ContentType == transcript.TypeToolUse && t.ToolUseID != "" && lastID != 0 {
		e.toolMsgs.SetDefault(t.ToolUseID, toolMsgRef{ChatID: chatID, MessageID: lastID})
	}

	return e.appendStatus(ctx, chatID, t.UserID, t.TopicID, t.WindowID)
}

func (e *Engine) deliverStatus(ctx context.Context, chatID int64, t Task) error {
	key := threadKey{t.UserID, t.TopicID}

	e.statusMu.Lock()
	cur := e.statuses[key]
	e.statusMu.Unlock()

	switch {
	case cur == nil:
		id, err := e.send(ctx, chatID, t.TopicID, t.Text)
		if err != nil {
			return err
		}
		e.setStatus(key, &statusMessage{MessageID: id, WindowID: t.WindowID, Text: t.Text})

	case cur.WindowID == t.WindowID && cur.Text == t.Text:
		// Unchanged: zero platform calls.
		return nil

	case cur.WindowID == t.WindowID:
		err := e.edit(ctx, chatID, cur.MessageID, t.Text)
		if _, rl := AsRateLimit(err); rl {
			return err
		}
		if err != nil {
			// Deleted underneath us; forget it so the next update resends.
			e.dropStatusIf(key, cur.MessageID)
			return err
		}
		e.setStatus(key, &statusMessage{MessageID: cur.MessageID, WindowID: t.WindowID, Text: t.Text})

	default:
		// Status belongs to another window now; replace wholesale.
		_ = e.platform.Delete(ctx, chatID, cur.MessageID)
		id, err := e.send(ctx, chatID, t.TopicID, t.Text)
		if err != nil {
			e.dropStatusIf(key, cur.MessageID)
			return err
		}
		e.setStatus(key, &statusMessage{MessageID: id, WindowID: t.WindowID, Text: t.Text})
	}
	return nil
}

func (e *Engine) deliverClear(ctx context.Context, chatID int64, t Task) error {
	key := threadKey{t.UserID, t.TopicID}

	e.statusMu.Lock()
	cur := e.statuses[key]
	delete(e.statuses, key)
	e.statusMu.Unlock()

	if cur == nil {
		return nil
	}
	if err := e.platform.Delete(ctx, chatID, cur.MessageID); err != nil {
		if _, rl := AsRateLimit(err); rl {
			e.setStatus(key, cur)
			return err
		}
		e.log.Debug().Err(err).Msg("status delete failed")
	}
	return nil
}

// appendStatus re-polls the pane and, when a status line is showing, puts
// the status message back below the content just delivered.
func (e *Engine) appendStatus(ctx context.Context, chatID int64, userID, topicID int64, windowID string) error {
	if e.status == nil || windowID == "" {
		return nil
	}
	text := e.status(ctx, windowID)
	if text == "" {
		return nil
	}
	return e.deliverStatus(ctx, chatID, StatusUpdate(userID, topicID, windowID, text))
}

// send converts markup once at the edge. Markup the platform rejects falls
// back to plain text with sentinels stripped.
func (e *Engine) send(ctx context.Context, chatID, topicID int64, raw string) (int, error) {
	id, err := e.platform.SendHTML(ctx, chatID, topicID, markup.Convert(raw))
	if err == nil || !errors.Is(err, ErrBadMarkup) {
		return id, err
	}
	e.log.Debug().Msg("markup rejected, sending plain")
	return e.platform.SendPlain(ctx, chatID, topicID, markup.StripSentinels(raw))
}

func (e *Engine) edit(ctx context.Context, chatID int64, messageID int, raw string) error {
	err := e.platform.EditHTML(ctx, chatID, messageID, markup.Convert(raw))
	if err == nil || !errors.Is(err, ErrBadMarkup) {
		return err
	}
	e.log.Debug().Msg("markup rejected, editing plain")
	return e.platform.EditPlain(ctx, chatID, messageID, markup.StripSentinels(raw))
}

func (e *Engine) toolMsg(toolUseID string) (toolMsgRef, bool) {
	v, ok := e.toolMsgs.Get(toolUseID)
	if !ok {
		return toolMsgRef{}, false
	}
	ref, ok := v.(toolMsgRef)
	return ref, ok
}

func (e *Engine) statusFor(key threadKey, windowID string) (int, bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	sm := e.statuses[key]
	if sm == nil || sm.WindowID != windowID {
		return 0, false
	}
	return sm.MessageID, true
}

func (e *Engine) setStatus(key threadKey, sm *statusMessage) {
	e.statusMu.Lock()
	e.statuses[key] = sm
	e.statusMu.Unlock()
}

// dropStatusIf forgets the thread's status entry when it still points at
// messageID. A racing setStatus wins.
func (e *Engine) dropStatusIf(key threadKey, messageID int) {
	e.statusMu.Lock()
	if sm := e.statuses[key]; sm != nil && sm.MessageID == messageID {
		delete(e.statuses, key)
	}
	e.statusMu.Unlock()
}
