// Package bot is the Telegram side of the bridge: the platform edge, the
// update dispatch loop, the status poller, and the binding, recovery, and
// inline-keyboard flows.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/colonyops/waggle/internal/queue"
)

// ErrTopicGone reports that a forum topic no longer exists. Surfaced by the
// liveness probe and by sends into a deleted topic.
var ErrTopicGone = errors.New("bot: topic gone")

// ErrNoRights reports the bot lacks permission for a chat operation, e.g.
// editing topic names. The poller disables emoji updates on it.
var ErrNoRights = errors.New("bot: insufficient rights")

// Telegram is the thin edge over the Bot API. The pinned library predates
// forum topics, so topic-aware calls go through MakeRequest with explicit
// params and responses are decoded into the package's own wire structs.
type Telegram struct {
	api     *tgbotapi.BotAPI
	log     zerolog.Logger
	limiter *rateLimiter
}

// NewTelegram authenticates the bot token.
func NewTelegram(token string, log zerolog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	t := &Telegram{
		api:     api,
		log:     log.With().Str("component", "telegram").Logger(),
		limiter: newRateLimiter(),
	}
	t.log.Info().Str("username", api.Self.UserName).Msg("authorized")
	return t, nil
}

// Username returns the authenticated bot's @name.
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// SendHTML sends pre-rendered HTML into a thread and returns the message id.
func (t *Telegram) SendHTML(ctx context.Context, chatID, topicID int64, html string) (int, error) {
	return t.sendMessage(ctx, chatID, topicID, html, "HTML", nil)
}

// SendPlain sends text with no parse mode.
func (t *Telegram) SendPlain(ctx context.Context, chatID, topicID int64, text string) (int, error) {
	return t.sendMessage(ctx, chatID, topicID, text, "", nil)
}

// SendKeyboard sends HTML with an inline keyboard attached.
func (t *Telegram) SendKeyboard(ctx context.Context, chatID, topicID int64, html string, kb tgbotapi.InlineKeyboardMarkup) (int, error) {
	return t.sendMessage(ctx, chatID, topicID, html, "HTML", &kb)
}

func (t *Telegram) sendMessage(ctx context.Context, chatID, topicID int64, text, parseMode string, kb *tgbotapi.InlineKeyboardMarkup) (int, error) {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return 0, err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", topicID)
	params["text"] = text
	params.AddNonEmpty("parse_mode", parseMode)
	params.AddBool("disable_web_page_preview", true)
	if kb != nil {
		if err := params.AddInterface("reply_markup", *kb); err != nil {
			return 0, fmt.Errorf("encode keyboard: %w", err)
		}
	}
	resp, err := t.api.MakeRequest("sendMessage", params)
	if err != nil {
		return 0, mapError(err)
	}
	var msg struct {
		MessageID int `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return 0, fmt.Errorf("decode sendMessage result: %w", err)
	}
	return msg.MessageID, nil
}

// EditHTML rewrites a message in place. Editing to identical content is
// treated as success.
func (t *Telegram) EditHTML(ctx context.Context, chatID int64, messageID int, html string) error {
	return t.editMessage(ctx, chatID, messageID, html, "HTML", nil)
}

// EditPlain rewrites a message with no parse mode.
func (t *Telegram) EditPlain(ctx context.Context, chatID int64, messageID int, text string) error {
	return t.editMessage(ctx, chatID, messageID, text, "", nil)
}

// EditKeyboard rewrites a message and its inline keyboard together.
func (t *Telegram) EditKeyboard(ctx context.Context, chatID int64, messageID int, html string, kb tgbotapi.InlineKeyboardMarkup) error {
	return t.editMessage(ctx, chatID, messageID, html, "HTML", &kb)
}

func (t *Telegram) editMessage(ctx context.Context, chatID int64, messageID int, text, parseMode string, kb *tgbotapi.InlineKeyboardMarkup) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	params["text"] = text
	params.AddNonEmpty("parse_mode", parseMode)
	params.AddBool("disable_web_page_preview", true)
	if kb != nil {
		if err := params.AddInterface("reply_markup", *kb); err != nil {
			return fmt.Errorf("encode keyboard: %w", err)
		}
	}
	_, err := t.api.MakeRequest("editMessageText", params)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
		return nil
	}
	return mapError(err)
}

// Delete removes a message.
func (t *Telegram) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	_, err := t.api.MakeRequest("deleteMessage", params)
	return mapError(err)
}

// SendDocument uploads bytes as a named file, optionally with an inline
// keyboard attached.
func (t *Telegram) SendDocument(ctx context.Context, chatID, topicID int64, filename string, data []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", topicID)
	params.AddNonEmpty("caption", caption)
	if kb != nil {
		if err := params.AddInterface("reply_markup", kb); err != nil {
			return fmt.Errorf("encode keyboard: %w", err)
		}
	}
	files := []tgbotapi.RequestFile{{
		Name: "document",
		Data: tgbotapi.FileBytes{Name: filename, Bytes: data},
	}}
	_, err := t.api.UploadFiles("sendDocument", params, files)
	return mapError(err)
}

// SendTyping shows the typing indicator; failures are ignored.
func (t *Telegram) SendTyping(ctx context.Context, chatID, topicID int64) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", topicID)
	params["action"] = "typing"
	if _, err := t.api.MakeRequest("sendChatAction", params); err != nil {
		t.log.Debug().Err(err).Msg("sendChatAction failed")
	}
}

// CreateTopic opens a forum topic and returns its thread id.
func (t *Telegram) CreateTopic(ctx context.Context, chatID int64, name string) (int64, error) {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return 0, err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params["name"] = name
	resp, err := t.api.MakeRequest("createForumTopic", params)
	if err != nil {
		return 0, mapError(err)
	}
	var topic struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	if err := json.Unmarshal(resp.Result, &topic); err != nil {
		return 0, fmt.Errorf("decode createForumTopic result: %w", err)
	}
	return topic.MessageThreadID, nil
}

// EditTopicName renames a forum topic.
func (t *Telegram) EditTopicName(ctx context.Context, chatID, topicID int64, name string) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", topicID)
	params["name"] = name
	_, err := t.api.MakeRequest("editForumTopic", params)
	return mapError(err)
}

// CloseTopic closes a forum topic.
func (t *Telegram) CloseTopic(ctx context.Context, chatID, topicID int64) error {
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", topicID)
	_, err := t.api.MakeRequest("closeForumTopic", params)
	return mapError(err)
}

// ProbeTopic checks a topic still exists. unpinAllForumTopicMessages is the
// cheapest call that fails with a topic-specific error after deletion; it is
// a no-op on topics with nothing pinned.
func (t *Telegram) ProbeTopic(ctx context.Context, chatID, topicID int64) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", topicID)
	_, err := t.api.MakeRequest("unpinAllForumTopicMessages", params)
	return mapError(err)
}

// AnswerCallback acks a callback query, optionally with a toast.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := tgbotapi.Params{}
	params["callback_query_id"] = callbackID
	params.AddNonEmpty("text", text)
	_, err := t.api.MakeRequest("answerCallbackQuery", params)
	return mapError(err)
}

// mapError folds library errors into the bridge's taxonomy: retry-after into
// queue.RateLimitError, entity-parse rejections into queue.ErrBadMarkup,
// deleted topics into ErrTopicGone, permission failures into ErrNoRights.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.RetryAfter > 0 {
		return &queue.RateLimitError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(msg, "can't parse entities"):
		return fmt.Errorf("%w: %s", queue.ErrBadMarkup, apiErr.Message)
	case strings.Contains(msg, "topic_id_invalid"),
		strings.Contains(msg, "message thread not found"),
		strings.Contains(msg, "topic_deleted"):
		return fmt.Errorf("%w: %s", ErrTopicGone, apiErr.Message)
	case strings.Contains(msg, "not enough rights"),
		strings.Contains(msg, "have no rights"):
		return fmt.Errorf("%w: %s", ErrNoRights, apiErr.Message)
	}
	return err
}

// rateLimiter paces outbound calls with a global floor between any two
// sends and a longer per-chat floor, under Telegram's ~30 msg/s global and
// per-chat ceilings. Floors mean there is no burst capacity to begin with,
// so a restart cannot slam a server-side counter that is still draining;
// retry-after handling in the queue covers anything that slips through.
type rateLimiter struct {
	mu      sync.Mutex
	global  time.Time
	perChat map[int64]time.Time

	globalGap time.Duration
	chatGap   time.Duration
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		perChat:   make(map[int64]time.Time),
		globalGap: 35 * time.Millisecond,
		chatGap:   300 * time.Millisecond,
	}
}

// Wait blocks until the caller may send to chatID.
func (r *rateLimiter) Wait(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	now := time.Now()
	at := r.global
	if at.Before(now) {
		at = now
	}
	if chatAt, ok := r.perChat[chatID]; ok && chatAt.After(at) {
		at = chatAt
	}
	r.global = at.Add(r.globalGap)
	r.perChat[chatID] = at.Add(r.chatGap)
	r.mu.Unlock()

	d := time.Until(at)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
