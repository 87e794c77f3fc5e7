package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Update is the slice of Telegram's update payload the bridge consumes,
// decoded raw because the pinned library predates message_thread_id.
type Update struct {
	ID       int64     `json:"update_id"`
	Message  *Message  `json:"message"`
	Callback *Callback `json:"callback_query"`
}

// Message is an inbound chat message or service message.
type Message struct {
	MessageID int    `json:"message_id"`
	ThreadID  int64  `json:"message_thread_id"`
	From      *User  `json:"from"`
	Chat      *Chat  `json:"chat"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`

	TopicClosed *struct{} `json:"forum_topic_closed"`
}

// Callback is an inline-keyboard button press.
type Callback struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// User identifies the sender.
type User struct {
	ID        int64  `json:"id"`
	UserName  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Chat identifies the chat a message arrived in.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// pollTimeout is the getUpdates long-poll window. It bounds how long
// shutdown waits for the in-flight poll.
const pollTimeout = 10

// Updates long-polls getUpdates and streams decoded updates until ctx is
// done. The channel closes on exit.
func (t *Telegram) Updates(ctx context.Context) <-chan Update {
	ch := make(chan Update, 32)
	go func() {
		defer close(ch)
		var offset int64
		for {
			if ctx.Err() != nil {
				return
			}
			updates, err := t.getUpdates(offset)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.log.Warn().Err(err).Msg("getUpdates failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(3 * time.Second):
				}
				continue
			}
			for _, u := range updates {
				if u.ID >= offset {
					offset = u.ID + 1
				}
				select {
				case ch <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

func (t *Telegram) getUpdates(offset int64) ([]Update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("offset", offset)
	params.AddNonZero("timeout", pollTimeout)
	if err := params.AddInterface("allowed_updates", []string{"message", "callback_query"}); err != nil {
		return nil, err
	}
	resp, err := t.api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, mapError(err)
	}
	var updates []Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}
