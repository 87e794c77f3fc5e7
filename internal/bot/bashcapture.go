package bot

import (
	"context"
	"strings"
	"time"

	"github.com/colonyops/waggle/internal/core/markup"
	"github.com/colonyops/waggle/internal/core/terminal"
	"github.com/colonyops/waggle/internal/state"
)

const (
	bashCaptureCycles   = 30
	bashCaptureInterval = time.Second
	bashCaptureMax      = 3500
)

// bashCapture is one running '!' output mirror. The struct pointer doubles
// as its identity so a finished run only unregisters itself.
type bashCapture struct {
	cancel context.CancelFunc
}

// spawnBashCapture mirrors the output region of a '!' command back into the
// thread: the pane is polled once a second for up to thirty cycles, one
// message being edited as the region grows. Any newer inbound message for
// the thread cancels the run.
func (b *Bridge) spawnBashCapture(key state.ThreadKey, chatID int64, windowID, command string) {
	ctx, cancel := context.WithCancel(context.Background())
	bc := &bashCapture{cancel: cancel}

	b.mu.Lock()
	if prev := b.bash[key]; prev != nil {
		prev.cancel()
	}
	b.bash[key] = bc
	b.mu.Unlock()

	go b.runBashCapture(ctx, bc, key, chatID, windowID, command)
}

// cancelBash stops the thread's capture run, if any.
func (b *Bridge) cancelBash(key state.ThreadKey) {
	b.mu.Lock()
	bc := b.bash[key]
	delete(b.bash, key)
	b.mu.Unlock()

	if bc != nil {
		bc.cancel()
	}
}

func (b *Bridge) runBashCapture(ctx context.Context, bc *bashCapture, key state.ThreadKey, chatID int64, windowID, command string) {
	defer func() {
		b.mu.Lock()
		if b.bash[key] == bc {
			delete(b.bash, key)
		}
		b.mu.Unlock()
	}()

	var (
		messageID int
		lastText  string
	)
	ticker := time.NewTicker(bashCaptureInterval)
	defer ticker.Stop()

	for i := 0; i < bashCaptureCycles; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		capture, err := b.tmux.CapturePane(ctx, windowID, false)
		if err != nil {
			return
		}
		region := terminal.BashOutput(terminal.Lines(capture), command)
		if region == nil {
			continue
		}

		text := strings.Join(region, "\n")
		if len(text) > bashCaptureMax {
			cut := len(text) - bashCaptureMax
			for cut < len(text) && text[cut]&0xC0 == 0x80 {
				cut++
			}
			text = "…" + text[cut:]
		}
		if text == lastText {
			continue
		}
		lastText = text

		body := markup.Convert("```\n" + text + "\n```")
		if messageID == 0 {
			id, err := b.platform.SendHTML(ctx, chatID, key.TopicID, body)
			if err != nil {
				b.log.Debug().Err(err).Msg("bash capture send failed")
				return
			}
			messageID = id
			continue
		}
		if err := b.platform.EditHTML(ctx, chatID, messageID, body); err != nil {
			b.log.Debug().Err(err).Msg("bash capture edit failed")
		}
	}
}
