package bot

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/colonyops/waggle/internal/core/config"
	"github.com/colonyops/waggle/internal/core/tmux"
	"github.com/colonyops/waggle/internal/state"
)

const (
	userA     = int64(7001)
	groupChat = int64(-100123)
	topicMain = int64(42)
)

type pcall struct {
	Op        string // send | edit | delete | sendKB | editKB | doc | typing | createTopic | editName | closeTopic | probe
	ChatID    int64
	TopicID   int64
	MessageID int
	Text      string
	Filename  string
	KB        *tgbotapi.InlineKeyboardMarkup
}

// fakePlatform records every Platform call and lets tests script errors.
type fakePlatform struct {
	mu      sync.Mutex
	calls   []pcall
	answers []string
	nextID  int
	topicID int64
	updates chan Update

	createTopicErr error
	editNameErr    error
	probeErr       error
	sendErr        error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{topicID: 9000, updates: make(chan Update, 8)}
}

func (p *fakePlatform) record(c pcall) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	c.MessageID = p.nextID
	p.calls = append(p.calls, c)
	return p.nextID
}

func (p *fakePlatform) SendHTML(ctx context.Context, chatID, topicID int64, html string) (int, error) {
	p.mu.Lock()
	err := p.sendErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return p.record(pcall{Op: "send", ChatID: chatID, TopicID: topicID, Text: html}), nil
}

func (p *fakePlatform) SendPlain(ctx context.Context, chatID, topicID int64, text string) (int, error) {
	return p.record(pcall{Op: "send", ChatID: chatID, TopicID: topicID, Text: text}), nil
}

func (p *fakePlatform) EditHTML(ctx context.Context, chatID int64, messageID int, html string) error {
	p.record(pcall{Op: "edit", ChatID: chatID, Text: html})
	p.mu.Lock()
	p.calls[len(p.calls)-1].MessageID = messageID
	p.mu.Unlock()
	return nil
}

func (p *fakePlatform) EditPlain(ctx context.Context, chatID int64, messageID int, text string) error {
	return p.EditHTML(ctx, chatID, messageID, text)
}

func (p *fakePlatform) Delete(ctx context.Context, chatID int64, messageID int) error {
	p.record(pcall{Op: "delete", ChatID: chatID})
	return nil
}

func (p *fakePlatform) SendKeyboard(ctx context.Context, chatID, topicID int64, html string, kb tgbotapi.InlineKeyboardMarkup) (int, error) {
	p.mu.Lock()
	err := p.sendErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return p.record(pcall{Op: "sendKB", ChatID: chatID, TopicID: topicID, Text: html, KB: &kb}), nil
}

func (p *fakePlatform) EditKeyboard(ctx context.Context, chatID int64, messageID int, html string, kb tgbotapi.InlineKeyboardMarkup) error {
	p.record(pcall{Op: "editKB", ChatID: chatID, Text: html, KB: &kb})
	p.mu.Lock()
	p.calls[len(p.calls)-1].MessageID = messageID
	p.mu.Unlock()
	return nil
}

func (p *fakePlatform) SendDocument(ctx context.Context, chatID, topicID int64, filename string, data []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) error {
	p.record(pcall{Op: "doc", ChatID: chatID, TopicID: topicID, Filename: filename, Text: caption, KB: kb})
	return nil
}

func (p *fakePlatform) SendTyping(ctx context.Context, chatID, topicID int64) {
	p.record(pcall{Op: "typing", ChatID: chatID, TopicID: topicID})
}

func (p *fakePlatform) CreateTopic(ctx context.Context, chatID int64, name string) (int64, error) {
	p.mu.Lock()
	err := p.createTopicErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	p.record(pcall{Op: "createTopic", ChatID: chatID, Text: name})
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topicID++
	return p.topicID, nil
}

func (p *fakePlatform) EditTopicName(ctx context.Context, chatID, topicID int64, name string) error {
	p.mu.Lock()
	err := p.editNameErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.record(pcall{Op: "editName", ChatID: chatID, TopicID: topicID, Text: name})
	return nil
}

func (p *fakePlatform) CloseTopic(ctx context.Context, chatID, topicID int64) error {
	p.record(pcall{Op: "closeTopic", ChatID: chatID, TopicID: topicID})
	return nil
}

func (p *fakePlatform) ProbeTopic(ctx context.Context, chatID, topicID int64) error {
	p.mu.Lock()
	err := p.probeErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.record(pcall{Op: "probe", ChatID: chatID, TopicID: topicID})
	return nil
}

func (p *fakePlatform) AnswerCallback(ctx context.Context, callbackID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers = append(p.answers, text)
	return nil
}

func (p *fakePlatform) Updates(ctx context.Context) <-chan Update { return p.updates }

func (p *fakePlatform) Username() string { return "wagglebot" }

func (p *fakePlatform) ops(op string) []pcall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pcall
	for _, c := range p.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakePlatform) lastAnswer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.answers) == 0 {
		return "<none>"
	}
	return p.answers[len(p.answers)-1]
}

// fakeExecutor scripts subprocess output for the screenshot renderer.
type fakeExecutor struct {
	mu   sync.Mutex
	out  []byte
	err  error
	runs [][]string
}

func (e *fakeExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.record(cmd, args)
}

func (e *fakeExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	return e.record(cmd, args)
}

func (e *fakeExecutor) RunInput(ctx context.Context, input []byte, cmd string, args ...string) ([]byte, error) {
	return e.record(cmd, args)
}

func (e *fakeExecutor) record(cmd string, args []string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, append([]string{cmd}, args...))
	return e.out, e.err
}

type fixture struct {
	bridge   *Bridge
	poller   *Poller
	platform *fakePlatform
	tmux     *tmux.Fake
	store    *state.Store
	cfg      *config.Config
	exec     *fakeExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Telegram.AllowedUsers = []int64{userA}
	cfg.Telegram.GroupID = groupChat
	cfg.Provider.ProjectsDir = filepath.Join(cfg.DataDir, "projects")

	st := state.New(filepath.Join(cfg.DataDir, "state.json"), cfg.Notifications.DefaultMode, zerolog.Nop())
	fk := tmux.NewFake()
	fp := newFakePlatform()
	ex := &fakeExecutor{}
	br := New(&cfg, st, fk, fp, ex, zerolog.Nop())
	// Keep handshake watchers short so stash-forwarding tests don't leave
	// pollers behind.
	br.hookWait = 30 * time.Millisecond
	br.hookPoll = 5 * time.Millisecond

	return &fixture{
		bridge:   br,
		poller:   NewPoller(br, zerolog.Nop()),
		platform: fp,
		tmux:     fk,
		store:    st,
		cfg:      &cfg,
		exec:     ex,
	}
}

// startEngine runs the delivery workers for tests that assert on queued
// output.
func (fx *fixture) startEngine(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fx.bridge.Queue().Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// bind wires (userA, topicID) to the window inside the group chat, the way
// dispatch bookkeeping would have.
func (fx *fixture) bind(topicID int64, windowID string) {
	fx.store.SetGroupChat(userA, topicID, groupChat)
	fx.store.Bind(userA, topicID, windowID)
}

func tmuxWindow(id, name, path string) tmux.Window {
	return tmux.Window{ID: id, Name: name, Path: path, Command: "claude"}
}

func inbound(topicID int64, text string) *Message {
	return &Message{
		MessageID: 1,
		ThreadID:  topicID,
		From:      &User{ID: userA},
		Chat:      &Chat{ID: groupChat, Type: "supergroup"},
		Text:      text,
	}
}

func press(topicID int64, messageID int, data string) *Callback {
	return &Callback{
		ID:   "cb-test",
		From: &User{ID: userA},
		Data: data,
		Message: &Message{
			MessageID: messageID,
			ThreadID:  topicID,
			Chat:      &Chat{ID: groupChat, Type: "supergroup"},
		},
	}
}

// statusPane builds a capture whose chrome shows the given spinner status.
func statusPane(status string) string {
	sep := "──────────────────────────────────────"
	if status == "" {
		return "some output\n" + sep + "\n > \n"
	}
	return "some output\n✶ " + status + "\n" + sep + "\n > \n"
}

// permissionPane builds a capture showing a permission prompt region.
const permissionPane = `old output above
Do you want to make this edit to main.go?
 ❯ 1. Yes
   2. No, and tell Claude what to do differently
`
