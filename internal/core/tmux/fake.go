package tmux

import (
	"context"
	"fmt"
	"sync"
)

// SentText records one SendText call on the Fake.
type SentText struct {
	WindowID string
	Text     string
	Enter    bool
}

// SentKey records one SendKey call on the Fake.
type SentKey struct {
	WindowID string
	Key      string
}

// CreateCall records one CreateWindow call on the Fake.
type CreateCall struct {
	Cwd       string
	Name      string
	ExtraArgs []string
}

// Fake is an in-memory Adapter for tests. Windows are held in insertion
// order; pane content is scripted per window.
type Fake struct {
	mu     sync.Mutex
	byID   map[string]Window
	order  []string
	panes  map[string]string
	nextID int

	Sent    []SentText
	Keys    []SentKey
	Killed  []string
	Creates []CreateCall

	ListErr    error
	CreateErr  error
	CaptureErr error
}

// NewFake builds a Fake pre-populated with windows.
func NewFake(windows ...Window) *Fake {
	f := &Fake{
		byID:   make(map[string]Window),
		panes:  make(map[string]string),
		nextID: 100,
	}
	for _, w := range windows {
		f.AddWindow(w)
	}
	return f
}

// AddWindow inserts or replaces a window.
func (f *Fake) AddWindow(w Window) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[w.ID]; !ok {
		f.order = append(f.order, w.ID)
	}
	f.byID[w.ID] = w
}

// RemoveWindow drops a window as if it exited.
func (f *Fake) RemoveWindow(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(id)
}

func (f *Fake) removeLocked(id string) {
	delete(f.byID, id)
	delete(f.panes, id)
	for i, wid := range f.order {
		if wid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// SetPane scripts the capture text for a window.
func (f *Fake) SetPane(id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panes[id] = text
}

func (f *Fake) EnsureSession(ctx context.Context) error { return nil }

func (f *Fake) ListWindows(ctx context.Context) ([]Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]Window, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.byID[id])
	}
	return out, nil
}

func (f *Fake) FindWindow(ctx context.Context, id string) (Window, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byID[id]
	return w, ok, nil
}

func (f *Fake) FindWindowByName(ctx context.Context, name string) (Window, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if f.byID[id].Name == name {
			return f.byID[id], true, nil
		}
	}
	return Window{}, false, nil
}

func (f *Fake) CapturePane(ctx context.Context, id string, color bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CaptureErr != nil {
		return "", f.CaptureErr
	}
	if _, ok := f.byID[id]; !ok {
		return "", fmt.Errorf("capture %s: %w", id, ErrWindowGone)
	}
	return f.panes[id], nil
}

func (f *Fake) SendText(ctx context.Context, id, text string, enter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return fmt.Errorf("send to %s: %w", id, ErrWindowGone)
	}
	f.Sent = append(f.Sent, SentText{WindowID: id, Text: text, Enter: enter})
	return nil
}

func (f *Fake) SendKey(ctx context.Context, id, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return fmt.Errorf("send key to %s: %w", id, ErrWindowGone)
	}
	f.Keys = append(f.Keys, SentKey{WindowID: id, Key: key})
	return nil
}

func (f *Fake) CreateWindow(ctx context.Context, cwd, name string, extraArgs []string) (Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return Window{}, f.CreateErr
	}
	f.Creates = append(f.Creates, CreateCall{Cwd: cwd, Name: name, ExtraArgs: extraArgs})
	f.nextID++
	w := Window{
		ID:      fmt.Sprintf("@%d", f.nextID),
		Name:    name,
		Path:    cwd,
		Command: "claude",
	}
	f.byID[w.ID] = w
	f.order = append(f.order, w.ID)
	return w, nil
}

func (f *Fake) KillWindow(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return fmt.Errorf("kill %s: %w", id, ErrWindowGone)
	}
	f.Killed = append(f.Killed, id)
	f.removeLocked(id)
	return nil
}

// SentTexts returns the texts sent to one window.
func (f *Fake) SentTexts(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.Sent {
		if s.WindowID == id {
			out = append(out, s.Text)
		}
	}
	return out
}
