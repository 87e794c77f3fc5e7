package jsonfile

import (
	"sync"
	"time"
)

// DebounceDelay is the default write delay after a mutation.
const DebounceDelay = 500 * time.Millisecond

// Saver coalesces bursts of mutations into one write. Schedule arms (or
// re-arms) a timer; when it fires the save function runs once. Flush runs a
// pending save synchronously, used on shutdown.
type Saver struct {
	mu    sync.Mutex
	timer *time.Timer
	dirty bool
	delay time.Duration
	save  func()
}

// NewSaver returns a Saver invoking save after delay. A delay of zero uses
// DebounceDelay.
func NewSaver(delay time.Duration, save func()) *Saver {
	if delay <= 0 {
		delay = DebounceDelay
	}
	return &Saver{delay: delay, save: save}
}

// Schedule marks the state dirty and resets the write timer.
func (s *Saver) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.fire)
}

func (s *Saver) fire() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	s.mu.Unlock()

	s.save()
}

// Flush cancels any pending timer and, when dirty, saves synchronously.
func (s *Saver) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	wasDirty := s.dirty
	s.dirty = false
	s.mu.Unlock()

	if wasDirty {
		s.save()
	}
}

// Stop cancels any pending write without saving.
func (s *Saver) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.dirty = false
}
