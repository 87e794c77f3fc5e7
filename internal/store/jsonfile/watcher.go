package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 50 * time.Millisecond

// FileWatcher signals when one specific file changes. The parent directory is
// watched, not the file itself: atomic writers replace the file by rename, so
// a watch on the old inode would go quiet after the first update.
type FileWatcher struct {
	name    string
	watcher *fsnotify.Watcher
	changes chan struct{}

	mu       sync.Mutex
	debounce *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatchFile starts watching path. The directory is created if absent.
func WatchFile(path string) (*FileWatcher, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &FileWatcher{
		name:    filepath.Base(path),
		watcher: watcher,
		changes: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	fw.wg.Add(1)
	go fw.run()

	return fw, nil
}

// Changes delivers one signal per debounced burst of writes. The channel has
// capacity one; an undrained signal absorbs later ones.
func (fw *FileWatcher) Changes() <-chan struct{} {
	return fw.changes
}

// Close stops the watcher.
func (fw *FileWatcher) Close() error {
	fw.cancel()

	fw.mu.Lock()
	if fw.debounce != nil {
		fw.debounce.Stop()
	}
	fw.mu.Unlock()

	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}

func (fw *FileWatcher) run() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	filename := filepath.Base(event.Name)
	if filename != fw.name || strings.HasSuffix(filename, ".tmp") {
		return
	}

	fw.mu.Lock()
	if fw.debounce != nil {
		fw.debounce.Stop()
	}
	fw.debounce = time.AfterFunc(watchDebounce, fw.notify)
	fw.mu.Unlock()
}

func (fw *FileWatcher) notify() {
	select {
	case fw.changes <- struct{}{}:
	default:
	}
}
