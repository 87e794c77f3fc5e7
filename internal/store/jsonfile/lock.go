package jsonfile

import (
	"fmt"
	"os"
	"syscall"
)

// FileLock is an exclusive advisory lock held on a sibling lock file. It
// serializes session-map writers across processes: every hook invocation and
// the monitor's pruner lock before read-merge-write.
type FileLock struct {
	f *os.File
}

// AcquireLock blocks until the exclusive lock on path is held.
func AcquireLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &FileLock{f: f}, nil
}

// Release drops the lock. Safe to call once.
func (l *FileLock) Release() {
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
}
