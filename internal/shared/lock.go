package shared

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".crate.lock"

// DirLock is an exclusive advisory lock on a data directory.
//
// Only the process holding it may run downloads into the offline directories.
type DirLock struct {
	lock *flock.Flock
	path string
}

// LockDir creates dir if needed and takes the lock without blocking.
// Returns [ErrLocked] when another process holds it.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dir, lockFileName)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	return &DirLock{lock: fl, path: path}, nil
}

// Path returns the lock file location.
func (l *DirLock) Path() string {
	return l.path
}

// Unlock releases the lock. Safe on a nil receiver.
func (l *DirLock) Unlock() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
