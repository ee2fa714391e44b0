// Package lock provides the advisory per-backup lock that gives one job
// exclusive ownership of a backup's working files.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another job holds the lock.
var ErrLocked = errors.New("backup is locked by another job")

// Lock is a held advisory lock.
type Lock struct {
	f    *os.File
	path string
}

// Path returns the lock file path of a backup.
func Path(dir, backupID string) string {
	return filepath.Join(dir, backupID+".lock")
}

// Acquire takes the exclusive lock for backupID without blocking.
func Acquire(dir, backupID string) (*Lock, error) {
	if backupID == "" {
		return nil, errors.New("lock: backup id is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("lock: create directory: %w", err)
	}

	path := Path(dir, backupID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, backupID)
		}
		return nil, fmt.Errorf("lock: flock %s: %w", path, err)
	}

	f.Truncate(0)
	f.WriteString(strconv.Itoa(os.Getpid()) + "\n")

	return &Lock{f: f, path: path}, nil
}

// Release drops the lock. The lock file stays on disk so every job locks
// the same inode.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return fmt.Errorf("lock: unlock %s: %w", l.path, unlockErr)
	}
	return closeErr
}

// IsHeld reports whether some job currently holds the lock for backupID.
func IsHeld(dir, backupID string) bool {
	f, err := os.Open(Path(dir, backupID))
	if err != nil {
		return false
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return errors.Is(err, unix.EWOULDBLOCK)
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}
