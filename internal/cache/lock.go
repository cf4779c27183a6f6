package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// LockFile is the advisory lock a process holds on its data directory while
// it owns the caches in it.
const LockFile = ".agent.lock"

// ErrDirInUse is returned by LockDir when another holder already owns the
// data directory.
var ErrDirInUse = errors.New("data directory is in use by another process")

// LockDir takes an exclusive, non-blocking lock on dir. The registry only
// sees handles opened in this process; the lock keeps a second process from
// deleting stores a running agent still has open. The returned release
// function drops the lock.
func LockDir(dir string) (release func() error, err error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dir, LockFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrDirInUse, dir)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	log.Debug("locked data dir %s", dir)
	return func() error {
		unlockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return errors.Join(unlockErr, f.Close())
	}, nil
}
