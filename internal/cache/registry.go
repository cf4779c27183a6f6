package cache

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// registry tracks open connections per database file so that DeleteStore
// can refuse to remove a store somebody is still using.
var registry = struct {
	mu   sync.Mutex
	open map[string]int
}{open: make(map[string]int)}

func acquire(path string) {
	registry.mu.Lock()
	registry.open[path]++
	registry.mu.Unlock()
}

func release(path string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.open[path] <= 1 {
		delete(registry.open, path)
		return
	}
	registry.open[path]--
}

// OpenConnections reports how many Store handles are open on a store.
func OpenConnections(dir, name string) int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.open[Path(dir, name)]
}

// DeleteStore removes a store's database files entirely. It fails with
// ErrBlocked while any Store handle on it is open; callers must close
// their handles first. Deleting a store that does not exist succeeds.
func DeleteStore(dir, name string) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if err := checkBlockedLocked(dir, name); err != nil {
		return err
	}
	return removeLocked(dir, name)
}

// DeleteAll removes the Thumbnails and Views stores together, as logout
// requires. Open handles on either store are checked first; if any store
// is blocked nothing is removed and the error wraps ErrBlocked.
func DeleteAll(dir string) error {
	names := []string{ThumbnailsStore, ViewsStore}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	var blocked []error
	for _, name := range names {
		if err := checkBlockedLocked(dir, name); err != nil {
			blocked = append(blocked, err)
		}
	}
	if len(blocked) > 0 {
		return errors.Join(blocked...)
	}

	var errs []error
	for _, name := range names {
		if err := removeLocked(dir, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkBlockedLocked must be called with registry.mu held.
func checkBlockedLocked(dir, name string) error {
	n := registry.open[Path(dir, name)]
	if n == 0 {
		return nil
	}
	if o := observe(); o != nil {
		o.ObserveBlocked(name)
	}
	log.Warn("delete of %s blocked: %d open connection(s)", name, n)
	return fmt.Errorf("%w: %s has %d open connection(s)", ErrBlocked, name, n)
}

// removeLocked must be called with registry.mu held.
func removeLocked(dir, name string) (err error) {
	path := Path(dir, name)
	timer := startTimer(name, "delete_store")
	defer func() { timer.done(err) }()

	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			errs = append(errs, rmErr)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("delete %s: %w", name, errors.Join(errs...))
	}

	log.Info("deleted store %s", name)
	return nil
}
