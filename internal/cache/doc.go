/*
Package cache implements the agent's durable local image caches on SQLite.

# Stores

Two independent stores exist, each in its own database file under the data
directory:

  - Thumbnails: the gallery grid. The controller reads it on mount and
    rewrites it wholesale (Clear then BulkInsert) whenever the view grows.
  - Views: full-resolution images opened in the viewer, looked up by file
    name with Get and added with Put.

Records are kept in insertion order and keyed by file name. A bulk insert
that hits a duplicate file name logs and skips that record; the rest of the
batch commits.

# Concurrency

A Store is safe for concurrent use, but it gives no isolation across calls.
A Clear followed by a BulkInsert is only atomic to readers if the caller
never interleaves a second cycle; the gallery controller serialises these
cycles with its own lock.

# Deletion

DeleteStore removes a store's files. Every Store handle is counted in a
process-wide registry, and deletion fails with ErrBlocked while any handle is
open:

	if err := cache.DeleteAll(dir); errors.Is(err, cache.ErrBlocked) {
	    // close the controller's stores first
	}

Logout deletes both stores together with DeleteAll. Open handles on
either store block the whole call, so a logout never leaves one cache behind.

The registry is per process. LockDir takes an advisory flock on the data
directory; the agent holds it for its lifetime and offline tools must take it
before deleting anything:

	release, err := cache.LockDir(dir)
	if errors.Is(err, cache.ErrDirInUse) {
	    // an agent is running; log out through it instead
	}
	defer release()

# Metrics

Operation timings, conflicts, blocked deletes and store sizes are reported
through an Observer installed with SetObserver; the metrics package provides
the Prometheus implementation.
*/
package cache
