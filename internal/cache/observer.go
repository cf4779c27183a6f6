package cache

// Observer records cache metrics. Implementations are provided by the
// metrics package to break the import cycle between cache and metrics.
type Observer interface {
	// ObserveOperation records duration and error status for a store operation.
	// store is "Thumbnails" or "Views"; operation is one of "bulk_insert",
	// "read_all", "clear", "get", "put", "delete_store".
	ObserveOperation(store, operation string, durationSeconds float64, err error)

	// ObserveConflict records a record skipped during a bulk insert.
	ObserveConflict(store string)

	// ObserveBlocked records a deletion rejected because of open connections.
	ObserveBlocked(store string)

	// ObserveSize records the record count after a mutation.
	ObserveSize(store string, records int)
}

// defaultObserver is the package-level observer set at startup.
// If nil, metric recording is silently skipped (safe for tests).
var defaultObserver Observer

// SetObserver sets the package-level metrics observer.
// Call this once at startup after creating the observer implementation.
func SetObserver(o Observer) {
	defaultObserver = o
}

// observe is a nil-safe helper for the package-level observer.
func observe() Observer {
	return defaultObserver
}
