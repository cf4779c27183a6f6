package metrics

import "pikoshi-gallery/internal/cache"

// cacheObserver implements cache.Observer using the Prometheus metrics
// declared in this package.
type cacheObserver struct{}

// NewCacheObserver creates an observer that records cache metrics into the
// counters and histograms declared in metrics.go.
func NewCacheObserver() cache.Observer {
	return &cacheObserver{}
}

func (o *cacheObserver) ObserveOperation(store, operation string, durationSeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CacheOperationsTotal.WithLabelValues(store, operation, status).Inc()
	CacheOperationDuration.WithLabelValues(store, operation).Observe(durationSeconds)
}

func (o *cacheObserver) ObserveConflict(store string) {
	CacheRecordConflicts.WithLabelValues(store).Inc()
}

func (o *cacheObserver) ObserveBlocked(store string) {
	CacheDeleteBlocked.WithLabelValues(store).Inc()
}

func (o *cacheObserver) ObserveSize(store string, records int) {
	CacheRecords.WithLabelValues(store).Set(float64(records))
}
