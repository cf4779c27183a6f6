package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, surface := range []string{"grid", "viewer", "upload", "auth", "unmatched"} {
		HTTPRequestsInFlight.WithLabelValues(surface)
	}

	for _, phase := range []string{"initial", "load_more"} {
		StreamRecordsTotal.WithLabelValues(phase)
		StreamPartsDropped.WithLabelValues(phase)
		for _, status := range []string{"complete", "error", "canceled"} {
			StreamDuration.WithLabelValues(phase, status)
		}
		for _, result := range []string{"ok", "empty", "failed"} {
			CountChecksTotal.WithLabelValues(phase, result)
		}
	}

	for _, store := range []string{"Thumbnails", "Views"} {
		for _, op := range []string{"bulk_insert", "read_all", "clear", "get", "put", "delete_store"} {
			CacheOperationsTotal.WithLabelValues(store, op, "success")
			CacheOperationsTotal.WithLabelValues(store, op, "error")
			CacheOperationDuration.WithLabelValues(store, op)
		}
		CacheRecordConflicts.WithLabelValues(store)
		CacheRecords.WithLabelValues(store)
		CacheDeleteBlocked.WithLabelValues(store)
	}

	for _, result := range []string{"authenticated", "rejected", "error"} {
		AuthChecksTotal.WithLabelValues(result)
	}

	for _, status := range []string{"success", "rejected", "compress_error", "submit_error", "unpublished"} {
		UploadsTotal.WithLabelValues(status)
	}
	for _, enc := range []string{"vips_webp", "imaging_jpeg"} {
		UploadCompressionDuration.WithLabelValues(enc)
	}

	for _, outcome := range []string{"started", "gated", "empty"} {
		LoadMoreTotal.WithLabelValues(outcome)
	}
	for _, outcome := range []string{"fired", "far", "upward", "loading", "throttled", "detached"} {
		ScrollEventsTotal.WithLabelValues(outcome)
	}

	SetControllerState("unauthenticated")
}
