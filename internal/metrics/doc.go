// Package metrics provides Prometheus instrumentation for the gallery agent.
//
// All metrics are prefixed with "pikoshi_gallery_" to avoid naming collisions
// with other applications.
//
// # Metric Categories
//
// ## HTTP Metrics
//
// Local view API traffic by gallery surface ("grid", "viewer", "upload",
// "auth", "system", "unmatched") and mux route template:
//   - HTTPRequestsTotal, also split by whether a gallery was mounted
//   - HTTPRequestDuration, HTTPRequestsInFlight
//   - HTTPRequestBodyBytes: declared body size, mostly upload batches
//
// ## Stream Metrics
//
// Gallery stream consumption by phase ("initial", "load_more"):
//   - StreamRecordsTotal: records decoded
//   - StreamPartsDropped: parts missing a structural marker
//   - StreamDuration: full stream duration by outcome
//   - StreamsInFlight: must never exceed 1
//
// ## Cache Metrics
//
// Local SQLite stores ("Thumbnails", "Views"), recorded through the
// cache.Observer implementation returned by NewCacheObserver:
//   - CacheOperationsTotal, CacheOperationDuration
//   - CacheRecordConflicts, CacheRecords, CacheDeleteBlocked
//
// ## Backend Check, Upload and Controller Metrics
//
//   - CountChecksTotal separates "empty" from "failed" even though the
//     controller treats both as nothing to load
//   - AuthChecksTotal
//   - UploadsTotal, UploadCompressionDuration, UploadCompressedBytes
//   - MemoryUsageRatio, MemoryPaused, MemoryPausesTotal (upload backpressure)
//   - ControllerState, ViewRecords, PlaceholdersOutstanding, LoadMoreTotal
//   - ScrollEventsTotal
//
// # Collector
//
// Collector polls a StatsProvider (the controller snapshot) on an interval and
// publishes view size, placeholder count and controller state gauges.
package metrics
