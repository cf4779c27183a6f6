package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics for the local view API, split by gallery surface
// ("grid", "viewer", "upload", "auth", "system", "unmatched")
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_http_requests_total",
			Help: "Local view API requests by surface, route template, method, status and whether a gallery was mounted",
		},
		[]string{"surface", "route", "method", "status", "mounted"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pikoshi_gallery_http_request_duration_seconds",
			Help: "Local view API request duration in seconds",
			// Load-more requests last a whole stream.
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"surface", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pikoshi_gallery_http_requests_in_flight",
			Help: "Local view API requests currently being processed",
		},
		[]string{"surface"},
	)

	HTTPRequestBodyBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pikoshi_gallery_http_request_body_bytes",
			Help:    "Declared request body size; upload batches dominate",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"surface"},
	)
)

// Stream metrics
var (
	StreamRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_stream_records_total",
			Help: "Total number of image records decoded from gallery streams",
		},
		[]string{"phase"}, // "initial", "load_more"
	)

	StreamPartsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_stream_parts_dropped_total",
			Help: "Stream parts dropped because a structural marker was missing",
		},
		[]string{"phase"},
	)

	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pikoshi_gallery_stream_duration_seconds",
			Help:    "Duration of a full gallery stream consumption",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"phase", "status"}, // status: "complete", "error", "canceled"
	)

	StreamsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pikoshi_gallery_streams_in_flight",
			Help: "Number of gallery streams currently being consumed (never above 1)",
		},
	)
)

// Cache metrics
var (
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_cache_operations_total",
			Help: "Total number of local cache operations",
		},
		[]string{"store", "operation", "status"},
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pikoshi_gallery_cache_operation_duration_seconds",
			Help:    "Local cache operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"store", "operation"},
	)

	CacheRecordConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_cache_record_conflicts_total",
			Help: "Records skipped during bulk insert because the write conflicted",
		},
		[]string{"store"},
	)

	CacheRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pikoshi_gallery_cache_records",
			Help: "Number of records held in each local cache store",
		},
		[]string{"store"},
	)

	CacheDeleteBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_cache_delete_blocked_total",
			Help: "Store deletions rejected because connections were still open",
		},
		[]string{"store"},
	)
)

// Backend check metrics
var (
	CountChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_count_checks_total",
			Help: "Image count request results",
		},
		[]string{"phase", "result"}, // result: "ok", "empty", "failed"
	)

	AuthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_auth_checks_total",
			Help: "Authentication check results",
		},
		[]string{"result"}, // "authenticated", "rejected", "error"
	)
)

// Upload metrics
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_uploads_total",
			Help: "Upload pipeline outcomes",
		},
		[]string{"status"}, // "success", "rejected", "compress_error", "submit_error", "unpublished"
	)

	UploadCompressionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pikoshi_gallery_upload_compression_duration_seconds",
			Help:    "Client-side compression duration by encoder",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"encoder"}, // "vips_webp", "imaging_jpeg"
	)

	UploadCompressedBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pikoshi_gallery_upload_compressed_bytes",
			Help:    "Size of compressed uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pikoshi_gallery_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pikoshi_gallery_memory_paused",
			Help: "1 while upload compression is paused for memory pressure",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_memory_pauses_total",
			Help: "Times upload compression was paused for memory pressure",
		},
	)
)

// Controller metrics
var (
	ControllerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pikoshi_gallery_controller_state",
			Help: "Current gallery controller state (1 = active)",
		},
		[]string{"state"},
	)

	ViewRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pikoshi_gallery_view_records",
			Help: "Number of records in the gallery view",
		},
	)

	PlaceholdersOutstanding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pikoshi_gallery_placeholders_outstanding",
			Help: "Loading placeholders still waiting for a record",
		},
	)

	LoadMoreTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_load_more_total",
			Help: "Load-more requests by outcome",
		},
		[]string{"outcome"}, // "started", "gated", "empty"
	)

	ScrollEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pikoshi_gallery_scroll_events_total",
			Help: "Scroll events observed by the intersection trigger by outcome",
		},
		[]string{"outcome"}, // "fired", "far", "upward", "loading", "throttled", "detached"
	)
)
