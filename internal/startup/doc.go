// Package startup handles agent initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Configuration is resolved through viper by [LoadConfig], in increasing
// priority: built-in defaults, an optional file named by CONFIG_FILE (any
// format viper understands), then environment variables.
//
//   - BACKEND_URL: Gallery backend base URL (default: http://localhost:8000)
//   - DATA_DIR: Directory for the SQLite caches and the saved session (default: ./data)
//   - PORT: Local view API port (default: 8090)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable the metrics server (default: true)
//   - REQUEST_TIMEOUT: Timeout for non-streaming backend calls (default: 30s)
//   - REDIRECT_DELAY: Delay before navigating away when unauthenticated (default: 3s)
//   - SCROLL_THRESHOLD: Sentinel distance in pixels that arms load-more (default: 200)
//   - SCROLL_RATE: Maximum load-more firings per second from scrolling (default: 4)
//   - UPLOAD_QUALITY, UPLOAD_MAX_WIDTH, UPLOAD_MAX_HEIGHT, UPLOAD_MIN_WIDTH,
//     UPLOAD_MIN_HEIGHT: Re-encoding parameters (default: 80, 1200, 800, 300, 300)
//   - UPLOAD_MAX_BYTES: Largest accepted source file, e.g. "20MB" (default: 20MB)
//   - UPLOAD_WORKERS: Compression worker override, 0 for automatic (default: 0)
//   - MEMORY_LIMIT: Process memory budget such as "512MB", 0 for none (default: 0)
//   - MEMORY_RATIO: Share of MEMORY_LIMIT used for GOMEMLIMIT (default: 0.80)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//
// Backend route paths can be overridden with the *_PATH keys (for example
// IMAGE_COUNT_PATH or LOAD_MORE_GALLERY_PATH).
//
// # Directory Setup
//
// DATA_DIR is created if missing and must be writable. The session file
// lives at DATA_DIR/session.json.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Lifecycle Logging
//
//   - [LogBackendInit]: Backend URL and whether a saved session was restored
//   - [LogCacheInit]: Cache open timing and record counts
//   - [LogCompressorInit]: Upload encoder and worker count
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Local endpoints once listening
//   - [LogShutdownInitiated], [LogShutdownStep], [LogShutdownComplete]: Graceful shutdown
package startup
