// Command gallery-agent runs the pikoshi gallery as a local companion
// process.
//
// The agent owns everything the gallery page used to do in the browser: it
// authenticates against the backend, shows the cached gallery or streams
// the initial one, loads more as the UI reports scrolling, compresses and
// uploads images, and keeps both local caches (Thumbnails and Views) in
// SQLite under DATA_DIR. A thin UI reads the view state and sends user
// events over the local API described in package handlers.
//
// # Lifecycle
//
//  1. Configuration: viper over defaults, CONFIG_FILE and the environment,
//     then an exclusive lock on DATA_DIR (a second agent exits)
//  2. Memory: GOMEMLIMIT from MEMORY_LIMIT, and a heap monitor that holds
//     back upload compression under pressure
//  3. libvips: initialised for WebP re-encoding; JPEG fallback otherwise
//  4. Backend client: restores the saved session from DATA_DIR/session.json
//  5. Gallery session: opens the caches and mounts the first controller
//  6. HTTP servers: local view API on PORT, Prometheus on METRICS_PORT
//  7. Graceful shutdown on SIGINT/SIGTERM
//
// # Graceful Shutdown
//
//  1. Release uploads waiting on the memory monitor
//  2. Stop accepting HTTP requests (in-flight requests finish, 30s limit)
//  3. Stop the metrics collector
//  4. Unmount the gallery, aborting any stream, and close the caches
//  5. Close the upload pipeline
//  6. Shut down the metrics server
//
// The caches survive a restart; only logout deletes them.
//
// # Build Requirements
//
// CGO is required for SQLite and libvips:
//
//	go build -o gallery-agent ./cmd/gallery-agent
//
// Use gallery-login to sign in before the first run, or POST /api/login.
package main
