package workers

import (
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
)

// EnvOverride names the environment variable that pins the worker count.
const EnvOverride = "UPLOAD_WORKERS"

// override is set from configuration; zero means unset.
var override atomic.Int64

// SetOverride pins the worker count returned by Count. Values <= 0 clear
// the override, falling back to the environment and then GOMAXPROCS.
func SetOverride(n int) {
	if n < 0 {
		n = 0
	}
	override.Store(int64(n))
}

// Count returns the number of workers for a task type.
// It respects container CPU limits via GOMAXPROCS.
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks
//   - 2.0 for I/O-bound tasks
//
// The limit parameter caps the worker count. Use 0 for no limit.
func Count(multiplier float64, limit int) int {
	if n := manualCount(); n > 0 {
		if limit > 0 && n > limit {
			return limit
		}
		return n
	}

	// GOMAXPROCS is automatically set to container CPU limit in Go 1.19+
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

func manualCount() int {
	if n := override.Load(); n > 0 {
		return int(n)
	}
	if env := os.Getenv(EnvOverride); env != "" {
		if count, err := strconv.Atoi(env); err == nil && count > 0 {
			return count
		}
	}
	return 0
}

// ForCPU returns worker count for CPU-bound tasks such as image
// compression (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks such as upload
// submission (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}
