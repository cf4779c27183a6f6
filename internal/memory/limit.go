package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"pikoshi-gallery/internal/logging"
)

// DefaultRatio is the share of the memory limit given to the Go heap. The
// rest is left for libvips, which allocates outside it.
const DefaultRatio = 0.80

// LimitResult reports how the soft memory limit was set.
type LimitResult struct {
	Configured bool
	// Source is "GOMEMLIMIT", "MEMORY_LIMIT" or "none".
	Source string
	// Limit is the MEMORY_LIMIT value, 0 if unset.
	Limit      int64
	GoMemLimit int64
	Ratio      float64
}

// ConfigureLimit sets the runtime soft memory limit to limit*ratio. An
// explicit GOMEMLIMIT in the environment wins, and a zero limit leaves the
// runtime alone. Call it before the upload pipeline starts.
func ConfigureLimit(limit int64, ratio float64) LimitResult {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		result := LimitResult{Source: "GOMEMLIMIT"}
		if current := debug.SetMemoryLimit(-1); current > 0 && current < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = current
		}
		log.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	if limit <= 0 {
		log.Debug("MEMORY_LIMIT not set, leaving GOMEMLIMIT alone")
		return LimitResult{Source: "none"}
	}

	if ratio <= 0 || ratio > 1 {
		log.Warn("MEMORY_RATIO %.2f out of range (0.0-1.0), using %.2f", ratio, DefaultRatio)
		ratio = DefaultRatio
	}

	goMemLimit := int64(float64(limit) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	log.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s)", formatBytes(goMemLimit), ratio*100, formatBytes(limit))

	return LimitResult{
		Configured: true,
		Source:     "MEMORY_LIMIT",
		Limit:      limit,
		GoMemLimit: goMemLimit,
		Ratio:      ratio,
	}
}

var log = logging.For("memory")

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
