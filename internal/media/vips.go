package media

import (
	"errors"
	"fmt"
	"sync"

	"pikoshi-gallery/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

var vipsLog = logging.For("vips")

// ErrVipsUnavailable is returned by the vips encoder before InitVips.
var ErrVipsUnavailable = errors.New("libvips not available")

// InitVips initializes the libvips library
// This should be called once at startup
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Configure vips logging BEFORE Startup() so LOG_LEVEL applies to it
	vipsLogLevel, logHandler := vipsLogging(logging.GetLevel())
	vips.LoggingSettings(logHandler, vipsLogLevel)
	vipsLog.Debug("libvips log level: %s", vipsLevelName(vipsLogLevel))

	// Uploads are small and few; keep the cache modest
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      32 * 1024 * 1024,
		MaxCacheSize:     50,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	vipsLog.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// vipsLogging maps the application log level to a vips level and a
// handler that forwards vips messages to our logger.
func vipsLogging(level logging.LogLevel) (vips.LogLevel, func(string, vips.LogLevel, string)) {
	switch level {
	case logging.LevelDebug:
		return vips.LogLevelInfo, func(domain string, l vips.LogLevel, msg string) {
			switch l {
			case vips.LogLevelError, vips.LogLevelCritical:
				vipsLog.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				vipsLog.Warn("[%s] %s", domain, msg)
			default:
				vipsLog.Debug("[%s] %s", domain, msg)
			}
		}
	case logging.LevelWarn:
		return vips.LogLevelError, func(domain string, l vips.LogLevel, msg string) {
			if l >= vips.LogLevelError {
				vipsLog.Error("[%s] %s", domain, msg)
			}
		}
	case logging.LevelError:
		return vips.LogLevelCritical, func(domain string, l vips.LogLevel, msg string) {
			if l >= vips.LogLevelCritical {
				vipsLog.Error("[%s] %s", domain, msg)
			}
		}
	default:
		// Info: only warnings and errors
		return vips.LogLevelWarning, func(domain string, l vips.LogLevel, msg string) {
			switch l {
			case vips.LogLevelError, vips.LogLevelCritical:
				vipsLog.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				vipsLog.Warn("[%s] %s", domain, msg)
			}
		}
	}
}

// ShutdownVips cleans up libvips resources
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		vipsLog.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// encodeWebPWithVips decodes raw, applies EXIF orientation, scales it to
// fit p and exports WebP. It returns the output dimensions.
func encodeWebPWithVips(raw []byte, p Params) ([]byte, int, int, error) {
	if !IsVipsAvailable() {
		return nil, 0, 0, ErrVipsUnavailable
	}

	ref, err := vips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, 0, 0, fmt.Errorf("vips auto-rotate failed: %w", err)
	}

	w, h := FitBounds(ref.Width(), ref.Height(), p)
	if w != ref.Width() {
		scale := float64(w) / float64(ref.Width())
		if err := ref.Resize(scale, vips.KernelLanczos3); err != nil {
			return nil, 0, 0, fmt.Errorf("vips resize failed: %w", err)
		}
	}

	out, _, err := ref.ExportWebp(&vips.WebpExportParams{
		Quality:       p.Quality,
		StripMetadata: true,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("vips webp export failed: %w", err)
	}

	return out, ref.Width(), ref.Height(), nil
}

func vipsLevelName(l vips.LogLevel) string {
	switch l {
	case vips.LogLevelError:
		return "error"
	case vips.LogLevelCritical:
		return "critical"
	case vips.LogLevelWarning:
		return "warning"
	case vips.LogLevelMessage:
		return "message"
	case vips.LogLevelInfo:
		return "info"
	case vips.LogLevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}
