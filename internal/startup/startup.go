package startup

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/media"

	"github.com/gorilla/mux"
	"github.com/spf13/viper"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all agent configuration
type Config struct {
	BackendURL      string
	DataDir         string
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool

	RequestTimeout  time.Duration
	RedirectDelay   time.Duration
	ScrollThreshold float64
	ScrollRate      float64

	Upload        media.Params
	UploadWorkers int

	// MemoryLimit is the process budget in bytes, 0 when unset.
	MemoryLimit int64
	MemoryRatio float64

	Routes api.Routes

	// Derived paths
	SessionFile string
}

// defaults are applied before the environment and the optional config file.
var defaults = map[string]any{
	"BACKEND_URL":       "http://localhost:8000",
	"DATA_DIR":          "./data",
	"PORT":              "8090",
	"METRICS_PORT":      "9090",
	"METRICS_ENABLED":   true,
	"LOG_HEALTH_CHECKS": true,
	"REQUEST_TIMEOUT":   "30s",
	"REDIRECT_DELAY":    "3s",
	"SCROLL_THRESHOLD":  200,
	"SCROLL_RATE":       4,
	"UPLOAD_QUALITY":    80,
	"UPLOAD_MAX_WIDTH":  1200,
	"UPLOAD_MAX_HEIGHT": 800,
	"UPLOAD_MIN_WIDTH":  300,
	"UPLOAD_MIN_HEIGHT": 300,
	"UPLOAD_MAX_BYTES":  "20MB",
	"UPLOAD_WORKERS":    0,
	"MEMORY_LIMIT":      "0",
	"MEMORY_RATIO":      0.80,

	"AUTH_CONTEXT_PATH":      "/auth/auth-context/",
	"IMAGE_COUNT_PATH":       "/gallery/image-count/",
	"LOAD_MORE_COUNT_PATH":   "/gallery/load-more-count/",
	"INITIAL_GALLERY_PATH":   "/gallery/default-gallery/",
	"LOAD_MORE_GALLERY_PATH": "/gallery/load-more/",
	"UPLOAD_PATH":            "/gallery/upload/",
	"SINGLE_IMAGE_PATH":      "/gallery/default-single/",
	"EMAIL_LOGIN_PATH":       "/auth/email-login/",
	"LOGOUT_PATH":            "/auth/auth-logout/",
}

// newViper builds the configuration source: defaults, then environment
// variables, then CONFIG_FILE if one is named.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		logging.Info("  Loaded config file: %s", v.ConfigFileUsed())
	}
	return v, nil
}

// LoadConfig loads and validates configuration
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return configFrom(v)
}

func configFrom(v *viper.Viper) (*Config, error) {
	if level := v.GetString("LOG_LEVEL"); level != "" {
		logging.SetLevel(logging.ParseLevel(level))
	}

	config := &Config{
		BackendURL:      strings.TrimRight(v.GetString("BACKEND_URL"), "/"),
		DataDir:         v.GetString("DATA_DIR"),
		Port:            v.GetString("PORT"),
		MetricsPort:     v.GetString("METRICS_PORT"),
		MetricsEnabled:  v.GetBool("METRICS_ENABLED"),
		LogHealthChecks: v.GetBool("LOG_HEALTH_CHECKS"),
		RequestTimeout:  durationOr(v, "REQUEST_TIMEOUT", 30*time.Second),
		RedirectDelay:   durationOr(v, "REDIRECT_DELAY", 3*time.Second),
		ScrollThreshold: v.GetFloat64("SCROLL_THRESHOLD"),
		ScrollRate:      v.GetFloat64("SCROLL_RATE"),
		Upload: media.Params{
			Quality:   v.GetInt("UPLOAD_QUALITY"),
			MaxWidth:  v.GetInt("UPLOAD_MAX_WIDTH"),
			MaxHeight: v.GetInt("UPLOAD_MAX_HEIGHT"),
			MinWidth:  v.GetInt("UPLOAD_MIN_WIDTH"),
			MinHeight: v.GetInt("UPLOAD_MIN_HEIGHT"),
			MaxBytes:  int64(v.GetSizeInBytes("UPLOAD_MAX_BYTES")),
		},
		UploadWorkers: v.GetInt("UPLOAD_WORKERS"),
		MemoryLimit:   int64(v.GetSizeInBytes("MEMORY_LIMIT")),
		MemoryRatio:   v.GetFloat64("MEMORY_RATIO"),
		Routes: api.Routes{
			AuthContext:     v.GetString("AUTH_CONTEXT_PATH"),
			ImageCount:      v.GetString("IMAGE_COUNT_PATH"),
			LoadMoreCount:   v.GetString("LOAD_MORE_COUNT_PATH"),
			InitialGallery:  v.GetString("INITIAL_GALLERY_PATH"),
			LoadMoreGallery: v.GetString("LOAD_MORE_GALLERY_PATH"),
			Upload:          v.GetString("UPLOAD_PATH"),
			SingleImage:     v.GetString("SINGLE_IMAGE_PATH"),
			EmailLogin:      v.GetString("EMAIL_LOGIN_PATH"),
			Logout:          v.GetString("LOGOUT_PATH"),
		},
	}

	logging.Info("  BACKEND_URL:         %s", config.BackendURL)
	logging.Info("  DATA_DIR:            %s", config.DataDir)
	logging.Info("  PORT:                %s", config.Port)
	logging.Info("  METRICS_PORT:        %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:     %v", config.MetricsEnabled)
	logging.Info("  REQUEST_TIMEOUT:     %v", config.RequestTimeout)
	logging.Info("  REDIRECT_DELAY:      %v", config.RedirectDelay)
	logging.Info("  SCROLL_THRESHOLD:    %.0fpx", config.ScrollThreshold)
	logging.Info("  SCROLL_RATE:         %.1f/s", config.ScrollRate)
	logging.Info("  UPLOAD_QUALITY:      %d", config.Upload.Quality)
	logging.Info("  UPLOAD_BOUNDS:       min %dx%d, max %dx%d",
		config.Upload.MinWidth, config.Upload.MinHeight, config.Upload.MaxWidth, config.Upload.MaxHeight)
	logging.Info("  UPLOAD_MAX_BYTES:    %s", formatBytes(config.Upload.MaxBytes))
	if config.UploadWorkers > 0 {
		logging.Info("  UPLOAD_WORKERS:      %d", config.UploadWorkers)
	} else {
		logging.Info("  UPLOAD_WORKERS:      auto")
	}
	if config.MemoryLimit > 0 {
		logging.Info("  MEMORY_LIMIT:        %s (ratio %.2f)", formatBytes(config.MemoryLimit), config.MemoryRatio)
	}
	logging.Info("  LOG_HEALTH_CHECKS:   %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	logging.Debug("  Backend routes:")
	logging.Debug("    auth context:      %s", config.Routes.AuthContext)
	logging.Debug("    image count:       %s", config.Routes.ImageCount)
	logging.Debug("    load more count:   %s", config.Routes.LoadMoreCount)
	logging.Debug("    initial gallery:   %s", config.Routes.InitialGallery)
	logging.Debug("    load more gallery: %s", config.Routes.LoadMoreGallery)
	logging.Debug("    upload:            %s", config.Routes.Upload)
	logging.Debug("    single image:      %s", config.Routes.SingleImage)
	logging.Debug("    email login:       %s", config.Routes.EmailLogin)
	logging.Debug("    logout:            %s", config.Routes.Logout)

	if err := validateBackendURL(config.BackendURL); err != nil {
		return nil, err
	}
	if config.Upload.MinWidth > config.Upload.MaxWidth || config.Upload.MinHeight > config.Upload.MaxHeight {
		return nil, fmt.Errorf("upload minimum bounds exceed maximum bounds")
	}

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	dataDir, err := filepath.Abs(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	config.DataDir = dataDir
	config.SessionFile = filepath.Join(dataDir, "session.json")
	logging.Info("  Data directory (absolute): %s", dataDir)

	if err := ensureDirectory(dataDir, "data"); err != nil {
		return nil, fmt.Errorf("data directory error: %w", err)
	}

	logging.Debug("  Testing data directory write access...")
	if err := testWriteAccess(dataDir); err != nil {
		return nil, fmt.Errorf("data directory is not writable (required for caches): %w", err)
	}
	logging.Info("  [OK] Data directory is writable")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Caches:   ENABLED (required)")
	logging.Info("    Metrics:  %s", enabledString(config.MetricsEnabled))

	return config, nil
}

func durationOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	d := v.GetDuration(key)
	if d <= 0 {
		logging.Warn("  Invalid %s (%q), using default: %v", key, v.GetString(key), fallback)
		return fallback
	}
	return d
}

func validateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid BACKEND_URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid BACKEND_URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid BACKEND_URL %q: missing host", raw)
	}
	return nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogCacheInit logs cache store initialization
func LogCacheInit(thumbnails, views int, duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("CACHE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Caches opened in %v", duration)
	logging.Info("    Thumbnails: %d record(s)", thumbnails)
	logging.Info("    Views:      %d record(s)", views)
}

// LogCompressorInit logs which encoder uploads will use
func LogCompressorInit(vipsErr error, workers int) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("UPLOAD PIPELINE")
	logging.Info("------------------------------------------------------------")
	if vipsErr != nil {
		logging.Warn("  libvips unavailable: %v", vipsErr)
		logging.Warn("  Uploads will be re-encoded as JPEG")
	} else {
		logging.Info("  [OK] libvips available, uploads will be re-encoded as WebP")
	}
	logging.Info("  Compression workers: %d", workers)
}

// LogBackendInit logs the backend client and session state
func LogBackendInit(backendURL string, hasSession bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("BACKEND")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Backend: %s", backendURL)
	if hasSession {
		logging.Info("  [OK] Restored saved session")
	} else {
		logging.Warn("  No saved session; run gallery-login to sign in")
	}
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
		}
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("AGENT STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Local access:")
	logging.Info("    View API:      http://localhost:%s/api/gallery", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://localhost:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the agent")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
    ____  _ __             __    _
   / __ \(_) /______  ___ / /_  (_)
  / /_/ / / //_/ __ \/ __/ __ \/ /
 / ____/ / ,< / /_/ (__  ) / / / /
/_/   /_/_/|_|\____/____/_/ /_/_/   gallery agent

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
