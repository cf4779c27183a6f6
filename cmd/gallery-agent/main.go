package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/cache"
	"pikoshi-gallery/internal/gallery"
	"pikoshi-gallery/internal/handlers"
	"pikoshi-gallery/internal/logging"
	"pikoshi-gallery/internal/media"
	"pikoshi-gallery/internal/memory"
	"pikoshi-gallery/internal/metrics"
	"pikoshi-gallery/internal/middleware"
	"pikoshi-gallery/internal/startup"
	"pikoshi-gallery/internal/stream"
	"pikoshi-gallery/internal/trigger"
	"pikoshi-gallery/internal/upload"
	"pikoshi-gallery/internal/workers"

	"github.com/gorilla/mux"
)

// How often gallery gauges are refreshed
const statsInterval = 15 * time.Second

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	releaseDir, err := cache.LockDir(config.DataDir)
	if err != nil {
		startup.LogFatal("Cannot claim data directory: %v", err)
	}
	defer releaseDir()

	memory.ConfigureLimit(config.MemoryLimit, config.MemoryRatio)
	memMonitor := memory.NewMonitor(memory.DefaultConfig())
	memMonitor.Start()
	defer memMonitor.Stop()

	workers.SetOverride(config.UploadWorkers)
	vipsErr := media.InitVips()
	defer media.ShutdownVips()
	uploadWorkers := workers.ForCPU(0)
	startup.LogCompressorInit(vipsErr, uploadWorkers)

	if config.MetricsEnabled {
		cache.SetObserver(metrics.NewCacheObserver())
		metrics.InitializeMetrics()
	}

	client, err := api.New(api.Config{
		BaseURL:     config.BackendURL,
		Routes:      config.Routes,
		SessionFile: config.SessionFile,
		Timeout:     config.RequestTimeout,
	})
	if err != nil {
		startup.LogFatal("Failed to create backend client: %v", err)
	}
	startup.LogBackendInit(config.BackendURL, client.HasSession())

	pipeline := upload.NewPipeline(media.NewCompressor(config.Upload), client, upload.Options{
		MaxWorkers: uploadWorkers,
		Gate:       memMonitor,
	})

	session := handlers.NewSession(handlers.SessionConfig{
		DataDir:       config.DataDir,
		Auth:          client,
		Uploads:       pipeline.Events(),
		NewController: controllerFactory(client, config),
	})

	cacheStart := time.Now()
	if _, err := session.Start(); err != nil {
		startup.LogFatal("Failed to start gallery: %v", err)
	}
	logCacheInit(session, time.Since(cacheStart))

	collector := metrics.NewCollector(session, statsInterval)
	collector.Start()

	h := handlers.New(session, pipeline, handlers.Config{
		MaxUploadBytes: uploadBodyLimit(config.Upload.MaxBytes),
	})

	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           buildHandler(router, config),
		ReadHeaderTimeout: 10 * time.Second,
		// Load-more requests wait for a whole stream.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsPort)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		handleShutdown(srv, metricsSrv, collector, memMonitor, pipeline, session)
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-shutdownDone
}

// controllerFactory builds each mount's controller from the shared client.
func controllerFactory(client *api.Client, config *startup.Config) handlers.ControllerFactory {
	streams := stream.NewClient(client.StreamHTTPClient())
	return func(thumbs, views *cache.Store, nav gallery.Navigator) *gallery.Controller {
		return gallery.New(gallery.Deps{
			Backend:    client,
			Streams:    streams,
			Thumbnails: thumbs,
			Views:      views,
			Navigator:  nav,
		}, gallery.Options{
			RedirectDelay: config.RedirectDelay,
			Scroll: trigger.Options{
				Threshold: config.ScrollThreshold,
				Rate:      config.ScrollRate,
			},
		})
	}
}

func logCacheInit(session *handlers.Session, took time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var thumbCount, viewCount int
	thumbs, views := session.Stores()
	if thumbs != nil {
		thumbCount, _ = thumbs.Count(ctx)
	}
	if views != nil {
		viewCount, _ = views.Count(ctx)
	}
	startup.LogCacheInit(thumbCount, viewCount, took)
}

// uploadBodyLimit allows a batch of maximum-size files per request.
func uploadBodyLimit(maxFile int64) int64 {
	const batch = 8
	if maxFile <= 0 {
		return 0
	}
	return maxFile * batch
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	h.Register(r)
	return r
}

// buildHandler wraps the router in access logging and compression.
func buildHandler(router http.Handler, config *startup.Config) http.Handler {
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	logged := middleware.Logger(loggingConfig)(router)

	return middleware.Compression(middleware.DefaultCompressionConfig())(logged)
}

func newMetricsServer(port string) *http.Server {
	m := http.NewServeMux()
	m.Handle("/metrics", handlers.MetricsHandler())
	return &http.Server{
		Addr:              ":" + port,
		Handler:           m,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func handleShutdown(srv, metricsSrv *http.Server, collector *metrics.Collector, monitor *memory.Monitor, pipeline *upload.Pipeline, session *handlers.Session) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Uploads held for memory would otherwise stall the server shutdown.
	monitor.Stop()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	startup.LogShutdownStep("Closing gallery session")
	if err := session.Close(); err != nil {
		logging.Warn("Gallery close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Gallery unmounted, caches closed")
	}

	startup.LogShutdownStep("Stopping upload pipeline")
	pipeline.Close()
	startup.LogShutdownStepComplete("Upload pipeline stopped")

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownComplete()
}
