package handlers

import (
	"context"
	"net/http"
	"time"

	"pikoshi-gallery/internal/media"
	"pikoshi-gallery/internal/upload"

	"github.com/gorilla/mux"
)

// Uploader runs the upload pipeline.
type Uploader interface {
	Upload(ctx context.Context, files []upload.File) ([]upload.Result, error)
}

// Config tunes the handlers.
type Config struct {
	// MaxUploadBytes bounds one upload request body. Zero uses 64 MiB.
	MaxUploadBytes int64
}

// Handlers serves the local view API.
type Handlers struct {
	session  *Session
	uploader Uploader
	config   Config
	started  time.Time
}

// New creates the handlers.
func New(session *Session, uploader Uploader, config Config) *Handlers {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 64 << 20
	}
	return &Handlers{
		session:  session,
		uploader: uploader,
		config:   config,
		started:  time.Now(),
	}
}

// Register adds every route to r.
func (h *Handlers) Register(r *mux.Router) {
	apiRouter := r.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/gallery", h.GetGallery).Methods(http.MethodGet)
	apiRouter.HandleFunc("/gallery/mount", h.MountGallery).Methods(http.MethodPost)
	apiRouter.HandleFunc("/gallery/scroll", h.Scroll).Methods(http.MethodPost)
	apiRouter.HandleFunc("/gallery/load-more", h.LoadMore).Methods(http.MethodPost)
	apiRouter.HandleFunc("/upload", h.Upload).Methods(http.MethodPost)
	apiRouter.HandleFunc("/images/{name}", h.GetImage).Methods(http.MethodGet)
	apiRouter.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	apiRouter.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	apiRouter.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
}

// vipsEnabled is swapped in tests.
var vipsEnabled = media.IsVipsAvailable
