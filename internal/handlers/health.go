package handlers

import (
	"net/http"
	"runtime"
	"time"

	"pikoshi-gallery/internal/gallery"
	"pikoshi-gallery/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	// Gallery info
	State         string `json:"state"`
	SessionID     string `json:"sessionId,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Images        int    `json:"images"`
	Placeholders  int    `json:"placeholders"`
	LastError     string `json:"lastError,omitempty"`

	// System info
	Vips         bool   `json:"vips"`
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck reports the agent and gallery state. It returns 503 until a
// gallery is mounted and has reached a displayable state.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		State:        "not_mounted",
		Vips:         vipsEnabled(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		Status:       statusStarting,
	}

	if ctrl, err := h.session.Current(); err == nil {
		view := ctrl.Snapshot()
		response.State = string(view.State)
		response.SessionID = view.SessionID
		response.Authenticated = view.Authenticated
		response.Images = len(view.Images)
		response.Placeholders = len(view.Placeholders)
		response.LastError = view.Error
		response.Ready = displayable(view.State)

		switch {
		case view.State == gallery.StateRedirecting || view.Error != "":
			response.Status = statusDegraded
		case response.Ready:
			response.Status = statusHealthy
		}
	}

	status := http.StatusOK
	if !response.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func displayable(s gallery.State) bool {
	switch s {
	case gallery.StateReady, gallery.StateLoadingMore, gallery.StateStreamingInitial, gallery.StateCacheHit:
		return true
	}
	return false
}

// LivenessCheck always returns 200 while the server is running
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessCheck returns 200 once the gallery can be displayed
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if ctrl, err := h.session.Current(); err == nil && displayable(ctrl.Snapshot().State) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}
