package handlers

import (
	"net/http"

	"pikoshi-gallery/internal/startup"
)

// GetVersion returns the agent version and build information
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, startup.GetBuildInfo())
}
