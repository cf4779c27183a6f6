package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/gallery"
	"pikoshi-gallery/internal/mediatypes"
)

// GetImage returns the full-resolution record for the image viewer.
func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	ctrl, err := h.session.Current()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	setSession(w, ctrl.SessionID())

	rec, err := ctrl.OpenImage(r.Context(), name)
	switch {
	case err == nil:
		w.Header().Set("Cache-Control", "private, max-age=3600")
		writeJSON(w, http.StatusOK, map[string]mediatypes.ImageRecord{"data": rec})
	case errors.Is(err, mediatypes.ErrEmptyFileName):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, gallery.ErrUnmounted):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, api.ErrUnauthenticated):
		writeJSONError(w, "not authenticated", http.StatusUnauthorized)
	default:
		log.Warn("Viewer lookup for %s failed: %v", name, err)
		writeJSONError(w, "image unavailable", http.StatusBadGateway)
	}
}
