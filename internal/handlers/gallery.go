package handlers

import (
	"context"
	"errors"
	"net/http"

	"pikoshi-gallery/internal/gallery"
	"pikoshi-gallery/internal/trigger"
)

// viewportRequest is one scroll observation from the UI.
type viewportRequest struct {
	ScrollTop     float64 `json:"scroll_top"`
	Height        float64 `json:"height"`
	ContentHeight float64 `json:"content_height"`
}

// GetGallery returns the current view state.
func (h *Handlers) GetGallery(w http.ResponseWriter, _ *http.Request) {
	ctrl, err := h.session.Current()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	view := ctrl.Snapshot()
	setSession(w, view.SessionID)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, view)
}

// MountGallery starts a fresh gallery session, as a page load would.
func (h *Handlers) MountGallery(w http.ResponseWriter, _ *http.Request) {
	ctrl, err := h.session.Start()
	if err != nil {
		log.Error("Mount failed: %v", err)
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

// Scroll feeds a viewport observation to the scroll trigger.
func (h *Handlers) Scroll(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, "invalid viewport", http.StatusBadRequest)
		return
	}
	if req.Height < 0 || req.ContentHeight < 0 {
		writeJSONError(w, "invalid viewport", http.StatusBadRequest)
		return
	}

	ctrl, err := h.session.Current()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	fired := ctrl.Observe(trigger.Viewport{
		ScrollTop:     req.ScrollTop,
		Height:        req.Height,
		ContentHeight: req.ContentHeight,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"fired": fired})
}

// LoadMore explicitly requests the next page and waits for it to finish
// streaming. The stream is bound to the gallery session, not the request,
// so a client that disconnects does not abort it.
func (h *Handlers) LoadMore(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.session.Current()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	started, err := ctrl.LoadMore(context.WithoutCancel(r.Context()))
	view := ctrl.Snapshot()
	setSession(w, view.SessionID)

	switch {
	case errors.Is(err, gallery.ErrUnmounted):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case err != nil:
		log.Warn("Load more failed: %v", err)
		writeJSON(w, http.StatusBadGateway, loadMoreResponse{Started: started, View: view})
	default:
		writeJSON(w, http.StatusOK, loadMoreResponse{Started: started, View: view})
	}
}

type loadMoreResponse struct {
	Started bool              `json:"started"`
	View    gallery.ViewState `json:"view"`
}
