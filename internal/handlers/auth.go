package handlers

import (
	"errors"
	"net/http"
	"strings"

	"pikoshi-gallery/internal/api"
	"pikoshi-gallery/internal/cache"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login signs in with email credentials and mounts a fresh gallery.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeJSONError(w, "email and password are required", http.StatusBadRequest)
		return
	}

	ctrl, err := h.session.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, api.ErrUnauthenticated):
		writeJSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	case err != nil:
		log.Error("Login failed: %v", err)
		writeJSONError(w, "login failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// Logout ends the session and deletes both caches. A delete blocked by an
// open connection is reported as 409.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.session.Logout(r.Context())
	switch {
	case errors.Is(err, cache.ErrBlocked):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case err != nil:
		log.Error("Logout failed: %v", err)
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out", "redirect": "/"})
	}
}
