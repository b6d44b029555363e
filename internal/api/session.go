package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/ashureev/cvstudio/internal/store"
	"github.com/ashureev/cvstudio/internal/workflow"
	"github.com/go-chi/chi/v5"
)

// SessionHandler exposes read-only views of a session.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Get("/readiness", h.GetReadiness)
		r.Get("/artifacts/{artifactID}", h.GetArtifact)
	})
}

func (h *SessionHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	s, err := store.LoadSession(r.Context(), h.repo, sessionID)
	switch {
	case err == nil:
		return s, true
	case errors.Is(err, domain.ErrSessionIncompatible):
		Error(w, http.StatusConflict, "session is incompatible with this version; start a new session")
	case errors.Is(err, domain.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	default:
		slog.Error("Failed to load session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
	return nil, false
}

// GetSession returns the bounded session snapshot.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.load(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, workflow.BuildSnapshot(s, h.gate.Compute(s), h.snapshotMaxBytes))
}

// GetReadiness returns the readiness checklist.
func (h *SessionHandler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	s, ok := h.load(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, h.gate.Compute(s))
}

// GetArtifact streams a rendered document.
func (h *SessionHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	s, ok := h.load(w, r)
	if !ok {
		return
	}
	artifactID := chi.URLParam(r, "artifactID")
	a, err := h.repo.GetArtifact(r.Context(), s.ID, artifactID)
	if err != nil {
		slog.Error("Failed to load artifact", "session_id", s.ID, "artifact_id", artifactID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if a == nil {
		Error(w, http.StatusNotFound, "artifact not found")
		return
	}

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Content-Disposition", `attachment; filename="cv-`+a.ID+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.Data); err != nil {
		slog.Warn("Failed to write artifact", "artifact_id", a.ID, "error", err)
	}
}
