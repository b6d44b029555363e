// Package api provides the read-side HTTP handlers of the CV service.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/cvstudio/internal/store"
	"github.com/ashureev/cvstudio/internal/workflow"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler provides common handler utilities.
type Handler struct {
	repo             store.Repository
	gate             workflow.Gate
	snapshotMaxBytes int
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, gate workflow.Gate, snapshotMaxBytes int) *Handler {
	if snapshotMaxBytes <= 0 {
		snapshotMaxBytes = workflow.DefaultSnapshotMaxBytes
	}
	return &Handler{
		repo:             repo,
		gate:             gate,
		snapshotMaxBytes: snapshotMaxBytes,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
