package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthTimeout = 3 * time.Second

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	*Handler
	docs      HealthChecker
	aiEnabled bool
	maxPages  int
}

// NewHealthHandler creates a health handler. docs may be nil.
func NewHealthHandler(base *Handler, docs HealthChecker, aiEnabled bool, maxPages int) *HealthHandler {
	return &HealthHandler{Handler: base, docs: docs, aiEnabled: aiEnabled, maxPages: maxPages}
}

// RegisterRoutes registers health and config routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.GetHealth)
	r.Get("/api/config", h.GetConfig)
}

// GetHealth checks the store and the document service. The service is
// degraded, not down, when only the document service is unreachable.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := map[string]string{"store": "ok", "document_service": "ok"}
	code := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Store health check failed", "error", err)
		status["store"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	if h.docs == nil {
		status["document_service"] = "not_configured"
	} else if err := h.docs.Health(ctx); err != nil {
		slog.Warn("Document service health check failed", "error", err)
		status["document_service"] = "unavailable"
	}

	overall := "ok"
	switch {
	case code != http.StatusOK:
		overall = "down"
	case status["document_service"] != "ok":
		overall = "degraded"
	}
	JSON(w, code, map[string]interface{}{"status": overall, "checks": status})
}

// GetConfig returns the settings the frontend needs.
func (h *HealthHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_enabled":       h.aiEnabled,
		"max_pages":        h.maxPages,
		"readiness_strict": h.gate.Strict,
	})
}
