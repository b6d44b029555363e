package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/cvstudio/internal/config"
	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize leaves room for a base64-encoded upload.
const defaultMaxRequestBodySize = 10 << 20

// Handler serves the chat endpoint.
type Handler struct {
	orchestrator *Orchestrator
	rateLimiter  *RateLimiter
	maxBodySize  int64
	log          ConversationLogger
}

// RateLimiter implements a per-client sliding-window rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// startEviction periodically removes expired keys so the map does not grow
// without bound.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

// NewHandler creates a chat handler. cfg may be nil, in which case defaults apply.
func NewHandler(orchestrator *Orchestrator, conversationLogger ConversationLogger, cfg *config.Config) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}

	rateLimitRequests := 20
	rateLimitWindow := time.Minute
	maxBodySize := int64(defaultMaxRequestBodySize)
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		maxBodySize = cfg.MaxRequestBodySize
	}

	return &Handler{
		orchestrator: orchestrator,
		rateLimiter:  NewRateLimiter(rateLimitRequests, rateLimitWindow),
		maxBodySize:  maxBodySize,
		log:          conversationLogger,
	}
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !h.rateLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var body Request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hasAction := body.UserAction != nil && body.UserAction.ID != ""
	hasUpload := body.UploadedDocument != nil && body.UploadedDocument.DataBase64 != ""
	if strings.TrimSpace(body.Message) == "" && !hasAction && !hasUpload {
		writeError(w, http.StatusBadRequest, "message, user_action or uploaded_document is required")
		return
	}

	slog.Info("Chat request",
		"session_id", body.SessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(body.Message),
		"has_action", hasAction,
		"has_upload", hasUpload,
	)

	resp, err := h.orchestrator.Handle(r.Context(), body)
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("Chat request failed", "session_id", body.SessionID, "error", err)
		} else {
			slog.Warn("Chat request rejected", "session_id", body.SessionID, "status", status, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSessionIncompatible):
		return http.StatusConflict, "session is incompatible with this version; start a new session"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, ErrBadRequest), errors.Is(err, domain.ErrInvalidStage):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode chat response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	if h.log != nil {
		if err := h.log.Close(); err != nil {
			slog.Warn("failed to close conversation logger", "error", err)
		}
	}
}
