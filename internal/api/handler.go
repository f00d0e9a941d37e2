// Package api provides HTTP handlers for the Mentor chat API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/mentor-chat/internal/session"
)

const maxRequestBodySize = 64 << 10

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// Handler serves the chat API for every learner session in a registry.
type Handler struct {
	registry       *session.Registry
	limiter        *RateLimiter
	logger         *slog.Logger
	originPatterns []string
	checks         map[string]CheckFunc
}

// NewHandler creates a Handler. A nil limiter disables rate limiting.
func NewHandler(registry *session.Registry, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:       registry,
		limiter:        limiter,
		logger:         logger,
		originPatterns: []string{"*"},
		checks:         make(map[string]CheckFunc),
	}
}

// SetOriginPatterns restricts which origins may open the chat websocket.
func (h *Handler) SetOriginPatterns(patterns []string) {
	h.originPatterns = patterns
}

// AddCheck registers a readiness check reported by GET /api/ready.
func (h *Handler) AddCheck(name string, fn CheckFunc) {
	h.checks[name] = fn
}

// RegisterRoutes mounts the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/ready", h.HandleReady)
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/state", h.HandleState)
		r.Post("/messages", h.HandleSubmit)
		r.Post("/follow-ups", h.HandleFollowUp)
		r.Delete("/", h.HandleReset)
	})
	r.Get("/ws/chat", h.HandleSocket)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// HandleReady runs every registered check with a short timeout.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("Readiness check failed", "check", name, "error", err)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	JSON(w, status, map[string]any{"checks": results, "sessions": h.registry.Len()})
}
