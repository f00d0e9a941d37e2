package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/mentor-chat/internal/domain"
	"github.com/ashureev/mentor-chat/internal/identity"
	"github.com/ashureev/mentor-chat/internal/session"
)

// Reasons reported in chatResponse.Ignored.
const (
	ignoredEmpty = "empty"
	ignoredBusy  = "busy"
)

type submitRequest struct {
	Message string `json:"message"`
}

type followUpRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	session.Snapshot
	Ignored string `json:"ignored,omitempty"`
}

// ignoredReason maps a rejected submit to its reason, or "" for other errors.
func ignoredReason(err error) string {
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		return ignoredEmpty
	case errors.Is(err, session.ErrBusy):
		return ignoredBusy
	default:
		return ""
	}
}

// precheck reports why a submit would be rejected without consuming rate
// budget. Submit still enforces both rules.
func precheck(m *session.Manager, text string) string {
	if strings.TrimSpace(text) == "" {
		return ignoredEmpty
	}
	if m.State().Phase != domain.PhaseIdle {
		return ignoredBusy
	}
	return ""
}

func (h *Handler) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Manager, domain.Identity, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, id, false
	}
	m, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to open chat session", "error", err, "learner_id", id.LearnerID)
		Error(w, http.StatusServiceUnavailable, "session unavailable")
		return nil, id, false
	}
	return m, id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// HandleState handles GET /api/chat/state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, chatResponse{Snapshot: m.State()})
}

// HandleSubmit handles POST /api/chat/messages. The response is sent once
// the turn has completed.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	m, id, ok := h.sessionFor(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if reason := precheck(m, req.Message); reason != "" {
		JSON(w, http.StatusAccepted, chatResponse{Snapshot: m.State(), Ignored: reason})
		return
	}

	// Rate-limit by learner only so rotating course ids does not bypass it.
	if h.limiter != nil && !h.limiter.Allow(id.LearnerID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	// A dropped client must not abort the turn; the reply is still persisted.
	snap, err := m.Submit(context.WithoutCancel(r.Context()), req.Message)
	if reason := ignoredReason(err); reason != "" {
		JSON(w, http.StatusAccepted, chatResponse{Snapshot: m.State(), Ignored: reason})
		return
	}
	if err != nil {
		Error(w, http.StatusServiceUnavailable, "session closed")
		return
	}

	h.logger.Info("Chat turn completed",
		"learner_id", id.LearnerID,
		"course_id", id.CourseID,
		"messages", len(snap.Messages),
		"ip", identity.IPFromRequest(r),
	)
	JSON(w, http.StatusOK, chatResponse{Snapshot: snap})
}

// HandleFollowUp handles POST /api/chat/follow-ups. It only fills the draft.
func (h *Handler) HandleFollowUp(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.sessionFor(w, r)
	if !ok {
		return
	}

	var req followUpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := m.SelectFollowUp(req.Prompt); err != nil {
		Error(w, http.StatusServiceUnavailable, "session closed")
		return
	}
	JSON(w, http.StatusOK, chatResponse{Snapshot: m.State()})
}

// HandleReset handles DELETE /api/chat.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.registry.Reset(r.Context(), id); err != nil {
		h.logger.Error("Failed to reset chat session", "error", err, "learner_id", id.LearnerID)
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
