package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/mentor-chat/internal/session"
)

// Socket message types.
const (
	msgSubmit   = "submit"
	msgFollowUp = "follow_up"
	msgPing     = "ping"

	evtSnapshot = "snapshot"
	evtIgnored  = "ignored"
	evtPong     = "pong"
	evtError    = "error"
)

type socketMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type socketEvent struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

// HandleSocket handles GET /ws/chat. It pushes a snapshot on connect and
// after every transition of the caller's session.
func (h *Handler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	m, id, ok := h.sessionFor(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "learner_id", id.LearnerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "learner_id", id.LearnerID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	snap := m.State()
	if err := writeEvent(ctx, ws, socketEvent{Type: evtSnapshot, Snapshot: &snap}); err != nil {
		return
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	// Output loop: session -> websocket.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					// Session was reset or expired.
					_ = ws.Close(websocket.StatusNormalClosure, "session closed")
					return
				}
				if err := writeEvent(ctx, ws, socketEvent{Type: evtSnapshot, Snapshot: &snap}); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	h.socketInputLoop(ctx, ws, m, id.LearnerID, &wg)
	cancel()
}

func (h *Handler) socketInputLoop(ctx context.Context, ws *websocket.Conn, m *session.Manager, learnerID string, wg *sync.WaitGroup) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed", "learner_id", learnerID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "learner_id", learnerID)
			}
			return
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = writeEvent(ctx, ws, socketEvent{Type: evtError, Reason: "invalid message"})
			continue
		}

		switch msg.Type {
		case msgSubmit:
			if reason := precheck(m, msg.Content); reason != "" {
				_ = writeEvent(ctx, ws, socketEvent{Type: evtIgnored, Reason: reason})
				continue
			}
			if h.limiter != nil && !h.limiter.Allow(learnerID) {
				_ = writeEvent(ctx, ws, socketEvent{Type: evtError, Reason: "rate limit exceeded"})
				continue
			}
			// Submit blocks for the whole turn; keep reading meanwhile so
			// pings and busy rejections are answered.
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				_, err := m.Submit(context.WithoutCancel(ctx), text)
				if reason := ignoredReason(err); reason != "" {
					_ = writeEvent(ctx, ws, socketEvent{Type: evtIgnored, Reason: reason})
				}
			}(msg.Content)
		case msgFollowUp:
			if err := m.SelectFollowUp(msg.Content); err != nil {
				return
			}
		case msgPing:
			if err := writeEvent(ctx, ws, socketEvent{Type: evtPong}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		default:
			_ = writeEvent(ctx, ws, socketEvent{Type: evtError, Reason: "unknown message type"})
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev socketEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
