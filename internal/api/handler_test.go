//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/mentor-chat/internal/agent"
	"github.com/ashureev/mentor-chat/internal/domain"
	"github.com/ashureev/mentor-chat/internal/identity"
	"github.com/ashureev/mentor-chat/internal/session"
	"github.com/ashureev/mentor-chat/internal/store"
)

// echoTransport answers every turn with "echo: <message>".
type echoTransport struct {
	err error
}

func (e echoTransport) Exchange(_ context.Context, req agent.Request) (*agent.Reply, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &agent.Reply{
		Content:        "echo: " + req.Message,
		FollowUps:      []string{"Tell me more"},
		ConversationID: "conv-test",
	}, nil
}

func newTestServer(t *testing.T, tr agent.Transport, limiter *RateLimiter) (*httptest.Server, *Handler) {
	t.Helper()

	reg := session.NewRegistry(tr, store.NewMemory(), time.Hour, nil)
	h := NewHandler(reg, limiter, nil)

	r := chi.NewRouter()
	r.Use(identity.Middleware("course-test", true))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		_ = reg.Close()
	})
	return srv, h
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, chatResponse) {
	t.Helper()

	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identity.LearnerHeaderName, "learner-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp, out
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "nope")

	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"error":"nope"`) {
		t.Errorf("Unexpected error response %d %s", w.Code, w.Body.String())
	}
}

func TestHandleState_Welcome(t *testing.T) {
	srv, _ := newTestServer(t, echoTransport{}, nil)

	resp, got := doJSON(t, http.MethodGet, srv.URL+"/api/chat/state", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if len(got.Messages) != 1 || got.Messages[0].ID != session.WelcomeID {
		t.Errorf("Expected welcome message, got %+v", got.Messages)
	}
	if got.Identity.LearnerID != "learner-1" || got.Identity.CourseID != "course-test" {
		t.Errorf("Unexpected identity %+v", got.Identity)
	}
}

func TestHandleSubmit(t *testing.T) {
	srv, _ := newTestServer(t, echoTransport{}, nil)

	resp, got := doJSON(t, http.MethodPost, srv.URL+"/api/chat/messages", submitRequest{Message: "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(got.Messages))
	}
	last := got.Messages[2]
	if last.Role != domain.RoleAssistant || last.Content != "echo: hello" {
		t.Errorf("Unexpected reply %+v", last)
	}
	if got.ConversationID != "conv-test" || got.Phase != domain.PhaseIdle {
		t.Errorf("Unexpected token/phase %q %s", got.ConversationID, got.Phase)
	}
}

func TestHandleSubmit_TransportFailureIsAMessage(t *testing.T) {
	srv, _ := newTestServer(t, echoTransport{err: &agent.TransportError{Kind: agent.KindStatus, StatusCode: 503}}, nil)

	resp, got := doJSON(t, http.MethodPost, srv.URL+"/api/chat/messages", submitRequest{Message: "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	last := got.Messages[len(got.Messages)-1]
	if !last.Error || last.Content != session.ErrorPrefix+"API error: 503" {
		t.Errorf("Unexpected error message %+v", last)
	}
}

func TestHandleSubmit_EmptyIsIgnored(t *testing.T) {
	srv, _ := newTestServer(t, echoTransport{}, nil)

	resp, got := doJSON(t, http.MethodPost, srv.URL+"/api/chat/messages", submitRequest{Message: "   "})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	if got.Ignored != ignoredEmpty || len(got.Messages) != 1 {
		t.Errorf("Expected ignored=empty with unchanged log, got %q and %d messages", got.Ignored, len(got.Messages))
	}
}

func TestHandleSubmit_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t, echoTransport{}, nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/chat/messages", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	huge := `{"message":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/chat/messages", huge)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", resp.StatusCode)
	}
}

func TestHandleSubmit_RateLimited(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	defer limiter.Close()
	srv, _ := newTestServer(t, echoTransport{}, limiter)

	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/chat/messages", submitRequest{Message: "one"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected first message to pass, got %d", resp.StatusCode)
	}
	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/chat/messages", submitRequest{Message: "two"}); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", resp.StatusCode)
	}
}

// gatedTransport holds each exchange until a value arrives on gate.
type gatedTransport struct {
	started chan struct{}
	gate    chan struct{}
}

func (g gatedTransport) Exchange(ctx context.Context, req agent.Request) (*agent.Reply, error) {
	g.started <- struct{}{}
	select {
	case <-g.gate:
		return &agent.Reply{Content: "echo: " + req.Message}, nil
	case <-ctx.Done():
		return nil, &agent.TransportError{Kind: agent.KindNetwork, Err: ctx.Err()}
	}
}

func TestHandleSubmit_IgnoredSubmitsKeepRateBudget(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	defer limiter.Close()
	tr := gatedTransport{started: make(chan struct{}, 1), gate: make(chan struct{})}
	srv, _ := newTestServer(t, tr, limiter)
	url := srv.URL + "/api/chat/messages"

	for range 3 {
		resp, got := doJSON(t, http.MethodPost, url, submitRequest{Message: "  "})
		if resp.StatusCode != http.StatusAccepted || got.Ignored != ignoredEmpty {
			t.Fatalf("Expected ignored=empty, got %d %q", resp.StatusCode, got.Ignored)
		}
	}

	first := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(`{"message":"one"}`))
		req.Header.Set(identity.LearnerHeaderName, "learner-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	<-tr.started

	for range 3 {
		resp, got := doJSON(t, http.MethodPost, url, submitRequest{Message: "two"})
		if resp.StatusCode != http.StatusAccepted || got.Ignored != ignoredBusy {
			t.Fatalf("Expected ignored=busy, got %d %q", resp.StatusCode, got.Ignored)
		}
	}

	tr.gate <- struct{}{}
	if code := <-first; code != http.StatusOK {
		t.Fatalf("Expected first message to pass, got %d", code)
	}

	go func() { <-tr.started; tr.gate <- struct{}{} }()
	if resp, _ := doJSON(t, http.MethodPost, url, submitRequest{Message: "three"}); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected rejected submits not to count against the limit, got %d", resp.StatusCode)
	}
}

func TestHandleFollowUp(t *testing.T) {
	srv, _ := newTestServer(t, echoTransport{}, nil)

	resp, got := doJSON(t, http.MethodPost, srv.URL+"/api/chat/follow-ups", followUpRequest{Prompt: "Tell me more"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if got.PendingInput != "Tell me more" || len(got.Messages) != 1 {
		t.Errorf("Expected draft set without a turn, got %q and %d messages", got.PendingInput, len(got.Messages))
	}
}

func TestHandleReset(t *testing.T) {
	srv, _ := newTestServer(t, echoTransport{}, nil)

	doJSON(t, http.MethodPost, srv.URL+"/api/chat/messages", submitRequest{Message: "hello"})

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/chat", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", resp.StatusCode)
	}

	_, got := doJSON(t, http.MethodGet, srv.URL+"/api/chat/state", nil)
	if len(got.Messages) != 1 || got.ConversationID != "" {
		t.Errorf("Expected fresh session after reset, got %d messages token %q", len(got.Messages), got.ConversationID)
	}
}

func TestHandleState_RequiresIdentity(t *testing.T) {
	reg := session.NewRegistry(echoTransport{}, store.NewMemory(), 0, nil)
	defer reg.Close()
	h := NewHandler(reg, nil, nil)

	w := httptest.NewRecorder()
	h.HandleState(w, httptest.NewRequest(http.MethodGet, "/api/chat/state", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestHandleReady(t *testing.T) {
	srv, h := newTestServer(t, echoTransport{}, nil)
	h.AddCheck("store", func(context.Context) error { return nil })

	resp, err := http.Get(srv.URL + "/api/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	h.AddCheck("mentor", func(context.Context) error { return errors.New("unreachable") })
	resp, err = http.Get(srv.URL + "/api/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
}
