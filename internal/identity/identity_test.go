package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/mentor-chat/internal/domain"
)

func serve(t *testing.T, r *http.Request) (domain.Identity, *httptest.ResponseRecorder) {
	t.Helper()
	var got domain.Identity
	h := Middleware("course-default", true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			t.Fatal("Expected identity in context")
		}
		got = id
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return got, w
}

func TestMiddleware_HeadersWin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/chat/state?courseId=query-course", nil)
	r.Header.Set(LearnerHeaderName, "learner-42")
	r.Header.Set(CourseHeaderName, "course-v1:edX+X+1")

	id, w := serve(t, r)

	if id.LearnerID != "learner-42" || id.CourseID != "course-v1:edX+X+1" {
		t.Errorf("Unexpected identity %+v", id)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("Expected no cookie when the learner header is present")
	}
}

func TestMiddleware_IssuesAnonymousCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/chat/state", nil)

	id, w := serve(t, r)

	if !strings.HasPrefix(id.LearnerID, "anon_") {
		t.Errorf("Expected anonymous learner id, got %q", id.LearnerID)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != LearnerCookieName || cookies[0].Value != id.LearnerID {
		t.Fatalf("Expected learner cookie, got %+v", cookies)
	}
	if id.CourseID != "course-default" {
		t.Errorf("Expected default course, got %q", id.CourseID)
	}

	// The cookie is honoured on the next request.
	r2 := httptest.NewRequest(http.MethodGet, "/api/chat/state", nil)
	r2.AddCookie(cookies[0])
	again, _ := serve(t, r2)
	if again.LearnerID != id.LearnerID {
		t.Errorf("Expected learner id %q to persist, got %q", id.LearnerID, again.LearnerID)
	}
}

func TestMiddleware_RejectsForgedCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: LearnerCookieName, Value: "someone-else"})

	id, _ := serve(t, r)
	if id.LearnerID == "someone-else" {
		t.Error("Expected malformed cookie to be replaced")
	}
}

func TestMiddleware_CourseFromQueryAndReferer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?courseId=from-query", nil)
	r.Header.Set("Referer", "https://lms.example.org/courses/course-v1:A+B+C/home")
	if id, _ := serve(t, r); id.CourseID != "from-query" {
		t.Errorf("Expected query course id, got %q", id.CourseID)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Referer", "https://lms.example.org/courses/course-v1:A+B+C/home")
	if id, _ := serve(t, r); id.CourseID != "course-v1:A+B+C" {
		t.Errorf("Expected referer course id, got %q", id.CourseID)
	}
}

func TestMiddleware_IgnoresInvalidHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(LearnerHeaderName, "bad id with spaces")

	id, _ := serve(t, r)
	if !strings.HasPrefix(id.LearnerID, "anon_") {
		t.Errorf("Expected invalid header to fall back to anonymous id, got %q", id.LearnerID)
	}
}

func TestIPFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	if got := IPFromRequest(r); got != "10.0.0.7" {
		t.Errorf("Expected 10.0.0.7, got %s", got)
	}
}
