package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		origins    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  bool
		wantStatus int
	}{
		{"explicit origin", []string{"https://lms.example.org"}, "https://lms.example.org", http.MethodGet, "https://lms.example.org", true, http.StatusTeapot},
		{"wildcard", []string{"*"}, "https://any.example", http.MethodGet, "https://any.example", false, http.StatusTeapot},
		{"disallowed", []string{"https://lms.example.org"}, "https://evil.example", http.MethodGet, "", false, http.StatusTeapot},
		{"preflight", []string{"*"}, "https://any.example", http.MethodOptions, "https://any.example", false, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/api/chat/state", nil)
			r.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.origins)(ok).ServeHTTP(w, r)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCreds)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantOrigin != "" && !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Mentor-Learner-ID") {
				t.Errorf("Expected identity headers to be allowed, got %q", w.Header().Get("Access-Control-Allow-Headers"))
			}
		})
	}
}
