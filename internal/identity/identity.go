// Package identity resolves the learner and course behind an HTTP request.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/mentor-chat/internal/config"
	"github.com/ashureev/mentor-chat/internal/domain"
)

const (
	LearnerCookieName   = "mentor_learner_id"
	LearnerHeaderName   = "X-Mentor-Learner-ID"
	CourseHeaderName    = "X-Mentor-Course-ID"
	learnerCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const identityKey contextKey = iota

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9-]{36}$`)
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9._:@+-]{1,128}$`)
)

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func generateAnonID() string {
	return "anon_" + uuid.NewString()
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if !idPattern.MatchString(id) {
		return ""
	}
	return id
}

func setLearnerCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     LearnerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(learnerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(learnerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// learnerID prefers an explicit header, then the cookie, then a freshly
// issued anonymous id.
func learnerID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	if id := sanitizeID(r.Header.Get(LearnerHeaderName)); id != "" {
		return id
	}
	if c, err := r.Cookie(LearnerCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		setLearnerCookie(w, c.Value, isDev)
		return c.Value
	}
	id := generateAnonID()
	setLearnerCookie(w, id, isDev)
	return id
}

func courseID(r *http.Request, fallback string) string {
	if id := sanitizeID(r.Header.Get(CourseHeaderName)); id != "" {
		return id
	}
	if id := sanitizeID(r.URL.Query().Get("courseId")); id != "" {
		return id
	}
	if id := sanitizeID(config.CourseIDFromURL(r.Referer())); id != "" {
		return id
	}
	return fallback
}

// Middleware attaches the caller's identity to the request context.
func Middleware(defaultCourseID string, isDev bool) func(http.Handler) http.Handler {
	if defaultCourseID == "" {
		defaultCourseID = config.DefaultCourseID
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := domain.Identity{
				LearnerID: learnerID(w, r, isDev),
				CourseID:  courseID(r, defaultCourseID),
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
