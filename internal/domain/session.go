package domain

import "strings"

// Phase is the request lifecycle state of a chat session.
type Phase string

const (
	// PhaseIdle accepts a new submission.
	PhaseIdle Phase = "idle"
	// PhaseAwaiting means an exchange with the assistant is in flight.
	PhaseAwaiting Phase = "awaiting"
	// PhaseError labels per-message error content. A session never rests in it.
	PhaseError Phase = "error"
)

// Identity is the learner/course pair a session is bound to.
type Identity struct {
	LearnerID string `json:"learnerId"`
	CourseID  string `json:"courseId"`
}

// Key returns a store-safe scope for the identity.
func (i Identity) Key() string {
	return escapeKeyPart(i.LearnerID) + "/" + escapeKeyPart(i.CourseID)
}

func escapeKeyPart(s string) string {
	s = strings.NewReplacer("%", "%25", "/", "%2F", ":", "%3A").Replace(s)
	if s == "" {
		return "_"
	}
	// Leading dots would read as relative or hidden path segments.
	if strings.HasPrefix(s, ".") {
		s = "%2E" + s[1:]
	}
	return s
}
