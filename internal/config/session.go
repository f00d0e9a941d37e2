package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Identity fallbacks used when nothing else supplies a value.
const (
	DefaultLearnerID = "anonymous"
	DefaultCourseID  = "unknown"
)

// Session holds what a chat session needs before construction.
type Session struct {
	Endpoint  string `yaml:"endpoint"`
	Transport string `yaml:"transport"`
	LearnerID string `yaml:"learner_id"`
	CourseID  string `yaml:"course_id"`
}

// ResolveOptions supplies the non-explicit layers of session resolution.
type ResolveOptions struct {
	// ConfigFile is an optional YAML file. A missing file is ignored.
	ConfigFile string
	// PageURL is the URL of the page hosting the chat, used for course id
	// discovery.
	PageURL string
	// Getenv overrides os.Getenv.
	Getenv func(string) string
}

// ResolveSession fills each field of explicit from, in order: the explicit
// value, the environment, the config file, the page URL (course id only)
// and the defaults. The endpoint has no default.
func ResolveSession(explicit Session, opts ResolveOptions) (Session, error) {
	out, err := ResolveIdentity(explicit, opts)
	if err != nil {
		return Session{}, err
	}
	if out.Endpoint == "" {
		return Session{}, ErrMissingEndpoint
	}
	return out, nil
}

// ResolveIdentity runs the same chain as ResolveSession but tolerates a
// missing endpoint, for callers that never contact the service.
func ResolveIdentity(explicit Session, opts ResolveOptions) (Session, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	var file Session
	if opts.ConfigFile != "" {
		f, err := LoadFile(opts.ConfigFile)
		if err != nil {
			return Session{}, err
		}
		file = f
	}

	out := Session{
		Endpoint:  firstNonEmpty(explicit.Endpoint, getenv("CHATBOT_API_ENDPOINT"), file.Endpoint),
		Transport: firstNonEmpty(explicit.Transport, getenv("TRANSPORT"), file.Transport, "http"),
		LearnerID: firstNonEmpty(explicit.LearnerID, getenv("CHATBOT_USER_ID"), file.LearnerID, DefaultLearnerID),
		CourseID: firstNonEmpty(
			explicit.CourseID,
			getenv("CHATBOT_COURSE_ID"),
			file.CourseID,
			CourseIDFromURL(opts.PageURL),
			DefaultCourseID,
		),
	}
	return out, nil
}

// LoadFile reads a YAML session file. A missing file yields a zero Session.
func LoadFile(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("read config file: %w", err)
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return s, nil
}

var coursePathPattern = regexp.MustCompile(`/courses?/(course-v1:[^/]+)`)

// CourseIDFromURL extracts a course id from a page URL: the courseId query
// parameter wins, then a /course/ or /courses/ path segment starting with
// "course-v1:". It returns "" when neither is present.
func CourseIDFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if id := strings.TrimSpace(u.Query().Get("courseId")); id != "" {
		return id
	}
	if m := coursePathPattern.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
