// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingEndpoint is returned when no Mentor endpoint is configured.
// No built-in fallback address exists.
var ErrMissingEndpoint = errors.New("CHATBOT_API_ENDPOINT is not configured")

// Config holds all server configuration.
type Config struct {
	Port        string
	FrontendURL string

	StoreBackend string
	DBPath       string
	StoreDir     string
	RedisAddr    string

	Transport      string
	Endpoint       string
	GrpcMethod     string
	RequestTimeout time.Duration

	DefaultCourseID string
	SessionTTL      time.Duration
	RateLimit       RateLimitConfig
	LogLevel        slog.Level
}

// RateLimitConfig bounds how many messages a learner may send per window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),

		StoreBackend: getEnv("STORE_BACKEND", "sqlite"),
		DBPath:       getEnv("DB_PATH", "./data/mentor.db"),
		StoreDir:     getEnv("STORE_DIR", "./data/sessions"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),

		Transport:      getEnv("TRANSPORT", "http"),
		Endpoint:       getEnv("CHATBOT_API_ENDPOINT", ""),
		GrpcMethod:     getEnv("GRPC_METHOD", "/mentor.v1.MentorService/Query"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		DefaultCourseID: getEnv("CHATBOT_COURSE_ID", DefaultCourseID),
		SessionTTL:      getEnvDuration("SESSION_TTL", 60*time.Minute),
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	switch c.StoreBackend {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	case "file":
		if c.StoreDir == "" {
			return errors.New("STORE_DIR cannot be empty")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR cannot be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND %q is not one of sqlite, file, redis, memory", c.StoreBackend)
	}
	if c.Transport != "http" && c.Transport != "grpc" {
		return fmt.Errorf("TRANSPORT %q is not one of http, grpc", c.Transport)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SessionTTL < 0 {
		return errors.New("SESSION_TTL cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// VerboseFromEnv reports whether MENTOR_VERBOSE asks for debug logging.
func VerboseFromEnv() bool {
	return getEnvBool("MENTOR_VERBOSE", false)
}
