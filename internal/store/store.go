// Package store provides durable key/value persistence for chat sessions.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	ErrNotFound    = errors.New("key not found")
	ErrLoadFailed  = errors.New("load failed")
	ErrSaveFailed  = errors.New("save failed")
	ErrInvalidKey  = errors.New("invalid key")
	ErrUnsupported = errors.New("unsupported store backend")
)

// Store is a key/value store scoped to a browsing context. Values are opaque
// bytes; callers own their encoding.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or overwrites the value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend   string
	DBPath    string
	Dir       string
	RedisAddr string
}

// Open creates the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		s, err := NewSQLite(opts.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendFile:
		return NewFileStore(opts.Dir), nil
	case BackendRedis:
		s, err := NewRedis(ctx, opts.RedisAddr)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, opts.Backend)
	}
}
