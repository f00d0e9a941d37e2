package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/mentor-chat/internal/agent"
	"github.com/ashureev/mentor-chat/internal/domain"
	"github.com/ashureev/mentor-chat/internal/store"
)

const sweepInterval = time.Minute

// Registry hosts one Manager per identity, each persisted under its own
// store scope. Managers are created on first use and closed after ttl of
// inactivity.
type Registry struct {
	transport agent.Transport
	store     store.Store
	ttl       time.Duration
	logger    *slog.Logger
	opts      []Option

	// creating deduplicates concurrent hydration of the same identity so
	// store I/O runs outside mu.
	creating singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Manager
	closed   bool
}

// NewRegistry creates a registry. A ttl of zero disables sweeping.
func NewRegistry(transport agent.Transport, st store.Store, ttl time.Duration, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		transport: transport,
		store:     st,
		ttl:       ttl,
		logger:    logger,
		opts:      append([]Option{WithLogger(logger)}, opts...),
		sessions:  make(map[string]*Manager),
	}
}

// Get returns the manager for identity, creating and hydrating it if needed.
func (r *Registry) Get(ctx context.Context, identity domain.Identity) (*Manager, error) {
	key := identity.Key()
	if m, err := r.lookup(key); m != nil || err != nil {
		return m, err
	}

	v, err, _ := r.creating.Do(key, func() (any, error) {
		if m, err := r.lookup(key); m != nil || err != nil {
			return m, err
		}

		m, err := New(ctx, identity, r.transport, store.Scoped(r.store, key), r.opts...)
		if err != nil {
			return nil, fmt.Errorf("create session %s: %w", key, err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = m.Close()
			return nil, ErrClosed
		}
		r.sessions[key] = m
		r.logger.Info("Chat session opened", "learner_id", identity.LearnerID, "course_id", identity.CourseID)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Manager), nil
}

func (r *Registry) lookup(key string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.sessions[key], nil
}

// Reset discards the in-memory session for identity and deletes its
// persisted state. A turn still in flight is cancelled and never written.
func (r *Registry) Reset(ctx context.Context, identity domain.Identity) error {
	key := identity.Key()

	r.mu.Lock()
	m, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		m.discard()
	}
	if err := Clear(ctx, store.Scoped(r.store, key)); err != nil {
		return err
	}
	r.logger.Info("Chat session reset", "learner_id", identity.LearnerID, "course_id", identity.CourseID)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle since before now-ttl and returns how many it
// closed. Sessions with an exchange in flight are kept.
func (r *Registry) Sweep(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	var expired []*Manager
	for key, m := range r.sessions {
		last, idle := m.idleSince()
		if idle && now.Sub(last) > r.ttl {
			expired = append(expired, m)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, m := range expired {
		_ = m.Close()
		id := m.Identity()
		r.logger.Info("Chat session expired", "learner_id", id.LearnerID, "course_id", id.CourseID)
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	if r.ttl <= 0 {
		<-ctx.Done()
		return nil
	}

	interval := min(sweepInterval, r.ttl)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.logger.Info("Session sweeper started", "interval", interval, "ttl", r.ttl)

	for {
		select {
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				r.logger.Info("Session sweeper closed idle sessions", "count", n)
			}
		case <-ctx.Done():
			r.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Close closes every session. Later Get calls fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Manager)
	r.closed = true
	r.mu.Unlock()

	for _, m := range sessions {
		_ = m.Close()
	}
	return nil
}
