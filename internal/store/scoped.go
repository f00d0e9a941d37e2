package store

import (
	"context"
	"strings"
)

// ScopedStore namespaces every key under a prefix. It does not own the
// underlying store: Close is a no-op.
type ScopedStore struct {
	inner  Store
	prefix string
}

// Scoped returns a view of s whose keys live under prefix.
func Scoped(s Store, prefix string) *ScopedStore {
	return &ScopedStore{inner: s, prefix: strings.TrimSuffix(prefix, "/") + "/"}
}

func (s *ScopedStore) key(k string) string { return s.prefix + k }

func (s *ScopedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, s.key(key))
}

func (s *ScopedStore) Set(ctx context.Context, key string, value []byte) error {
	return s.inner.Set(ctx, s.key(key), value)
}

func (s *ScopedStore) Delete(ctx context.Context, keys ...string) error {
	scoped := make([]string, len(keys))
	for i, k := range keys {
		scoped[i] = s.key(k)
	}
	return s.inner.Delete(ctx, scoped...)
}

func (s *ScopedStore) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

func (s *ScopedStore) Close() error { return nil }
