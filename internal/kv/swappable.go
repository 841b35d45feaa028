package kv

import (
	"context"
	"sync"
)

// Swappable wraps a Store so the backing instance can be replaced at
// runtime, e.g. after the watcher notices the database file was
// deleted and a fresh store must take over.
type Swappable struct {
	mu    sync.RWMutex
	inner Store
}

// NewSwappable wraps inner.
func NewSwappable(inner Store) *Swappable {
	return &Swappable{inner: inner}
}

// Swap replaces the backing store and closes the old one.
func (s *Swappable) Swap(next Store) {
	s.mu.Lock()
	old := s.inner
	s.inner = next
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (s *Swappable) current() Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner
}

func (s *Swappable) Get(ctx context.Context, key string) (string, bool, error) {
	return s.current().Get(ctx, key)
}

func (s *Swappable) Set(ctx context.Context, key, value string) error {
	return s.current().Set(ctx, key, value)
}

func (s *Swappable) Remove(ctx context.Context, key string) error {
	return s.current().Remove(ctx, key)
}

func (s *Swappable) Close() error {
	return s.current().Close()
}
