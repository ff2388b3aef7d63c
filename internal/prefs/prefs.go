// Package prefs is a small observable preference store for cross-page
// selections (last-used workspace, per-workspace defaults). Changing a
// parent preference always clears preferences scoped to the old value:
// that is a data-integrity rule, so it lives here and not in the caller.
package prefs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Backend is the durable key/value backing for preferences.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Store is an observable preference store. Subscribers are notified
// after every successful write with the key that changed.
type Store struct {
	backend Backend
	logger  *slog.Logger

	// dependents maps a parent key to the scoped-key prefixes cleared
	// when the parent's value changes.
	dependents map[string][]string

	mu   sync.Mutex
	subs []func(key, value string)
}

// NewStore creates a preference store. dependents maps parent keys to
// the prefixes of preferences scoped to them.
func NewStore(backend Backend, dependents map[string][]string, logger *slog.Logger) *Store {
	return &Store{
		backend:    backend,
		logger:     logger,
		dependents: dependents,
	}
}

// Subscribe registers a change listener. Listeners run synchronously on
// the writer's goroutine and must be fast.
func (s *Store) Subscribe(fn func(key, value string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Get returns the stored value for a key, or "" if unset.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return s.backend.Get(ctx, key)
}

// Set writes a preference. If the key is a parent of scoped preferences
// and its value actually changed, the scoped preferences are cleared
// before the new value is written.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if prefixes, ok := s.dependents[key]; ok {
		old, err := s.backend.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to read current preference: %w", err)
		}
		if old != "" && old != value {
			for _, prefix := range prefixes {
				if err := s.backend.DeletePrefix(ctx, prefix); err != nil {
					return fmt.Errorf("failed to clear dependent preferences: %w", err)
				}
				s.logger.Debug("Cleared dependent preferences", "parent", key, "prefix", prefix)
			}
		}
	}

	if err := s.backend.Set(ctx, key, value); err != nil {
		return err
	}
	s.notify(key, value)
	return nil
}

// Delete removes a preference and notifies subscribers with an empty
// value.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return err
	}
	s.notify(key, "")
	return nil
}

func (s *Store) notify(key, value string) {
	s.mu.Lock()
	subs := append(([]func(key, value string))(nil), s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(key, value)
	}
}
