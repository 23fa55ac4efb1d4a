package memory

import (
	"context"
	"fmt"
	"sync"

	"livecast/internal/core/ports"
)

// Store keeps preferences for the lifetime of the process.
type Store struct {
	values map[string]any
	mu     sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		values: make(map[string]any),
	}
}

var _ ports.PreferenceStore = (*Store)(nil)

func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	return get[string](s, key)
}

func (s *Store) SetString(ctx context.Context, key, value string) error {
	s.set(key, value)
	return nil
}

func (s *Store) GetInt(ctx context.Context, key string) (int, bool, error) {
	return get[int](s, key)
}

func (s *Store) SetInt(ctx context.Context, key string, value int) error {
	s.set(key, value)
	return nil
}

func (s *Store) GetBool(ctx context.Context, key string) (bool, bool, error) {
	return get[bool](s, key)
}

func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	s.set(key, value)
	return nil
}

func (s *Store) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	return get[float64](s, key)
}

func (s *Store) SetFloat(ctx context.Context, key string, value float64) error {
	s.set(key, value)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Snapshot copies every stored value.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Store) set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func get[T any](s *Store, key string) (T, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero T
	raw, ok := s.values[key]
	if !ok {
		return zero, false, nil
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false, fmt.Errorf("preference %q holds %T, not %T", key, raw, zero)
	}
	return v, true, nil
}
