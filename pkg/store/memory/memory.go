// Package memory provides a map-backed Store for tests and ephemeral runs.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/store"
)

// Store keeps objects in a map.
type Store struct {
	mu      sync.RWMutex
	objects map[string]base.Item
	closed  bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]base.Item)}
}

func (s *Store) GetMany(ctx context.Context, ids []string) ([]base.Item, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, store.ErrClosed
	}

	found := make(map[string]base.Item, len(ids))
	for _, id := range ids {
		if it, ok := s.objects[id]; ok {
			found[id] = it
		}
	}
	items, missing := store.Split(ids, found)
	return items, missing, nil
}

func (s *Store) PutMany(ctx context.Context, items []base.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	for _, it := range items {
		if _, ok := s.objects[it.BaseID]; !ok {
			s.objects[it.BaseID] = it
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	return int64(len(s.objects)), nil
}

func (s *Store) Type() string { return "memory" }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.objects = nil
	return nil
}

var _ store.Store = (*Store)(nil)
