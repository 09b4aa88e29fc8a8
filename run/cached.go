package run

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of terminal runs a CachedStore keeps.
const DefaultCacheSize = 1024

// CachedStore serves terminal runs from an LRU in front of another Store.
// Runs still IN_PROGRESS always go to the underlying store.
type CachedStore struct {
	Store
	cache *lru.Cache[string, *Run]
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps inner with an LRU of the given size.
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	if inner == nil {
		return nil, fmt.Errorf("run: cached store needs an underlying store")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Run](size)
	if err != nil {
		return nil, fmt.Errorf("run: create cache: %w", err)
	}
	return &CachedStore{Store: inner, cache: cache}, nil
}

// Get implements Store.
func (s *CachedStore) Get(ctx context.Context, id string) (*Run, error) {
	if r, ok := s.cache.Get(id); ok {
		return r.Clone(), nil
	}
	r, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(r)
	return r, nil
}

// Finalize implements Store.
func (s *CachedStore) Finalize(ctx context.Context, id string, totalSources int, completedAt time.Time) (*Run, error) {
	r, err := s.Store.Finalize(ctx, id, totalSources, completedAt)
	if err != nil {
		return nil, err
	}
	s.remember(r)
	return r, nil
}

// Len returns the number of cached runs.
func (s *CachedStore) Len() int { return s.cache.Len() }

func (s *CachedStore) remember(r *Run) {
	if r != nil && r.Status.IsTerminal() {
		s.cache.Add(r.ID, r.Clone())
	}
}
