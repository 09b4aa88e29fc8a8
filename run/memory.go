package run

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/kbukum/fanout/errors"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, r *Run) error {
	if r == nil || r.ID == "" {
		return apperrors.InvalidInput("run", "run with an id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; ok {
		return apperrors.Persistence("create", fmt.Errorf("run %s already exists", r.ID))
	}
	s.runs[r.ID] = r.Clone()
	return nil
}

// AppendOutcome implements Store.
func (s *MemoryStore) AppendOutcome(_ context.Context, id string, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return apperrors.NotFound("run", id)
	}
	return r.Append(o, s.now())
}

// Finalize implements Store.
func (s *MemoryStore) Finalize(_ context.Context, id string, totalSources int, completedAt time.Time) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, apperrors.NotFound("run", id)
	}
	if err := r.Finalize(totalSources, completedAt); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, apperrors.NotFound("run", id)
	}
	return r.Clone(), nil
}

// ListByOwner implements Store.
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string, page, size int) ([]*Run, int64, error) {
	page, size = NormalizePage(page, size)

	s.mu.RLock()
	matched := make([]*Run, 0)
	for _, r := range s.runs {
		if ownerID == "" || r.OwnerID == ownerID {
			matched = append(matched, r)
		}
	}
	sortNewestFirst(matched)

	total := int64(len(matched))
	start := min(Offset(page, size), len(matched))
	end := min(start+size, len(matched))
	out := make([]*Run, 0, end-start)
	for _, r := range matched[start:end] {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	return out, total, nil
}

// ListStale implements Store.
func (s *MemoryStore) ListStale(_ context.Context, olderThan time.Time) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Run
	for _, r := range s.runs {
		if r.Status == StatusInProgress && r.StartedAt.Before(olderThan) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Len returns the number of stored runs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func sortNewestFirst(runs []*Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})
}
