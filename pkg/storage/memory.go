package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opsdesk/guichet/pkg/request"
)

// MemoryRepository is an in-memory Repository with the same concurrency
// semantics as the postgres implementation: saves compare-and-swap on the
// aggregate version. Used by tests and local development.
type MemoryRepository struct {
	mu       sync.Mutex
	requests map[string]*request.Request
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[string]*request.Request),
	}
}

// CreateRequest stores a new aggregate at version 1.
func (m *MemoryRepository) CreateRequest(ctx context.Context, r *request.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[r.ID]; exists {
		return fmt.Errorf("request %s already exists: %w", r.ID, ErrConflict)
	}
	r.Version = 1
	m.requests[r.ID] = r.Clone()
	return nil
}

// LoadRequest returns a deep copy of the stored aggregate so callers can
// mutate freely before saving.
func (m *MemoryRepository) LoadRequest(ctx context.Context, id string) (*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return stored.Clone(), nil
}

// SaveRequest replaces the stored aggregate iff the caller's version matches
// the stored version. The winner's version is incremented; a stale writer
// gets ErrConflict.
func (m *MemoryRepository) SaveRequest(ctx context.Context, r *request.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.requests[r.ID]
	if !ok {
		return fmt.Errorf("request %s: %w", r.ID, ErrNotFound)
	}
	if stored.Version != r.Version {
		return fmt.Errorf("request %s at version %d, caller has %d: %w", r.ID, stored.Version, r.Version, ErrConflict)
	}
	r.Version++
	m.requests[r.ID] = r.Clone()
	return nil
}

// ListRequests returns matching aggregates ordered by creation time.
func (m *MemoryRepository) ListRequests(ctx context.Context, f Filter) ([]*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*request.Request
	for _, r := range m.requests {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.RequesterID != "" && r.RequesterID != f.RequesterID {
			continue
		}
		if f.Category != "" && r.Category != f.Category {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
