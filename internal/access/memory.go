package access

import (
	"context"
	"sync"
)

// InMemory implements Store with in-process concurrency safety. Used by tests
// and the smoke tool; production runs on the Postgres store.
type InMemory struct {
	mu     sync.RWMutex
	grants map[string]*Grant // grant ID -> record
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty grant store.
func NewInMemory() *InMemory {
	return &InMemory{grants: make(map[string]*Grant)}
}

func (s *InMemory) Insert(ctx context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.grants {
		if existing.ChildID != g.ChildID || !existing.IsActive {
			continue
		}
		if existing.UserID == g.UserID {
			return ErrConflict
		}
		if g.IsPrimary && existing.IsPrimary {
			return ErrConflict
		}
	}
	cp := *g
	s.grants[g.ID] = &cp
	return nil
}

func (s *InMemory) Update(ctx context.Context, g Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.grants[g.ID]
	if !ok {
		return ErrNotFound
	}
	if g.IsPrimary && !existing.IsPrimary {
		for _, other := range s.grants {
			if other.ID != g.ID && other.ChildID == g.ChildID && other.IsActive && other.IsPrimary {
				return ErrConflict
			}
		}
	}
	cp := g
	s.grants[g.ID] = &cp
	return nil
}

func (s *InMemory) FindActive(ctx context.Context, childID, userID string) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants {
		if g.ChildID == childID && g.UserID == userID && g.IsActive {
			return *g, nil
		}
	}
	return Grant{}, ErrNotFound
}

func (s *InMemory) ActivePrimary(ctx context.Context, childID string) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants {
		if g.ChildID == childID && g.IsActive && g.IsPrimary {
			return *g, nil
		}
	}
	return Grant{}, ErrNotFound
}

func (s *InMemory) ListByChild(ctx context.Context, childID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for _, g := range s.grants {
		if g.ChildID == childID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *InMemory) DeactivateByChild(ctx context.Context, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.ChildID == childID && g.IsActive {
			g.IsActive = false
		}
	}
	return nil
}

func (s *InMemory) TransferPrimary(ctx context.Context, childID, currentGrantID, newGrantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.grants[currentGrantID]
	if !ok || current.ChildID != childID || !current.IsActive || !current.IsPrimary {
		return ErrNotFound
	}
	next, ok := s.grants[newGrantID]
	if !ok || next.ChildID != childID || !next.IsActive {
		return ErrNotFound
	}
	current.IsPrimary = false
	next.IsPrimary = true
	return nil
}
