package child

import (
	"context"
	"sync"
)

// Store describes persistence for child records.
type Store interface {
	Insert(ctx context.Context, c *Child) error
	// Find returns the child record, deleted ones included; callers decide
	// how deletion surfaces.
	Find(ctx context.Context, id string) (Child, error)
	Update(ctx context.Context, c Child) error
}

// InMemory implements Store for tests and the smoke tool.
type InMemory struct {
	mu       sync.RWMutex
	children map[string]*Child
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{children: make(map[string]*Child)}
}

func (s *InMemory) Insert(ctx context.Context, c *Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.children[c.ID] = &cp
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.children[id]
	if !ok {
		return Child{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemory) Update(ctx context.Context, c Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.children[c.ID]; !ok {
		return ErrNotFound
	}
	cp := c
	s.children[c.ID] = &cp
	return nil
}
