package mission

import (
	"context"
	"sort"
	"sync"
)

// Store describes persistence for templates and assigned missions.
type Store interface {
	InsertTemplate(ctx context.Context, t *Template) error
	FindTemplate(ctx context.Context, id string) (Template, error)
	UpdateTemplate(ctx context.Context, t Template) error
	ListTemplates(ctx context.Context) ([]Template, error)

	InsertMission(ctx context.Context, m *Mission) error
	FindMission(ctx context.Context, id string) (Mission, error)
	UpdateMission(ctx context.Context, m Mission) error
	MissionsByChild(ctx context.Context, childID string) ([]Mission, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu        sync.RWMutex
	templates map[string]*Template
	missions  map[string]*Mission
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		templates: make(map[string]*Template),
		missions:  make(map[string]*Mission),
	}
}

func (s *InMemory) InsertTemplate(ctx context.Context, t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *InMemory) FindTemplate(ctx context.Context, id string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemory) UpdateTemplate(ctx context.Context, t Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; !ok {
		return ErrNotFound
	}
	cp := t
	s.templates[t.ID] = &cp
	return nil
}

func (s *InMemory) ListTemplates(ctx context.Context) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Template
	for _, t := range s.templates {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) InsertMission(ctx context.Context, m *Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneMission(*m)
	s.missions[m.ID] = &cp
	return nil
}

func (s *InMemory) FindMission(ctx context.Context, id string) (Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.missions[id]
	if !ok {
		return Mission{}, ErrNotFound
	}
	return cloneMission(*m), nil
}

func (s *InMemory) UpdateMission(ctx context.Context, m Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[m.ID]; !ok {
		return ErrNotFound
	}
	cp := cloneMission(m)
	s.missions[m.ID] = &cp
	return nil
}

func (s *InMemory) MissionsByChild(ctx context.Context, childID string) ([]Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Mission
	for _, m := range s.missions {
		if m.ChildID == childID {
			out = append(out, cloneMission(*m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func cloneMission(m Mission) Mission {
	if m.Photos != nil {
		photos := make([]Photo, len(m.Photos))
		copy(photos, m.Photos)
		m.Photos = photos
	}
	return m
}
