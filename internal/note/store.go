package note

import (
	"context"
	"sort"
	"sync"
)

// Store describes persistence for notes and their comments.
type Store interface {
	InsertNote(ctx context.Context, n *Note) error
	FindNote(ctx context.Context, id string) (Note, error)
	UpdateNote(ctx context.Context, n Note) error
	NotesByChild(ctx context.Context, childID string) ([]Note, error)

	InsertComment(ctx context.Context, c *Comment) error
	FindComment(ctx context.Context, id string) (Comment, error)
	UpdateComment(ctx context.Context, c Comment) error
	CommentsByNote(ctx context.Context, noteID string) ([]Comment, error)

	InsertAsset(ctx context.Context, a *Asset) error
	FindAsset(ctx context.Context, id string) (Asset, error)
	DeleteAsset(ctx context.Context, id string) error
	AssetsByNote(ctx context.Context, noteID string) ([]Asset, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	notes    map[string]*Note
	comments map[string]*Comment
	assets   map[string]*Asset
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		notes:    make(map[string]*Note),
		comments: make(map[string]*Comment),
		assets:   make(map[string]*Asset),
	}
}

func (s *InMemory) InsertNote(ctx context.Context, n *Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notes[n.ID] = &cp
	return nil
}

func (s *InMemory) FindNote(ctx context.Context, id string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return Note{}, ErrNotFound
	}
	return *n, nil
}

func (s *InMemory) UpdateNote(ctx context.Context, n Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[n.ID]; !ok {
		return ErrNotFound
	}
	cp := n
	s.notes[n.ID] = &cp
	return nil
}

func (s *InMemory) NotesByChild(ctx context.Context, childID string) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Note
	for _, n := range s.notes {
		if n.ChildID == childID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) InsertComment(ctx context.Context, c *Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.comments[c.ID] = &cp
	return nil
}

func (s *InMemory) FindComment(ctx context.Context, id string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemory) UpdateComment(ctx context.Context, c Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[c.ID]; !ok {
		return ErrNotFound
	}
	cp := c
	s.comments[c.ID] = &cp
	return nil
}

func (s *InMemory) CommentsByNote(ctx context.Context, noteID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Comment
	for _, c := range s.comments {
		if c.NoteID == noteID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) InsertAsset(ctx context.Context, a *Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.assets[a.ID] = &cp
	return nil
}

func (s *InMemory) FindAsset(ctx context.Context, id string) (Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return Asset{}, ErrNotFound
	}
	return *a, nil
}

func (s *InMemory) DeleteAsset(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[id]; !ok {
		return ErrNotFound
	}
	delete(s.assets, id)
	return nil
}

func (s *InMemory) AssetsByNote(ctx context.Context, noteID string) ([]Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Asset
	for _, a := range s.assets {
		if a.NoteID == noteID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
