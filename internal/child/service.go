package child

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"careloop.org/internal/access"
	"careloop.org/internal/ids"
)

// Cascade is implemented by subsystems owning child-scoped records (notes,
// missions). The soft-delete visitor calls each one inside the same request;
// implementations must be idempotent.
type Cascade interface {
	DeleteForChild(ctx context.Context, childID string) error
}

// Service manages child records. Every read and mutation is gated through the
// authorization ledger; an unauthorized read is indistinguishable from a
// missing record.
type Service struct {
	store    Store
	ledger   *access.Ledger
	cascades []Cascade
	now      func() time.Time
}

// NewService constructs the child service. Cascades are optional and invoked
// in order on soft delete.
func NewService(store Store, ledger *access.Ledger, cascades ...Cascade) (*Service, error) {
	if store == nil || ledger == nil {
		return nil, errors.New("child: store and ledger are required")
	}
	return &Service{store: store, ledger: ledger, cascades: cascades, now: time.Now}, nil
}

// Create registers a child and grants the creating parent active primary
// guardianship in the same request.
func (s *Service) Create(ctx context.Context, owner access.Actor, name string, birthDate time.Time) (Child, access.Grant, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return Child{}, access.Grant{}, fmt.Errorf("%w: name is required and must be at most %d characters", ErrInvalidArgument, maxNameLen)
	}
	if birthDate.IsZero() || birthDate.After(s.now()) {
		return Child{}, access.Grant{}, fmt.Errorf("%w: birth date must be in the past", ErrInvalidArgument)
	}
	if owner.Role != access.RoleParent {
		return Child{}, access.Grant{}, fmt.Errorf("%w: only a parent can register a child", ErrInvalidRole)
	}

	now := s.now().UTC()
	c := Child{
		ID:        ids.New(),
		Name:      name,
		BirthDate: birthDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, &c); err != nil {
		return Child{}, access.Grant{}, err
	}
	grant, err := s.ledger.GrantPrimary(ctx, c.ID, owner)
	if err != nil {
		// A child without a primary guardian must not surface.
		c.Deleted = true
		_ = s.store.Update(ctx, c)
		return Child{}, access.Grant{}, err
	}
	return c, grant, nil
}

// Get returns the child when the caller holds VIEW_REPORT. Missing records,
// soft-deleted records and unauthorized callers all surface as ErrNotFound.
func (s *Service) Get(ctx context.Context, childID, callerID string) (Child, error) {
	c, err := s.store.Find(ctx, childID)
	if err != nil {
		return Child{}, ErrNotFound
	}
	if c.Deleted {
		return Child{}, ErrNotFound
	}
	ok, err := s.ledger.Evaluate(ctx, childID, callerID, access.CapViewReport)
	if err != nil {
		return Child{}, err
	}
	if !ok {
		return Child{}, ErrNotFound
	}
	return c, nil
}

// Update edits child info. Requires MANAGE; MANAGE implies nothing else.
func (s *Service) Update(ctx context.Context, childID, callerID, name string, birthDate time.Time) (Child, error) {
	c, err := s.requireManage(ctx, childID, callerID)
	if err != nil {
		return Child{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return Child{}, fmt.Errorf("%w: name is required and must be at most %d characters", ErrInvalidArgument, maxNameLen)
	}
	if birthDate.IsZero() || birthDate.After(s.now()) {
		return Child{}, fmt.Errorf("%w: birth date must be in the past", ErrInvalidArgument)
	}
	c.Name = name
	c.BirthDate = birthDate
	c.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, c); err != nil {
		return Child{}, err
	}
	return c, nil
}

// SetPIN stores a new PIN hash for the child. Requires MANAGE.
func (s *Service) SetPIN(ctx context.Context, childID, callerID, pin string) error {
	c, err := s.requireManage(ctx, childID, callerID)
	if err != nil {
		return err
	}
	hash, err := HashPIN(pin)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	c.PINHash = hash
	c.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, c)
}

// CheckPIN verifies the child's PIN for a caller holding PLAY_GAME.
func (s *Service) CheckPIN(ctx context.Context, childID, callerID, pin string) error {
	c, err := s.store.Find(ctx, childID)
	if err != nil || c.Deleted {
		return ErrNotFound
	}
	ok, err := s.ledger.Evaluate(ctx, childID, callerID, access.CapPlayGame)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := VerifyPIN(c.PINHash, pin); err != nil {
		return fmt.Errorf("%w: pin mismatch", ErrInvalidArgument)
	}
	return nil
}

// Delete soft-deletes the child and cascades through grants, notes and
// missions. Only the active primary may delete. Repeat calls are no-ops.
func (s *Service) Delete(ctx context.Context, childID, callerID string) error {
	c, err := s.store.Find(ctx, childID)
	if err != nil {
		return ErrNotFound
	}
	primary, err := s.ledger.IsPrimary(ctx, childID, callerID)
	if err != nil {
		return err
	}
	if !primary {
		return ErrNotFound
	}
	if c.Deleted {
		return nil
	}
	c.Deleted = true
	c.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, c); err != nil {
		return err
	}
	for _, cascade := range s.cascades {
		if err := cascade.DeleteForChild(ctx, childID); err != nil {
			return err
		}
	}
	return s.ledger.DeactivateAll(ctx, childID)
}

func (s *Service) requireManage(ctx context.Context, childID, callerID string) (Child, error) {
	c, err := s.store.Find(ctx, childID)
	if err != nil || c.Deleted {
		return Child{}, ErrNotFound
	}
	ok, err := s.ledger.Evaluate(ctx, childID, callerID, access.CapManage)
	if err != nil {
		return Child{}, err
	}
	if !ok {
		return Child{}, ErrNotFound
	}
	return c, nil
}
