package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"careloop.org/internal/ids"
)

// Ledger provides every authorization decision and mutation in the system.
// Evaluate is the single authorization primitive: notes, comments, missions
// and photos all route through it rather than re-deriving access rules.
type Ledger struct {
	store Store
	now   func() time.Time
}

// LedgerOption configures Ledger behavior.
type LedgerOption func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs a Ledger over the given store.
func NewLedger(store Store, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: grant store is required", ErrInvalidArgument)
	}
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// GrantPrimary creates the founding primary grant for a freshly created child.
// It is the bootstrap path only: the child service calls it exactly once per
// child, before any other grant exists.
func (l *Ledger) GrantPrimary(ctx context.Context, childID string, owner Actor) (Grant, error) {
	if childID == "" || owner.UserID == "" {
		return Grant{}, fmt.Errorf("%w: child and owner are required", ErrInvalidArgument)
	}
	if owner.Role != RoleParent {
		return Grant{}, fmt.Errorf("%w: primary guardian must be a parent", ErrInvalidRole)
	}
	g := Grant{
		ID:        ids.New(),
		ChildID:   childID,
		UserID:    owner.UserID,
		UserRole:  owner.Role,
		IsPrimary: true,
		IsActive:  true,
		GrantedBy: owner.UserID,
		GrantedAt: l.now().UTC(),
	}
	if err := l.store.Insert(ctx, &g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Grant creates a new grant for target, authorized by the child's active
// primary. A primary grant additionally requires the target to be a parent
// and no other active primary to exist.
func (l *Ledger) Grant(ctx context.Context, childID, grantorID string, target Actor, caps []Capability, isPrimary bool) (Grant, error) {
	if childID == "" || grantorID == "" || target.UserID == "" {
		return Grant{}, fmt.Errorf("%w: child, grantor and target are required", ErrInvalidArgument)
	}
	if err := l.requirePrimary(ctx, childID, grantorID); err != nil {
		return Grant{}, err
	}
	if isPrimary && target.Role != RoleParent {
		return Grant{}, fmt.Errorf("%w: primary guardian must be a parent", ErrInvalidRole)
	}
	normalized, err := normalizeCapabilities(caps)
	if err != nil {
		return Grant{}, err
	}
	g := Grant{
		ID:           ids.New(),
		ChildID:      childID,
		UserID:       target.UserID,
		UserRole:     target.Role,
		Capabilities: normalized,
		IsPrimary:    isPrimary,
		IsActive:     true,
		GrantedBy:    grantorID,
		GrantedAt:    l.now().UTC(),
	}
	// The store re-checks duplicate and second-primary under its own lock.
	if err := l.store.Insert(ctx, &g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Revise replaces the capability set of a non-primary grant.
func (l *Ledger) Revise(ctx context.Context, childID, grantorID, targetUserID string, caps []Capability) (Grant, error) {
	if err := l.requirePrimary(ctx, childID, grantorID); err != nil {
		return Grant{}, err
	}
	g, err := l.store.FindActive(ctx, childID, targetUserID)
	if err != nil {
		return Grant{}, err
	}
	if g.IsPrimary {
		return Grant{}, fmt.Errorf("%w: primary grant capabilities are immutable", ErrPermissionDenied)
	}
	normalized, err := normalizeCapabilities(caps)
	if err != nil {
		return Grant{}, err
	}
	g.Capabilities = normalized
	if err := l.store.Update(ctx, g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Revoke soft-deactivates a non-primary grant. A fresh grant is required to
// restore access afterwards; the record itself never reactivates.
func (l *Ledger) Revoke(ctx context.Context, childID, grantorID, targetUserID string) error {
	if err := l.requirePrimary(ctx, childID, grantorID); err != nil {
		return err
	}
	g, err := l.store.FindActive(ctx, childID, targetUserID)
	if err != nil {
		return err
	}
	if g.IsPrimary {
		return fmt.Errorf("%w: primary grant cannot be revoked, transfer it instead", ErrPermissionDenied)
	}
	g.IsActive = false
	return l.store.Update(ctx, g)
}

// Evaluate reports whether user holds cap on the child: true iff an active
// grant exists that is primary or stores cap.
func (l *Ledger) Evaluate(ctx context.Context, childID, userID string, cap Capability) (bool, error) {
	g, err := l.store.FindActive(ctx, childID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if g.IsPrimary {
		return true, nil
	}
	return g.Has(cap), nil
}

// HasActiveGrant reports whether user holds any active grant on the child,
// regardless of capabilities. Mission assignment uses this: a therapist needs
// to be authorized on the child, not to hold a specific capability.
func (l *Ledger) HasActiveGrant(ctx context.Context, childID, userID string) (bool, error) {
	_, err := l.store.FindActive(ctx, childID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsPrimary reports whether user is the child's active primary guardian.
func (l *Ledger) IsPrimary(ctx context.Context, childID, userID string) (bool, error) {
	g, err := l.store.ActivePrimary(ctx, childID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return g.UserID == userID, nil
}

// TransferPrimary demotes the current primary and promotes newPrimaryUserID.
// The new primary must already hold an active grant that includes VIEW_REPORT;
// the system never auto-grants during a transfer.
func (l *Ledger) TransferPrimary(ctx context.Context, childID, currentPrimaryID, newPrimaryUserID string) error {
	current, err := l.store.ActivePrimary(ctx, childID)
	if err != nil {
		return err
	}
	if current.UserID != currentPrimaryID {
		return fmt.Errorf("%w: only the active primary may transfer primary status", ErrPermissionDenied)
	}
	next, err := l.store.FindActive(ctx, childID, newPrimaryUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: new primary has no active grant on this child", ErrInvalidArgument)
		}
		return err
	}
	if next.UserRole != RoleParent {
		return fmt.Errorf("%w: primary guardian must be a parent", ErrInvalidRole)
	}
	if !next.Has(CapViewReport) {
		return fmt.Errorf("%w: new primary must hold VIEW_REPORT before transfer", ErrInvalidArgument)
	}
	return l.store.TransferPrimary(ctx, childID, current.ID, next.ID)
}

// GrantsForChild lists the child's grant ledger. Only the active primary may
// read it; everyone else gets the not-found shape.
func (l *Ledger) GrantsForChild(ctx context.Context, childID, callerID string) ([]Grant, error) {
	primary, err := l.IsPrimary(ctx, childID, callerID)
	if err != nil {
		return nil, err
	}
	if !primary {
		return nil, ErrNotFound
	}
	return l.store.ListByChild(ctx, childID)
}

// DeactivateAll soft-revokes every active grant of the child. Invoked by the
// child soft-delete cascade; idempotent.
func (l *Ledger) DeactivateAll(ctx context.Context, childID string) error {
	return l.store.DeactivateByChild(ctx, childID)
}

func (l *Ledger) requirePrimary(ctx context.Context, childID, userID string) error {
	primary, err := l.IsPrimary(ctx, childID, userID)
	if err != nil {
		return err
	}
	if !primary {
		return fmt.Errorf("%w: grantor is not the active primary guardian", ErrPermissionDenied)
	}
	return nil
}
