package access

import "context"

// Store describes persistence for authorization grants. Implementations must
// re-check the single-active-primary invariant inside Insert and Update
// (compare-and-set), so that concurrent grant operations against the same
// child cannot race past the service-level check.
type Store interface {
	// Insert persists a new grant. Fails with ErrConflict when the target
	// already holds an active grant for the child, or when the grant is a
	// primary and another active primary exists.
	Insert(ctx context.Context, g *Grant) error

	// Update rewrites an existing grant in place, keyed by grant ID. The
	// primary invariant is re-validated when the update promotes a grant.
	Update(ctx context.Context, g Grant) error

	// FindActive returns the active grant for (child, user).
	FindActive(ctx context.Context, childID, userID string) (Grant, error)

	// ActivePrimary returns the single active primary grant for the child.
	ActivePrimary(ctx context.Context, childID string) (Grant, error)

	// ListByChild returns all grants for the child, active and revoked.
	ListByChild(ctx context.Context, childID string) ([]Grant, error)

	// DeactivateByChild soft-revokes every active grant of the child.
	// Repeat calls are no-ops.
	DeactivateByChild(ctx context.Context, childID string) error

	// TransferPrimary atomically demotes the current primary and promotes
	// the target grant. Both records keep their capability history.
	TransferPrimary(ctx context.Context, childID, currentGrantID, newGrantID string) error
}
