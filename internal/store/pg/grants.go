package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"careloop.org/internal/access"
)

// GrantStore implements access.Store. The single-active-primary and
// single-active-grant-per-user invariants are enforced by partial unique
// indexes, so concurrent writers cannot race past the service-level checks.
type GrantStore struct {
	db *sql.DB
}

const grantColumns = `id, child_id, user_id, user_role, capabilities, is_primary, is_active, granted_by, granted_at`

func (s *GrantStore) Insert(ctx context.Context, g *access.Grant) error {
	caps, err := json.Marshal(g.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into grants (`+grantColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, g.ID, g.ChildID, g.UserID, string(g.UserRole), caps, g.IsPrimary, g.IsActive, g.GrantedBy, g.GrantedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return access.ErrConflict
	}
	return err
}

func (s *GrantStore) Update(ctx context.Context, g access.Grant) error {
	caps, err := json.Marshal(g.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update grants
		set capabilities=$2, is_primary=$3, is_active=$4
		where id=$1
	`, g.ID, caps, g.IsPrimary, g.IsActive)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return access.ErrConflict
	}
	if err != nil {
		return err
	}
	return requireRow(res, access.ErrNotFound)
}

func (s *GrantStore) FindActive(ctx context.Context, childID, userID string) (access.Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+grantColumns+` from grants
		where child_id=$1 and user_id=$2 and is_active
	`, childID, userID)
	return scanGrant(row)
}

func (s *GrantStore) ActivePrimary(ctx context.Context, childID string) (access.Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+grantColumns+` from grants
		where child_id=$1 and is_primary and is_active
	`, childID)
	return scanGrant(row)
}

func (s *GrantStore) ListByChild(ctx context.Context, childID string) ([]access.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+grantColumns+` from grants
		where child_id=$1
		order by granted_at, id
	`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *GrantStore) DeactivateByChild(ctx context.Context, childID string) error {
	_, err := s.db.ExecContext(ctx, `
		update grants set is_active=false, is_primary=false
		where child_id=$1 and is_active
	`, childID)
	return err
}

func (s *GrantStore) TransferPrimary(ctx context.Context, childID, currentGrantID, newGrantID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Demote first so the partial unique index admits the promotion.
	res, err := tx.ExecContext(ctx, `
		update grants set is_primary=false
		where id=$1 and child_id=$2 and is_primary and is_active
	`, currentGrantID, childID)
	if err != nil {
		return err
	}
	if err := requireRow(res, access.ErrNotFound); err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx, `
		update grants set is_primary=true
		where id=$1 and child_id=$2 and is_active
	`, newGrantID, childID)
	if err != nil {
		return err
	}
	if err := requireRow(res, access.ErrNotFound); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (access.Grant, error) {
	var (
		g       access.Grant
		role    string
		rawCaps []byte
	)
	err := row.Scan(&g.ID, &g.ChildID, &g.UserID, &role, &rawCaps, &g.IsPrimary, &g.IsActive, &g.GrantedBy, &g.GrantedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Grant{}, access.ErrNotFound
	}
	if err != nil {
		return access.Grant{}, err
	}
	g.UserRole = access.Role(role)
	if len(rawCaps) > 0 {
		if err := json.Unmarshal(rawCaps, &g.Capabilities); err != nil {
			return access.Grant{}, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	return g, nil
}
