package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"careloop.org/internal/access"
	"careloop.org/internal/child"
	"careloop.org/internal/mission"
	"careloop.org/internal/note"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store owns the connection pool and hands out per-aggregate stores.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Grants() *GrantStore     { return &GrantStore{db: s.db} }
func (s *Store) Children() *ChildStore   { return &ChildStore{db: s.db} }
func (s *Store) Notes() *NoteStore       { return &NoteStore{db: s.db} }
func (s *Store) Missions() *MissionStore { return &MissionStore{db: s.db} }

// ChildStore implements child.Store.
type ChildStore struct {
	db *sql.DB
}

var _ child.Store = (*ChildStore)(nil)

func (s *ChildStore) Insert(ctx context.Context, c *child.Child) error {
	_, err := s.db.ExecContext(ctx, `
		insert into children (id, name, birth_date, pin_hash, deleted, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.Name, c.BirthDate, nullIfEmpty(c.PINHash), c.Deleted, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *ChildStore) Find(ctx context.Context, id string) (child.Child, error) {
	var (
		c   child.Child
		pin sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, birth_date, pin_hash, deleted, created_at, updated_at
		from children where id=$1
	`, id).Scan(&c.ID, &c.Name, &c.BirthDate, &pin, &c.Deleted, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return child.Child{}, child.ErrNotFound
	}
	if err != nil {
		return child.Child{}, err
	}
	if pin.Valid {
		c.PINHash = pin.String
	}
	return c, nil
}

func (s *ChildStore) Update(ctx context.Context, c child.Child) error {
	res, err := s.db.ExecContext(ctx, `
		update children
		set name=$2, birth_date=$3, pin_hash=$4, deleted=$5, updated_at=$6
		where id=$1
	`, c.ID, c.Name, c.BirthDate, nullIfEmpty(c.PINHash), c.Deleted, c.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, child.ErrNotFound)
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

// Interface checks for the sibling files.
var (
	_ access.Store  = (*GrantStore)(nil)
	_ note.Store    = (*NoteStore)(nil)
	_ mission.Store = (*MissionStore)(nil)
)
