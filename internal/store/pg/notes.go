package pg

import (
	"context"
	"database/sql"
	"errors"

	"careloop.org/internal/note"
)

// NoteStore implements note.Store.
type NoteStore struct {
	db *sql.DB
}

const noteColumns = `id, child_id, author_id, mission_id, kind, title, content, deleted, created_at, updated_at`

func (s *NoteStore) InsertNote(ctx context.Context, n *note.Note) error {
	_, err := s.db.ExecContext(ctx, `
		insert into notes (`+noteColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, n.ID, n.ChildID, nullIfEmpty(n.AuthorID), nullIfEmpty(n.MissionID), string(n.Kind),
		nullIfEmpty(n.Title), n.Content, n.Deleted, n.CreatedAt, n.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return note.ErrNotFound
	}
	return err
}

func (s *NoteStore) FindNote(ctx context.Context, id string) (note.Note, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+noteColumns+` from notes where id=$1
	`, id)
	return scanNote(row)
}

func (s *NoteStore) UpdateNote(ctx context.Context, n note.Note) error {
	res, err := s.db.ExecContext(ctx, `
		update notes set title=$2, content=$3, deleted=$4, updated_at=$5
		where id=$1
	`, n.ID, nullIfEmpty(n.Title), n.Content, n.Deleted, n.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, note.ErrNotFound)
}

func (s *NoteStore) NotesByChild(ctx context.Context, childID string) ([]note.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+noteColumns+` from notes
		where child_id=$1
		order by created_at, id
	`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []note.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *NoteStore) InsertComment(ctx context.Context, c *note.Comment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into note_comments (id, note_id, parent_id, author_id, content, deleted, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.NoteID, nullIfEmpty(c.ParentID), c.AuthorID, c.Content, c.Deleted, c.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return note.ErrNotFound
	}
	return err
}

func (s *NoteStore) FindComment(ctx context.Context, id string) (note.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, note_id, parent_id, author_id, content, deleted, created_at
		from note_comments where id=$1
	`, id)
	return scanComment(row)
}

func (s *NoteStore) UpdateComment(ctx context.Context, c note.Comment) error {
	res, err := s.db.ExecContext(ctx, `
		update note_comments set content=$2, deleted=$3
		where id=$1
	`, c.ID, c.Content, c.Deleted)
	if err != nil {
		return err
	}
	return requireRow(res, note.ErrNotFound)
}

func (s *NoteStore) CommentsByNote(ctx context.Context, noteID string) ([]note.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, note_id, parent_id, author_id, content, deleted, created_at
		from note_comments
		where note_id=$1
		order by created_at, id
	`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []note.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *NoteStore) InsertAsset(ctx context.Context, a *note.Asset) error {
	_, err := s.db.ExecContext(ctx, `
		insert into note_assets (id, note_id, storage_key, original_name, content_type, size_bytes, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, a.ID, a.NoteID, a.Key, a.OriginalName, a.ContentType, a.Size, a.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return note.ErrNotFound
	}
	return err
}

func (s *NoteStore) FindAsset(ctx context.Context, id string) (note.Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, note_id, storage_key, original_name, content_type, size_bytes, created_at
		from note_assets where id=$1
	`, id)
	return scanAsset(row)
}

func (s *NoteStore) DeleteAsset(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from note_assets where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, note.ErrNotFound)
}

func (s *NoteStore) AssetsByNote(ctx context.Context, noteID string) ([]note.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, note_id, storage_key, original_name, content_type, size_bytes, created_at
		from note_assets
		where note_id=$1
		order by created_at, id
	`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []note.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanNote(row rowScanner) (note.Note, error) {
	var (
		n                       note.Note
		author, missionID, kind sql.NullString
		title                   sql.NullString
	)
	err := row.Scan(&n.ID, &n.ChildID, &author, &missionID, &kind, &title, &n.Content, &n.Deleted, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return note.Note{}, note.ErrNotFound
	}
	if err != nil {
		return note.Note{}, err
	}
	n.AuthorID = author.String
	n.MissionID = missionID.String
	n.Kind = note.Kind(kind.String)
	n.Title = title.String
	return n, nil
}

func scanAsset(row rowScanner) (note.Asset, error) {
	var a note.Asset
	err := row.Scan(&a.ID, &a.NoteID, &a.Key, &a.OriginalName, &a.ContentType, &a.Size, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return note.Asset{}, note.ErrNotFound
	}
	if err != nil {
		return note.Asset{}, err
	}
	return a, nil
}

func scanComment(row rowScanner) (note.Comment, error) {
	var (
		c      note.Comment
		parent sql.NullString
	)
	err := row.Scan(&c.ID, &c.NoteID, &parent, &c.AuthorID, &c.Content, &c.Deleted, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return note.Comment{}, note.ErrNotFound
	}
	if err != nil {
		return note.Comment{}, err
	}
	c.ParentID = parent.String
	return c, nil
}
