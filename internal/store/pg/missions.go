package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"careloop.org/internal/mission"
)

// MissionStore implements mission.Store. Photos live in their own table and
// are replaced wholesale inside the mission update transaction; the engine's
// ten-photo cap keeps that cheap.
type MissionStore struct {
	db *sql.DB
}

const templateColumns = `id, title, description, category, difficulty, instructions, duration_seconds, llm_generated, active, deleted, created_at, updated_at`

const missionColumns = `id, child_id, therapist_id, template_id, status, assigned_at, started_at, completed_at, verified_at, due_date, parent_note, therapist_feedback, system_note_id, deleted`

func (s *MissionStore) InsertTemplate(ctx context.Context, t *mission.Template) error {
	_, err := s.db.ExecContext(ctx, `
		insert into mission_templates (`+templateColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, t.ID, t.Title, t.Description, string(t.Category), string(t.Difficulty), t.Instructions,
		int64(t.Duration/time.Second), t.LLMGenerated, t.Active, t.Deleted, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *MissionStore) FindTemplate(ctx context.Context, id string) (mission.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+templateColumns+` from mission_templates where id=$1
	`, id)
	return scanTemplate(row)
}

func (s *MissionStore) UpdateTemplate(ctx context.Context, t mission.Template) error {
	res, err := s.db.ExecContext(ctx, `
		update mission_templates
		set title=$2, description=$3, category=$4, difficulty=$5, instructions=$6,
		    duration_seconds=$7, llm_generated=$8, active=$9, deleted=$10, updated_at=$11
		where id=$1
	`, t.ID, t.Title, t.Description, string(t.Category), string(t.Difficulty), t.Instructions,
		int64(t.Duration/time.Second), t.LLMGenerated, t.Active, t.Deleted, t.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, mission.ErrNotFound)
}

func (s *MissionStore) ListTemplates(ctx context.Context) ([]mission.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+templateColumns+` from mission_templates
		order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mission.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *MissionStore) InsertMission(ctx context.Context, m *mission.Mission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into missions (`+missionColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, m.ID, m.ChildID, m.TherapistID, m.TemplateID, string(m.Status), m.AssignedAt,
		nullTime(m.StartedAt), nullTime(m.CompletedAt), nullTime(m.VerifiedAt), nullTime(m.DueDate),
		nullIfEmpty(m.ParentNote), nullIfEmpty(m.TherapistFeedback), nullIfEmpty(m.SystemNoteID), m.Deleted)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return mission.ErrNotFound
	}
	return err
}

func (s *MissionStore) FindMission(ctx context.Context, id string) (mission.Mission, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+missionColumns+` from missions where id=$1
	`, id)
	m, err := scanMission(row)
	if err != nil {
		return mission.Mission{}, err
	}
	photos, err := s.photosByMission(ctx, id)
	if err != nil {
		return mission.Mission{}, err
	}
	m.Photos = photos
	return m, nil
}

// UpdateMission rewrites the mission row and replaces its photo set in one
// transaction.
func (s *MissionStore) UpdateMission(ctx context.Context, m mission.Mission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update missions
		set status=$2, started_at=$3, completed_at=$4, verified_at=$5, due_date=$6,
		    parent_note=$7, therapist_feedback=$8, system_note_id=$9, deleted=$10
		where id=$1
	`, m.ID, string(m.Status), nullTime(m.StartedAt), nullTime(m.CompletedAt), nullTime(m.VerifiedAt),
		nullTime(m.DueDate), nullIfEmpty(m.ParentNote), nullIfEmpty(m.TherapistFeedback),
		nullIfEmpty(m.SystemNoteID), m.Deleted)
	if err != nil {
		return err
	}
	if err := requireRow(res, mission.ErrNotFound); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from mission_photos where mission_id=$1`, m.ID); err != nil {
		return err
	}
	for _, p := range m.Photos {
		if _, err := tx.ExecContext(ctx, `
			insert into mission_photos (id, mission_id, storage_key, original_name, content_type, size_bytes, thumbnail_key, created_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8)
		`, p.ID, p.MissionID, p.Key, p.OriginalName, p.ContentType, p.Size, nullIfEmpty(p.ThumbnailKey), p.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *MissionStore) MissionsByChild(ctx context.Context, childID string) ([]mission.Mission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+missionColumns+` from missions
		where child_id=$1
		order by assigned_at, id
	`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		photos, err := s.photosByMission(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Photos = photos
	}
	return out, nil
}

func (s *MissionStore) photosByMission(ctx context.Context, missionID string) ([]mission.Photo, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, mission_id, storage_key, original_name, content_type, size_bytes, thumbnail_key, created_at
		from mission_photos
		where mission_id=$1
		order by created_at, id
	`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mission.Photo
	for rows.Next() {
		var (
			p     mission.Photo
			thumb sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.MissionID, &p.Key, &p.OriginalName, &p.ContentType, &p.Size, &thumb, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.ThumbnailKey = thumb.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanTemplate(row rowScanner) (mission.Template, error) {
	var (
		t                    mission.Template
		category, difficulty string
		durationSeconds      int64
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &category, &difficulty, &t.Instructions,
		&durationSeconds, &t.LLMGenerated, &t.Active, &t.Deleted, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mission.Template{}, mission.ErrNotFound
	}
	if err != nil {
		return mission.Template{}, err
	}
	t.Category = mission.Category(category)
	t.Difficulty = mission.Difficulty(difficulty)
	t.Duration = time.Duration(durationSeconds) * time.Second
	return t, nil
}

func scanMission(row rowScanner) (mission.Mission, error) {
	var (
		m                                 mission.Mission
		status                            string
		started, completed, verified, due sql.NullTime
		parentNote, feedback, systemNote  sql.NullString
	)
	err := row.Scan(&m.ID, &m.ChildID, &m.TherapistID, &m.TemplateID, &status, &m.AssignedAt,
		&started, &completed, &verified, &due, &parentNote, &feedback, &systemNote, &m.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return mission.Mission{}, mission.ErrNotFound
	}
	if err != nil {
		return mission.Mission{}, err
	}
	m.Status = mission.Status(status)
	m.StartedAt = timePtr(started)
	m.CompletedAt = timePtr(completed)
	m.VerifiedAt = timePtr(verified)
	m.DueDate = timePtr(due)
	m.ParentNote = parentNote.String
	m.TherapistFeedback = feedback.String
	m.SystemNoteID = systemNote.String
	return m, nil
}
