package mission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"careloop.org/internal/access"
	"careloop.org/internal/events"
	"careloop.org/internal/ids"
	"careloop.org/internal/storage"
)

// SystemRecorder persists lifecycle receipts as system notes. The note
// service implements it. The receipt is written before the state change is
// saved: a failed receipt aborts the transition, so a mission never advances
// without its audit trail.
type SystemRecorder interface {
	RecordSystem(ctx context.Context, childID, missionID, title, content string) (noteID string, err error)
}

// Engine drives the mission lifecycle. Every operation is validated against
// the transition table and against the authorization ledger before any
// mutation.
type Engine struct {
	store   Store
	catalog *Catalog
	ledger  *access.Ledger
	notes   SystemRecorder
	blobs   storage.Store
	stream  *events.Stream
	now     func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithEngineClock overrides the time source (useful for tests).
func WithEngineClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs the lifecycle engine. The stream may be nil; events
// are then dropped.
func NewEngine(store Store, catalog *Catalog, ledger *access.Ledger, notes SystemRecorder, blobs storage.Store, stream *events.Stream, opts ...EngineOption) (*Engine, error) {
	if store == nil || catalog == nil || ledger == nil || notes == nil {
		return nil, fmt.Errorf("%w: store, catalog, ledger and recorder are required", ErrInvalidArgument)
	}
	e := &Engine{
		store:   store,
		catalog: catalog,
		ledger:  ledger,
		notes:   notes,
		blobs:   blobs,
		stream:  stream,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Assign creates a mission from an active template. The therapist needs any
// active grant on the child, not a specific capability.
func (e *Engine) Assign(ctx context.Context, childID string, therapist access.Actor, templateID string, dueDate *time.Time) (Mission, error) {
	if therapist.Role != access.RoleTherapist {
		return Mission{}, fmt.Errorf("%w: only a therapist can assign missions", ErrPermissionDenied)
	}
	tpl, err := e.catalog.Get(ctx, templateID)
	if err != nil {
		return Mission{}, err
	}
	if !tpl.Active {
		return Mission{}, fmt.Errorf("%w: template is inactive", ErrInvalidArgument)
	}
	authorized, err := e.ledger.HasActiveGrant(ctx, childID, therapist.UserID)
	if err != nil {
		return Mission{}, err
	}
	if !authorized {
		return Mission{}, ErrNotFound
	}
	now := e.now().UTC()
	if dueDate != nil && !dueDate.After(now) {
		return Mission{}, fmt.Errorf("%w: due date must be in the future", ErrInvalidArgument)
	}

	m := Mission{
		ID:          ids.New(),
		ChildID:     childID,
		TherapistID: therapist.UserID,
		TemplateID:  tpl.ID,
		Status:      StatusAssigned,
		AssignedAt:  now,
		DueDate:     dueDate,
	}
	noteID, err := e.notes.RecordSystem(ctx, childID, m.ID, "Mission assigned",
		fmt.Sprintf("Mission %q (%s, %s) was assigned by therapist %s.", tpl.Title, tpl.Category, tpl.Difficulty, therapist.UserID))
	if err != nil {
		return Mission{}, fmt.Errorf("record assignment note: %w", err)
	}
	m.SystemNoteID = noteID
	if err := e.store.InsertMission(ctx, &m); err != nil {
		return Mission{}, err
	}
	return m, nil
}

// Start moves an ASSIGNED mission to IN_PROGRESS.
func (e *Engine) Start(ctx context.Context, missionID string, actor access.Actor) (Mission, error) {
	m, err := e.writableMission(ctx, missionID, actor.UserID)
	if err != nil {
		return Mission{}, err
	}
	if err := checkTransition(m.Status, StatusInProgress); err != nil {
		return Mission{}, err
	}
	now := e.now().UTC()
	m.Status = StatusInProgress
	m.StartedAt = &now
	return e.applyTransition(ctx, m, "Mission started",
		fmt.Sprintf("Mission was started by %s.", actor.UserID))
}

// Complete moves an IN_PROGRESS mission to COMPLETED, storing the parent's
// note and emitting a MissionCompleted event after the mutation commits.
func (e *Engine) Complete(ctx context.Context, missionID string, actor access.Actor, parentNote string) (Mission, error) {
	if len(parentNote) > maxNoteLen {
		return Mission{}, fmt.Errorf("%w: parent note must be at most %d characters", ErrInvalidArgument, maxNoteLen)
	}
	m, err := e.writableMission(ctx, missionID, actor.UserID)
	if err != nil {
		return Mission{}, err
	}
	if err := checkTransition(m.Status, StatusCompleted); err != nil {
		return Mission{}, err
	}
	now := e.now().UTC()
	m.Status = StatusCompleted
	m.CompletedAt = &now
	m.ParentNote = strings.TrimSpace(parentNote)
	m, err = e.applyTransition(ctx, m, "Mission completed",
		fmt.Sprintf("Mission was completed by %s.", actor.UserID))
	if err != nil {
		return Mission{}, err
	}
	e.publish(events.Event{
		Type:        events.TypeMissionCompleted,
		MissionID:   m.ID,
		ChildID:     m.ChildID,
		TherapistID: m.TherapistID,
		ActorID:     actor.UserID,
		OccurredAt:  now,
	})
	return m, nil
}

// Verify moves a COMPLETED mission to VERIFIED. Only the assigning therapist
// may verify.
func (e *Engine) Verify(ctx context.Context, missionID string, actor access.Actor, feedback string) (Mission, error) {
	if len(feedback) > maxNoteLen {
		return Mission{}, fmt.Errorf("%w: feedback must be at most %d characters", ErrInvalidArgument, maxNoteLen)
	}
	m, err := e.visibleMission(ctx, missionID, actor.UserID)
	if err != nil {
		return Mission{}, err
	}
	if m.TherapistID != actor.UserID {
		return Mission{}, fmt.Errorf("%w: only the assigning therapist may verify", ErrPermissionDenied)
	}
	if err := checkTransition(m.Status, StatusVerified); err != nil {
		return Mission{}, err
	}
	now := e.now().UTC()
	m.Status = StatusVerified
	m.VerifiedAt = &now
	m.TherapistFeedback = strings.TrimSpace(feedback)
	return e.applyTransition(ctx, m, "Mission verified",
		fmt.Sprintf("Mission was verified by therapist %s.", actor.UserID))
}

// Cancel moves a non-terminal mission to CANCELLED. Only the assigning
// therapist may cancel.
func (e *Engine) Cancel(ctx context.Context, missionID string, actor access.Actor) (Mission, error) {
	m, err := e.visibleMission(ctx, missionID, actor.UserID)
	if err != nil {
		return Mission{}, err
	}
	if m.TherapistID != actor.UserID {
		return Mission{}, fmt.Errorf("%w: only the assigning therapist may cancel", ErrPermissionDenied)
	}
	if err := checkTransition(m.Status, StatusCancelled); err != nil {
		return Mission{}, err
	}
	m.Status = StatusCancelled
	return e.applyTransition(ctx, m, "Mission cancelled",
		fmt.Sprintf("Mission was cancelled by therapist %s.", actor.UserID))
}

// AddPhoto attaches a photo while the mission is IN_PROGRESS or COMPLETED.
func (e *Engine) AddPhoto(ctx context.Context, missionID string, actor access.Actor, filename, contentType string, size int64, r io.Reader) (Photo, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return Photo{}, fmt.Errorf("%w: content type must be image/*", ErrInvalidArgument)
	}
	if size <= 0 || size > maxPhotoSize {
		return Photo{}, fmt.Errorf("%w: photo size must be positive and at most %d bytes", ErrInvalidArgument, int64(maxPhotoSize))
	}
	m, err := e.writableMission(ctx, missionID, actor.UserID)
	if err != nil {
		return Photo{}, err
	}
	if m.Status != StatusInProgress && m.Status != StatusCompleted {
		return Photo{}, fmt.Errorf("%w: photos allowed only while in progress or completed", ErrInvalidTransition)
	}
	if len(m.Photos) >= maxPhotos {
		return Photo{}, fmt.Errorf("%w: a mission holds at most %d photos", ErrLimitExceeded, maxPhotos)
	}

	key := storage.PhotoKey(m.ChildID, m.ID, filename)
	if e.blobs != nil {
		if err := e.blobs.Store(ctx, key, io.LimitReader(r, maxPhotoSize)); err != nil {
			return Photo{}, err
		}
	}
	p := Photo{
		ID:           ids.New(),
		MissionID:    m.ID,
		Key:          key,
		OriginalName: filename,
		ContentType:  contentType,
		Size:         size,
		CreatedAt:    e.now().UTC(),
	}
	m.Photos = append(m.Photos, p)
	if err := e.store.UpdateMission(ctx, m); err != nil {
		if e.blobs != nil {
			_ = e.blobs.Delete(ctx, key)
		}
		return Photo{}, err
	}
	e.publish(events.Event{
		Type:       events.TypeMissionPhotoUploaded,
		MissionID:  m.ID,
		ChildID:    m.ChildID,
		ActorID:    actor.UserID,
		PhotoID:    p.ID,
		OccurredAt: p.CreatedAt,
	})
	return p, nil
}

// RemovePhoto detaches and deletes a photo under the same state and
// capability rules as AddPhoto.
func (e *Engine) RemovePhoto(ctx context.Context, missionID, photoID string, actor access.Actor) error {
	m, err := e.writableMission(ctx, missionID, actor.UserID)
	if err != nil {
		return err
	}
	if m.Status != StatusInProgress && m.Status != StatusCompleted {
		return fmt.Errorf("%w: photos allowed only while in progress or completed", ErrInvalidTransition)
	}
	idx := -1
	for i, p := range m.Photos {
		if p.ID == photoID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	removed := m.Photos[idx]
	m.Photos = append(m.Photos[:idx], m.Photos[idx+1:]...)
	if err := e.store.UpdateMission(ctx, m); err != nil {
		return err
	}
	if e.blobs != nil {
		if err := e.blobs.Delete(ctx, removed.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Get returns a mission for a caller holding VIEW_REPORT on its child.
func (e *Engine) Get(ctx context.Context, missionID, callerID string) (Mission, error) {
	return e.visibleMission(ctx, missionID, callerID)
}

// ListForChild returns the child's live missions for an authorized caller.
func (e *Engine) ListForChild(ctx context.Context, childID, callerID string) ([]Mission, error) {
	ok, err := e.ledger.Evaluate(ctx, childID, callerID, access.CapViewReport)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	all, err := e.store.MissionsByChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if !m.Deleted {
			out = append(out, m)
		}
	}
	return out, nil
}

// DeleteForChild soft-deletes the child's missions and their photos. Part of
// the child soft-delete cascade; idempotent.
func (e *Engine) DeleteForChild(ctx context.Context, childID string) error {
	all, err := e.store.MissionsByChild(ctx, childID)
	if err != nil {
		return err
	}
	for _, m := range all {
		if m.Deleted {
			continue
		}
		if e.blobs != nil {
			for _, p := range m.Photos {
				if err := e.blobs.Delete(ctx, p.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
					return err
				}
			}
		}
		m.Deleted = true
		if err := e.store.UpdateMission(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// applyTransition writes the receipt first, then the state change. A failed
// receipt leaves the mission untouched.
func (e *Engine) applyTransition(ctx context.Context, m Mission, title, body string) (Mission, error) {
	if _, err := e.notes.RecordSystem(ctx, m.ChildID, m.ID, title, body); err != nil {
		return Mission{}, fmt.Errorf("record transition note: %w", err)
	}
	if err := e.store.UpdateMission(ctx, m); err != nil {
		return Mission{}, err
	}
	return m, nil
}

func (e *Engine) publish(evt events.Event) {
	if e.stream == nil {
		return
	}
	e.stream.Publish(evt)
}

// visibleMission loads a mission visible to the caller; anything else is
// the not-found shape.
func (e *Engine) visibleMission(ctx context.Context, missionID, callerID string) (Mission, error) {
	m, err := e.store.FindMission(ctx, missionID)
	if err != nil || m.Deleted {
		return Mission{}, ErrNotFound
	}
	ok, err := e.ledger.Evaluate(ctx, m.ChildID, callerID, access.CapViewReport)
	if err != nil {
		return Mission{}, err
	}
	if !ok {
		return Mission{}, ErrNotFound
	}
	return m, nil
}

// writableMission additionally requires WRITE_NOTE. A caller who can see the
// mission but cannot write gets a permission error; an invisible mission
// stays indistinguishable from a missing one.
func (e *Engine) writableMission(ctx context.Context, missionID, callerID string) (Mission, error) {
	m, err := e.store.FindMission(ctx, missionID)
	if err != nil || m.Deleted {
		return Mission{}, ErrNotFound
	}
	view, err := e.ledger.Evaluate(ctx, m.ChildID, callerID, access.CapViewReport)
	if err != nil {
		return Mission{}, err
	}
	write, err := e.ledger.Evaluate(ctx, m.ChildID, callerID, access.CapWriteNote)
	if err != nil {
		return Mission{}, err
	}
	if !view && !write {
		return Mission{}, ErrNotFound
	}
	if !write {
		return Mission{}, fmt.Errorf("%w: WRITE_NOTE is required", ErrPermissionDenied)
	}
	return m, nil
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
