package note

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"careloop.org/internal/access"
	"careloop.org/internal/ids"
	"careloop.org/internal/storage"
)

// Service gates every note and comment operation through the authorization
// ledger. Reads an actor is not entitled to look exactly like missing records.
type Service struct {
	store  Store
	ledger *access.Ledger
	blobs  storage.Store
	now    func() time.Time
}

// Option configures the note service.
type Option func(*Service)

// WithAssetStorage enables file attachments on notes.
func WithAssetStorage(blobs storage.Store) Option {
	return func(s *Service) { s.blobs = blobs }
}

// NewService constructs the note service.
func NewService(store Store, ledger *access.Ledger, opts ...Option) (*Service, error) {
	if store == nil || ledger == nil {
		return nil, fmt.Errorf("%w: store and ledger are required", ErrInvalidArgument)
	}
	s := &Service{store: store, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create adds a therapist or parent note. SYSTEM is not a user-creatable kind.
func (s *Service) Create(ctx context.Context, childID string, author access.Actor, kind Kind, title, content string) (Note, error) {
	if kind != KindTherapist && kind != KindParent {
		return Note{}, fmt.Errorf("%w: kind must be THERAPIST_NOTE or PARENT_NOTE", ErrInvalidArgument)
	}
	if err := validateNoteText(title, content); err != nil {
		return Note{}, err
	}
	ok, err := s.ledger.Evaluate(ctx, childID, author.UserID, access.CapWriteNote)
	if err != nil {
		return Note{}, err
	}
	if !ok {
		return Note{}, ErrNotFound
	}
	now := s.now().UTC()
	n := Note{
		ID:        ids.New(),
		ChildID:   childID,
		AuthorID:  author.UserID,
		Kind:      kind,
		Title:     strings.TrimSpace(title),
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertNote(ctx, &n); err != nil {
		return Note{}, err
	}
	return n, nil
}

// RecordSystem writes a lifecycle receipt. Only the mission engine calls this;
// it bypasses capability gating because the triggering operation was already
// authorized.
func (s *Service) RecordSystem(ctx context.Context, childID, missionID, title, content string) (Note, error) {
	if err := validateNoteText(title, content); err != nil {
		return Note{}, err
	}
	now := s.now().UTC()
	n := Note{
		ID:        ids.New(),
		ChildID:   childID,
		MissionID: missionID,
		Kind:      KindSystem,
		Title:     strings.TrimSpace(title),
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertNote(ctx, &n); err != nil {
		return Note{}, err
	}
	return n, nil
}

// SystemLog adapts Service for collaborators that only need the receipt id.
type SystemLog struct {
	*Service
}

func (l SystemLog) RecordSystem(ctx context.Context, childID, missionID, title, content string) (string, error) {
	n, err := l.Service.RecordSystem(ctx, childID, missionID, title, content)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

// Get returns one note for a caller holding VIEW_REPORT.
func (s *Service) Get(ctx context.Context, noteID, callerID string) (Note, error) {
	n, err := s.visibleNote(ctx, noteID, callerID)
	if err != nil {
		return Note{}, err
	}
	return n, nil
}

// ListForChild returns the child's notes, newest last, soft-deleted excluded.
func (s *Service) ListForChild(ctx context.Context, childID, callerID string) ([]Note, error) {
	ok, err := s.ledger.Evaluate(ctx, childID, callerID, access.CapViewReport)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	all, err := s.store.NotesByChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, n := range all {
		if !n.Deleted {
			out = append(out, n)
		}
	}
	return out, nil
}

// Update edits a note's title and content. Allowed for the author or the
// child's primary; SYSTEM notes are immutable.
func (s *Service) Update(ctx context.Context, noteID, callerID, title, content string) (Note, error) {
	n, err := s.visibleNote(ctx, noteID, callerID)
	if err != nil {
		return Note{}, err
	}
	if n.Kind == KindSystem {
		return Note{}, fmt.Errorf("%w: system notes are immutable", ErrPermissionDenied)
	}
	if err := s.requireOwnership(ctx, n.ChildID, n.AuthorID, callerID); err != nil {
		return Note{}, err
	}
	if err := validateNoteText(title, content); err != nil {
		return Note{}, err
	}
	n.Title = strings.TrimSpace(title)
	n.Content = content
	n.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateNote(ctx, n); err != nil {
		return Note{}, err
	}
	return n, nil
}

// Delete soft-deletes a note and all of its comments. Allowed for the author
// or the primary; SYSTEM notes only disappear with the child itself.
func (s *Service) Delete(ctx context.Context, noteID, callerID string) error {
	n, err := s.visibleNote(ctx, noteID, callerID)
	if err != nil {
		return err
	}
	if n.Kind == KindSystem {
		return fmt.Errorf("%w: system notes are immutable", ErrPermissionDenied)
	}
	if err := s.requireOwnership(ctx, n.ChildID, n.AuthorID, callerID); err != nil {
		return err
	}
	return s.deleteNoteTree(ctx, n)
}

// Comment adds a comment. parentID empty means top-level; a reply's parent
// must itself be top-level.
func (s *Service) Comment(ctx context.Context, noteID, parentID string, author access.Actor, content string) (Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxCommentLen {
		return Comment{}, fmt.Errorf("%w: comment content is required and must be at most %d characters", ErrInvalidArgument, maxCommentLen)
	}
	n, err := s.store.FindNote(ctx, noteID)
	if err != nil || n.Deleted {
		return Comment{}, ErrNotFound
	}
	ok, err := s.ledger.Evaluate(ctx, n.ChildID, author.UserID, access.CapWriteNote)
	if err != nil {
		return Comment{}, err
	}
	if !ok {
		return Comment{}, ErrNotFound
	}
	if parentID != "" {
		parent, err := s.store.FindComment(ctx, parentID)
		if err != nil || parent.Deleted || parent.NoteID != noteID {
			return Comment{}, ErrNotFound
		}
		if parent.ParentID != "" {
			return Comment{}, fmt.Errorf("%w: cannot reply to a reply", ErrInvalidArgument)
		}
	}
	c := Comment{
		ID:        ids.New(),
		NoteID:    noteID,
		ParentID:  parentID,
		AuthorID:  author.UserID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertComment(ctx, &c); err != nil {
		return Comment{}, err
	}
	return c, nil
}

// Comments lists a note's live comments for a caller holding VIEW_REPORT.
func (s *Service) Comments(ctx context.Context, noteID, callerID string) ([]Comment, error) {
	if _, err := s.visibleNote(ctx, noteID, callerID); err != nil {
		return nil, err
	}
	all, err := s.store.CommentsByNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if !c.Deleted {
			out = append(out, c)
		}
	}
	return out, nil
}

// DeleteComment soft-deletes a comment; deleting a top-level comment cascades
// to its replies. Allowed for the comment author or the child's primary.
func (s *Service) DeleteComment(ctx context.Context, commentID, callerID string) error {
	c, err := s.store.FindComment(ctx, commentID)
	if err != nil || c.Deleted {
		return ErrNotFound
	}
	n, err := s.store.FindNote(ctx, c.NoteID)
	if err != nil || n.Deleted {
		return ErrNotFound
	}
	if err := s.requireOwnership(ctx, n.ChildID, c.AuthorID, callerID); err != nil {
		return err
	}
	if err := s.softDeleteComment(ctx, c); err != nil {
		return err
	}
	if c.ParentID != "" {
		return nil
	}
	replies, err := s.store.CommentsByNote(ctx, c.NoteID)
	if err != nil {
		return err
	}
	for _, r := range replies {
		if r.ParentID == c.ID && !r.Deleted {
			if err := s.softDeleteComment(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddAsset attaches a file to a note. Allowed for the note author or the
// child's primary; SYSTEM notes take no attachments.
func (s *Service) AddAsset(ctx context.Context, noteID string, actor access.Actor, filename, contentType string, size int64, r io.Reader) (Asset, error) {
	if s.blobs == nil {
		return Asset{}, errors.New("note: asset storage not configured")
	}
	if size <= 0 || size > maxAssetSize {
		return Asset{}, fmt.Errorf("%w: asset size must be positive and at most %d bytes", ErrInvalidArgument, int64(maxAssetSize))
	}
	if strings.TrimSpace(contentType) == "" {
		return Asset{}, fmt.Errorf("%w: content type is required", ErrInvalidArgument)
	}
	n, err := s.visibleNote(ctx, noteID, actor.UserID)
	if err != nil {
		return Asset{}, err
	}
	if n.Kind == KindSystem {
		return Asset{}, fmt.Errorf("%w: system notes are immutable", ErrPermissionDenied)
	}
	if err := s.requireOwnership(ctx, n.ChildID, n.AuthorID, actor.UserID); err != nil {
		return Asset{}, err
	}

	key := storage.AssetKey(n.ChildID, n.ID, filename)
	if err := s.blobs.Store(ctx, key, io.LimitReader(r, maxAssetSize)); err != nil {
		return Asset{}, err
	}
	a := Asset{
		ID:           ids.New(),
		NoteID:       n.ID,
		Key:          key,
		OriginalName: filename,
		ContentType:  contentType,
		Size:         size,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.InsertAsset(ctx, &a); err != nil {
		_ = s.blobs.Delete(ctx, key)
		return Asset{}, err
	}
	return a, nil
}

// Assets lists a note's attachments for a caller holding VIEW_REPORT.
func (s *Service) Assets(ctx context.Context, noteID, callerID string) ([]Asset, error) {
	if _, err := s.visibleNote(ctx, noteID, callerID); err != nil {
		return nil, err
	}
	return s.store.AssetsByNote(ctx, noteID)
}

// RemoveAsset detaches and deletes an attachment under the same ownership
// rules as AddAsset.
func (s *Service) RemoveAsset(ctx context.Context, noteID, assetID, callerID string) error {
	n, err := s.visibleNote(ctx, noteID, callerID)
	if err != nil {
		return err
	}
	if err := s.requireOwnership(ctx, n.ChildID, n.AuthorID, callerID); err != nil {
		return err
	}
	a, err := s.store.FindAsset(ctx, assetID)
	if err != nil || a.NoteID != n.ID {
		return ErrNotFound
	}
	if err := s.store.DeleteAsset(ctx, a.ID); err != nil {
		return err
	}
	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, a.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// DeleteForChild soft-deletes every note and comment of the child. Part of
// the child soft-delete cascade; idempotent.
func (s *Service) DeleteForChild(ctx context.Context, childID string) error {
	notes, err := s.store.NotesByChild(ctx, childID)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if n.Deleted {
			continue
		}
		if err := s.deleteNoteTree(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deleteNoteTree(ctx context.Context, n Note) error {
	n.Deleted = true
	n.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateNote(ctx, n); err != nil {
		return err
	}
	assets, err := s.store.AssetsByNote(ctx, n.ID)
	if err != nil {
		return err
	}
	for _, a := range assets {
		if err := s.store.DeleteAsset(ctx, a.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if s.blobs != nil {
			if err := s.blobs.Delete(ctx, a.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
	}
	comments, err := s.store.CommentsByNote(ctx, n.ID)
	if err != nil {
		return err
	}
	for _, c := range comments {
		if c.Deleted {
			continue
		}
		if err := s.softDeleteComment(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) softDeleteComment(ctx context.Context, c Comment) error {
	c.Deleted = true
	return s.store.UpdateComment(ctx, c)
}

// visibleNote loads a note a caller may see; everything else is ErrNotFound.
func (s *Service) visibleNote(ctx context.Context, noteID, callerID string) (Note, error) {
	n, err := s.store.FindNote(ctx, noteID)
	if err != nil || n.Deleted {
		return Note{}, ErrNotFound
	}
	ok, err := s.ledger.Evaluate(ctx, n.ChildID, callerID, access.CapViewReport)
	if err != nil {
		return Note{}, err
	}
	if !ok {
		return Note{}, ErrNotFound
	}
	return n, nil
}

// requireOwnership allows the record author or the child's active primary.
// This is an identity check, not a capability check.
func (s *Service) requireOwnership(ctx context.Context, childID, authorID, callerID string) error {
	if callerID == authorID && authorID != "" {
		return nil
	}
	primary, err := s.ledger.IsPrimary(ctx, childID, callerID)
	if err != nil {
		return err
	}
	if !primary {
		return fmt.Errorf("%w: only the author or the primary guardian may modify this record", ErrPermissionDenied)
	}
	return nil
}

func validateNoteText(title, content string) error {
	if len(strings.TrimSpace(content)) == 0 {
		return fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	if len(content) > maxContentLen {
		return fmt.Errorf("%w: content must be at most %d characters", ErrInvalidArgument, maxContentLen)
	}
	if len(strings.TrimSpace(title)) > maxTitleLen {
		return fmt.Errorf("%w: title must be at most %d characters", ErrInvalidArgument, maxTitleLen)
	}
	return nil
}
