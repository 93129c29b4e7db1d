package note

import (
	"errors"
	"time"
)

// Kind distinguishes who authored a note. SYSTEM notes are lifecycle receipts
// produced by the mission engine and are immutable.
type Kind string

const (
	KindTherapist Kind = "THERAPIST_NOTE"
	KindParent    Kind = "PARENT_NOTE"
	KindSystem    Kind = "SYSTEM"
)

// Note is a free-form therapy record scoped to one child.
type Note struct {
	ID        string    `json:"id"`
	ChildID   string    `json:"child_id"`
	AuthorID  string    `json:"author_id,omitempty"`
	MissionID string    `json:"mission_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Deleted   bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comment is a reply on a note. One nesting level only: a reply's parent is
// always a top-level comment.
type Comment struct {
	ID        string    `json:"id"`
	NoteID    string    `json:"note_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	Deleted   bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Asset is a file attached to a note. The note core only tracks the storage
// key; bytes live with the storage collaborator.
type Asset struct {
	ID           string    `json:"id"`
	NoteID       string    `json:"note_id"`
	Key          string    `json:"key"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	ErrNotFound         = errors.New("note: not found")
	ErrPermissionDenied = errors.New("note: permission denied")
	ErrInvalidArgument  = errors.New("note: invalid argument")
)

const (
	maxTitleLen   = 200
	maxContentLen = 50_000
	maxCommentLen = 5_000
	maxAssetSize  = 10 << 20
)
