package mission

import (
	"errors"
	"time"
)

// Category classifies what a mission trains.
type Category string

const (
	CategoryExpression         Category = "EXPRESSION"
	CategoryEmotionRecognition Category = "EMOTION_RECOGNITION"
	CategoryCommunication      Category = "COMMUNICATION"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryExpression, CategoryEmotionRecognition, CategoryCommunication:
		return true
	}
	return false
}

// Difficulty grades a mission template.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "BEGINNER"
	DifficultyIntermediate Difficulty = "INTERMEDIATE"
	DifficultyAdvanced     Difficulty = "ADVANCED"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// Template is a reusable mission definition from the catalog.
type Template struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Category     Category      `json:"category"`
	Difficulty   Difficulty    `json:"difficulty"`
	Instructions string        `json:"instructions"`
	Duration     time.Duration `json:"expected_duration"`
	LLMGenerated bool          `json:"llm_generated"`
	Active       bool          `json:"active"`
	Deleted      bool          `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Status is a mission lifecycle state.
type Status string

const (
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusVerified   Status = "VERIFIED"
	StatusCancelled  Status = "CANCELLED"
)

// transitions is the full state machine. VERIFIED and CANCELLED are terminal.
var transitions = map[Status][]Status{
	StatusAssigned:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusVerified, StatusCancelled},
	StatusVerified:   {},
	StatusCancelled:  {},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Photo is owned exclusively by one mission.
type Photo struct {
	ID           string    `json:"id"`
	MissionID    string    `json:"mission_id"`
	Key          string    `json:"key"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	ThumbnailKey string    `json:"thumbnail_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Mission is an instance of a template assigned to one child by one
// therapist, tracked through the five-state lifecycle.
type Mission struct {
	ID                string     `json:"id"`
	ChildID           string     `json:"child_id"`
	TherapistID       string     `json:"therapist_id"`
	TemplateID        string     `json:"template_id"`
	Status            Status     `json:"status"`
	AssignedAt        time.Time  `json:"assigned_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	ParentNote        string     `json:"parent_note,omitempty"`
	TherapistFeedback string     `json:"therapist_feedback,omitempty"`
	Photos            []Photo    `json:"photos,omitempty"`
	SystemNoteID      string     `json:"system_note_id,omitempty"`
	Deleted           bool       `json:"-"`
}

// Overdue is recomputed on every read, never persisted: due date set, in the
// past, and the mission neither completed nor verified.
func (m Mission) Overdue(now time.Time) bool {
	if m.DueDate == nil || !m.DueDate.Before(now) {
		return false
	}
	return m.Status != StatusCompleted && m.Status != StatusVerified
}

var (
	ErrNotFound          = errors.New("mission: not found")
	ErrPermissionDenied  = errors.New("mission: permission denied")
	ErrConflict          = errors.New("mission: conflict")
	ErrInvalidArgument   = errors.New("mission: invalid argument")
	ErrInvalidTransition = errors.New("mission: invalid transition")
	ErrLimitExceeded     = errors.New("mission: limit exceeded")
)

const (
	maxTitleLen    = 200
	maxLongTextLen = 50_000
	maxNoteLen     = 5_000
	maxPhotos      = 10
	maxPhotoSize   = 10 << 20
)
