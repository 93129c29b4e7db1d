package events

import "time"

// Type names a domain event.
type Type string

const (
	TypeMissionCompleted     Type = "mission.completed"
	TypeMissionPhotoUploaded Type = "mission.photo_uploaded"
)

// Event is a typed domain notification. Events are published only after the
// originating mutation has committed; delivery is best effort.
type Event struct {
	Type        Type      `json:"type"`
	MissionID   string    `json:"mission_id"`
	ChildID     string    `json:"child_id"`
	TherapistID string    `json:"therapist_id,omitempty"`
	ActorID     string    `json:"actor_id"`
	PhotoID     string    `json:"photo_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
