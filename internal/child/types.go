package child

import (
	"errors"
	"time"
)

// Child is the care recipient and the root of its authorization ledger,
// notes and missions. Records are soft-deleted, never physically removed.
type Child struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BirthDate time.Time `json:"birth_date"`
	PINHash   string    `json:"-"`
	Deleted   bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrNotFound        = errors.New("child: not found")
	ErrInvalidArgument = errors.New("child: invalid argument")
	ErrInvalidRole     = errors.New("child: invalid role")
)

const maxNameLen = 200
