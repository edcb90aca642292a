package store

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// ChecklistSummary is the id/name projection returned by listings.
type ChecklistSummary struct {
	ID   int64
	Name string
}

type Checklist struct {
	ID        int64
	Name      string
	CreatedBy uuid.NullUUID
	CreatedAt time.Time
}

type ChecklistItem struct {
	ID           int64
	ChecklistID  int64
	Content      string
	DisplayOrder int
}

// Progress is one user's checked state for one item. The (UserID, ItemID)
// pair is the row identity; there is never more than one row per pair.
type Progress struct {
	UserID  uuid.UUID
	ItemID  int64
	Checked bool
}
