package models

import "time"

// UserProfile carries the user's stated category interests and the anchor
// vector derived from them. Read-only to the ranking core.
type UserProfile struct {
	UserID            string     `json:"user_id" db:"user_id"`
	CategoryAnchor    []float32  `json:"-" db:"category_anchor"`
	CategoryInterests []string   `json:"category_interests,omitempty" db:"category_interests"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}
