package models

import "time"

type EngagementKind string

const (
	EngagementClick    EngagementKind = "click"
	EngagementBookmark EngagementKind = "bookmark"
	EngagementListen   EngagementKind = "listen"
)

// Known reports whether the kind is part of the recognized set. Unknown kinds
// are dropped during normalization and surfaced via telemetry.
func (k EngagementKind) Known() bool {
	switch k {
	case EngagementClick, EngagementBookmark, EngagementListen:
		return true
	default:
		return false
	}
}

type Engagement struct {
	EpisodeID string         `json:"episode_id" db:"episode_id" validate:"required"`
	Kind      EngagementKind `json:"kind" db:"kind" validate:"required,oneof=click bookmark listen"`
	Timestamp time.Time      `json:"timestamp" db:"occurred_at"`
}
