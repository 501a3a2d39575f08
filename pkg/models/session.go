package models

import "time"

type ScoredEpisode struct {
	Episode        `json:"episode"`
	Similarity     float64  `json:"similarity"`
	Quality        float64  `json:"quality"`
	Recency        float64  `json:"recency"`
	FinalScore     float64  `json:"final_score"`
	EffectiveScore float64  `json:"effective_score"`
	Badges         []string `json:"badges,omitempty"`
}

// Session is the server-side state behind one "For You" stream. It lives in
// the session store only; it is never durable across restarts.
type Session struct {
	ID                     string              `json:"id"`
	Queue                  []ScoredEpisode     `json:"queue"`
	Cursor                 int                 `json:"cursor"`
	ColdStart              bool                `json:"cold_start"`
	CreatedAt              time.Time           `json:"created_at"`
	LastAccessed           time.Time           `json:"last_accessed"`
	AlgorithmVersion       string              `json:"algorithm_version"`
	DatasetVersion         string              `json:"dataset_version"`
	EngagedIDs             map[string]struct{} `json:"engaged_ids"`
	ExcludedIDs            map[string]struct{} `json:"excluded_ids"`
	UserVectorEpisodeCount int                 `json:"user_vector_episode_count"`
}

// InQueue reports whether the episode id is part of the session's queue.
func (s *Session) InQueue(episodeID string) bool {
	for i := range s.Queue {
		if s.Queue[i].Episode.ID == episodeID {
			return true
		}
	}
	return false
}

type SessionCreateRequest struct {
	UserID string `json:"user_id,omitempty" validate:"omitempty,max=128"`
	// Engagement entries are history, not commands: malformed or unknown
	// entries are dropped during normalization instead of failing the create.
	Engagements []Engagement `json:"engagements,omitempty"`
	ExcludedIDs []string     `json:"excluded_ids,omitempty" validate:"omitempty,dive,required"`
	UserVector  []float32    `json:"user_vector,omitempty"`
	Limit       int          `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

type ScoringWeights struct {
	Similarity float64 `json:"similarity"`
	Quality    float64 `json:"quality"`
	Recency    float64 `json:"recency"`
}

type SessionDebug struct {
	ScoringWeights         ScoringWeights `json:"scoring_weights"`
	UserVectorEpisodeCount int            `json:"user_vector_episode_count"`
}

type SessionCreateResponse struct {
	SessionID        string          `json:"session_id"`
	Episodes         []ScoredEpisode `json:"episodes"`
	TotalInQueue     int             `json:"total_in_queue"`
	ShownCount       int             `json:"shown_count"`
	RemainingCount   int             `json:"remaining_count"`
	ColdStart        bool            `json:"cold_start"`
	AlgorithmVersion string          `json:"algorithm_version"`
	DatasetVersion   string          `json:"dataset_version"`
	Debug            SessionDebug    `json:"debug"`
}

type SessionNextRequest struct {
	Count *int `json:"count,omitempty" validate:"omitempty,min=0,max=50"`
}

type SessionPageResponse struct {
	SessionID      string          `json:"session_id"`
	Episodes       []ScoredEpisode `json:"episodes"`
	TotalInQueue   int             `json:"total_in_queue"`
	ShownCount     int             `json:"shown_count"`
	RemainingCount int             `json:"remaining_count"`
}

type SessionEngageRequest struct {
	EpisodeID    string         `json:"episode_id" validate:"required"`
	Kind         EngagementKind `json:"kind" validate:"required,oneof=click bookmark listen"`
	EpisodeTitle string         `json:"episode_title,omitempty"`
	SeriesName   string         `json:"series_name,omitempty"`
	UserID       string         `json:"user_id,omitempty" validate:"omitempty,max=128"`
}

type SessionEngageResponse struct {
	OK bool `json:"ok"`
}
