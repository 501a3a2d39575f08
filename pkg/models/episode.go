package models

import "time"

type CategoryTag struct {
	Name   string  `json:"name" db:"name" validate:"required"`
	Weight float64 `json:"weight" db:"weight" validate:"gte=0"`
}

type Episode struct {
	ID          string        `json:"id" db:"id" validate:"required"`
	ContentID   string        `json:"content_id,omitempty" db:"content_id"`
	Title       string        `json:"title" db:"title"`
	KeyInsight  string        `json:"key_insight,omitempty" db:"key_insight"`
	SeriesID    string        `json:"series_id,omitempty" db:"series_id"`
	SeriesName  string        `json:"series_name,omitempty" db:"series_name"`
	Categories  []CategoryTag `json:"categories,omitempty" db:"categories"`
	Credibility int           `json:"credibility" db:"credibility" validate:"min=0,max=4"`
	Insight     int           `json:"insight" db:"insight" validate:"min=0,max=4"`
	PublishedAt time.Time     `json:"published_at" db:"published_at"`
}

// Combined returns the credibility + insight signal used by the combined floor.
func (e *Episode) Combined() int {
	return e.Credibility + e.Insight
}

// EpisodesByContentID derives the content-id lookup from a catalog that is
// already in memory, so callers never issue a second provider scan. Episodes
// without a content id are skipped; the first occurrence of a duplicate wins.
func EpisodesByContentID(episodes []Episode) map[string]*Episode {
	byContentID := make(map[string]*Episode, len(episodes))
	for i := range episodes {
		cid := episodes[i].ContentID
		if cid == "" {
			continue
		}
		if _, exists := byContentID[cid]; !exists {
			byContentID[cid] = &episodes[i]
		}
	}
	return byContentID
}

// EpisodesByID builds the primary-id lookup for a catalog slice.
func EpisodesByID(episodes []Episode) map[string]*Episode {
	byID := make(map[string]*Episode, len(episodes))
	for i := range episodes {
		byID[episodes[i].ID] = &episodes[i]
	}
	return byID
}
