package ranking

import (
	"sort"
	"time"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/pkg/models"
)

// CandidatePool filters the catalog down to episodes worth scoring and caps
// the result. An episode survives when it is not excluded, meets the
// credibility and combined floors, and falls inside the freshness window.
// Survivors are ordered by quality descending, then newer published_at, then
// id ascending, so the cap always keeps the same episodes for the same input.
func CandidatePool(episodes []models.Episode, excluded map[string]struct{}, cfg *config.RankingConfig, now time.Time) []models.Episode {
	type qualified struct {
		episode models.Episode
		quality float64
	}

	pool := make([]qualified, 0, len(episodes))
	for _, ep := range episodes {
		if _, skip := excluded[ep.ID]; skip {
			continue
		}
		if ep.ContentID != "" {
			if _, skip := excluded[ep.ContentID]; skip {
				continue
			}
		}
		if ep.Credibility < cfg.CredibilityFloor {
			continue
		}
		if ep.Combined() < cfg.CombinedFloor {
			continue
		}
		if DaysSince(ep.PublishedAt, now) > cfg.FreshnessWindowDays {
			continue
		}
		pool = append(pool, qualified{
			episode: ep,
			quality: QualityScore(ep.Credibility, ep.Insight, cfg.CredibilityMultiplier, cfg.MaxQualityScore),
		})
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].quality != pool[j].quality {
			return pool[i].quality > pool[j].quality
		}
		if !pool[i].episode.PublishedAt.Equal(pool[j].episode.PublishedAt) {
			return pool[i].episode.PublishedAt.After(pool[j].episode.PublishedAt)
		}
		return pool[i].episode.ID < pool[j].episode.ID
	})

	if len(pool) > cfg.CandidatePoolSize {
		pool = pool[:cfg.CandidatePoolSize]
	}

	candidates := make([]models.Episode, len(pool))
	for i, q := range pool {
		candidates[i] = q.episode
	}
	return candidates
}
