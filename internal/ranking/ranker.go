package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/internal/telemetry"
	"github.com/temcen/podrex/pkg/models"
)

// RankInput bundles everything Stage B needs to score and select a queue.
// Similarities is non-nil only when a vector-store query already ran; its
// entries take precedence over locally computed cosines.
type RankInput struct {
	Candidates   []models.Episode
	Embeddings   map[string][]float32
	UserVector   []float32
	Similarities map[string]float64
	Limit        int
	Now          time.Time
}

// Rank scores every candidate and greedily fills the queue under the series
// diversity constraints: at most MaxPerSeries episodes per series, and no two
// adjacent episodes from the same series unless the cap leaves no other
// choice, in which case the adjacency rule is relaxed for that slot and an
// event is recorded. Returns the queue and the weights actually applied.
func Rank(in RankInput, cfg *config.RankingConfig, sink telemetry.EventSink) ([]models.ScoredEpisode, models.ScoringWeights) {
	coldStart := in.UserVector == nil && in.Similarities == nil
	weights := models.ScoringWeights{
		Similarity: cfg.WeightSimilarity,
		Quality:    cfg.WeightQuality,
		Recency:    cfg.WeightRecency,
	}
	if coldStart {
		weights = models.ScoringWeights{
			Similarity: 0,
			Quality:    cfg.ColdStart.WeightQuality,
			Recency:    cfg.ColdStart.WeightRecency,
		}
	}

	scored := make([]models.ScoredEpisode, 0, len(in.Candidates))
	for i := range in.Candidates {
		ep := in.Candidates[i]
		// Cold start has no similarity signal at all: the default stands in
		// for every candidate and no fallback events fire.
		sim := cfg.DefaultSimilarityOnMissing
		if !coldStart {
			sim = resolveSimilarity(&ep, in, cfg, sink)
		}
		quality := QualityScore(ep.Credibility, ep.Insight, cfg.CredibilityMultiplier, cfg.MaxQualityScore)
		recency := RecencyScore(DaysSince(ep.PublishedAt, in.Now), cfg.RecencyLambda)

		scored = append(scored, models.ScoredEpisode{
			Episode:    ep,
			Similarity: sim,
			Quality:    quality,
			Recency:    recency,
			FinalScore: weights.Similarity*sim + weights.Quality*quality + weights.Recency*recency,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		if !scored[i].PublishedAt.Equal(scored[j].PublishedAt) {
			return scored[i].PublishedAt.After(scored[j].PublishedAt)
		}
		return scored[i].ID < scored[j].ID
	})

	queue := selectWithDiversity(scored, in.Limit, cfg, sink)
	for i := range queue {
		queue[i].Badges = BadgesFor(&queue[i].Episode)
	}
	return queue, weights
}

// resolveSimilarity applies the precedence order: query result, then local
// cosine, then the configured default with an optional fallback event.
func resolveSimilarity(ep *models.Episode, in RankInput, cfg *config.RankingConfig, sink telemetry.EventSink) float64 {
	if in.Similarities != nil {
		if sim, ok := in.Similarities[ep.ID]; ok {
			return sim
		}
		if ep.ContentID != "" {
			if sim, ok := in.Similarities[ep.ContentID]; ok {
				return sim
			}
		}
	}

	if in.UserVector != nil {
		if emb, ok := in.Embeddings[ep.ID]; ok {
			if sim, err := CosineSimilarity(in.UserVector, emb); err == nil {
				return sim
			}
		}
	}

	if cfg.SimFallbackLoggingEnabled {
		event := telemetry.EventSimilarityFetchPathNoPinecone
		if in.Similarities != nil {
			event = telemetry.EventSimilarityMissingInQueryResult
		}
		sink.Event(event, logrus.Fields{"episode_id": ep.ID})
	}
	return cfg.DefaultSimilarityOnMissing
}

func selectWithDiversity(scored []models.ScoredEpisode, limit int, cfg *config.RankingConfig, sink telemetry.EventSink) []models.ScoredEpisode {
	if limit < 0 {
		limit = 0
	}
	queue := make([]models.ScoredEpisode, 0, limit)
	remaining := make([]models.ScoredEpisode, len(scored))
	copy(remaining, scored)

	seriesCounts := make(map[string]int)
	lastSeries := ""

	for len(queue) < limit && len(remaining) > 0 {
		idx := pickBest(remaining, seriesCounts, lastSeries, cfg, false)
		if idx < 0 {
			idx = pickBest(remaining, seriesCounts, lastSeries, cfg, true)
			if idx < 0 {
				break
			}
			sink.Event(telemetry.EventSeriesAdjacencyForced, logrus.Fields{
				"position":  len(queue),
				"series_id": remaining[idx].SeriesID,
			})
		}

		chosen := remaining[idx]
		chosen.EffectiveScore = effectiveScore(&chosen, seriesCounts, cfg)
		queue = append(queue, chosen)

		if chosen.SeriesID != "" {
			seriesCounts[chosen.SeriesID]++
		}
		lastSeries = chosen.SeriesID

		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return queue
}

// pickBest returns the index of the eligible candidate with the highest
// effective score, or -1 when none qualifies. With relaxAdjacency the
// previous-slot series check is skipped but the per-series cap still holds.
// Episodes without a series are exempt from both constraints.
func pickBest(remaining []models.ScoredEpisode, seriesCounts map[string]int, lastSeries string, cfg *config.RankingConfig, relaxAdjacency bool) int {
	best := -1
	var bestEff float64

	for i := range remaining {
		series := remaining[i].SeriesID
		if series != "" {
			if seriesCounts[series] >= cfg.MaxEpisodesPerSeries {
				continue
			}
			if !relaxAdjacency && series == lastSeries {
				continue
			}
		}

		eff := effectiveScore(&remaining[i], seriesCounts, cfg)
		if best < 0 || eff > bestEff || (eff == bestEff && rankedBefore(&remaining[i], &remaining[best])) {
			best = i
			bestEff = eff
		}
	}
	return best
}

func effectiveScore(ep *models.ScoredEpisode, seriesCounts map[string]int, cfg *config.RankingConfig) float64 {
	if ep.SeriesID == "" {
		return ep.FinalScore
	}
	return ep.FinalScore * math.Pow(cfg.SeriesPenaltyAlpha, float64(seriesCounts[ep.SeriesID]))
}

func rankedBefore(a, b *models.ScoredEpisode) bool {
	if a.FinalScore != b.FinalScore {
		return a.FinalScore > b.FinalScore
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.After(b.PublishedAt)
	}
	return a.ID < b.ID
}

// VerifyQueue re-checks the structural guarantees of a built queue: floors,
// exclusions, uniqueness, the per-series cap, and the length bound. A
// violation is a bug in the pipeline, surfaced as an invariant error so the
// request fails instead of serving a corrupt queue.
func VerifyQueue(queue []models.ScoredEpisode, excluded map[string]struct{}, limit int, cfg *config.RankingConfig) error {
	if len(queue) > limit {
		return models.NewError(models.ErrInternalInvariant,
			"queue length %d exceeds limit %d", len(queue), limit)
	}

	seen := make(map[string]struct{}, len(queue))
	seriesCounts := make(map[string]int)
	for i := range queue {
		ep := &queue[i]
		if _, dup := seen[ep.ID]; dup {
			return models.NewError(models.ErrInternalInvariant,
				"episode %s appears twice in queue", ep.ID)
		}
		seen[ep.ID] = struct{}{}

		if _, skip := excluded[ep.ID]; skip {
			return models.NewError(models.ErrInternalInvariant,
				"excluded episode %s present in queue", ep.ID)
		}
		if ep.Credibility < cfg.CredibilityFloor || ep.Combined() < cfg.CombinedFloor {
			return models.NewError(models.ErrInternalInvariant,
				"episode %s below score floors (credibility %d, combined %d)", ep.ID, ep.Credibility, ep.Combined())
		}
		if ep.SeriesID != "" {
			seriesCounts[ep.SeriesID]++
			if seriesCounts[ep.SeriesID] > cfg.MaxEpisodesPerSeries {
				return models.NewError(models.ErrInternalInvariant,
					"series %s exceeds cap of %d in queue", ep.SeriesID, cfg.MaxEpisodesPerSeries)
			}
		}
	}
	return nil
}
