package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/internal/telemetry"
	"github.com/temcen/podrex/pkg/models"
)

func seriesEpisode(id, seriesID string, credibility, insight int, publishedDaysAgo int, now time.Time) models.Episode {
	return models.Episode{
		ID:          id,
		SeriesID:    seriesID,
		Credibility: credibility,
		Insight:     insight,
		PublishedAt: now.AddDate(0, 0, -publishedDaysAgo),
	}
}

func TestRank_SimilarityFromQueryResults(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultRanking()
	sink := &eventRecorder{}

	candidates := []models.Episode{
		seriesEpisode("A", "s-a", 3, 3, 5, now),
		seriesEpisode("B", "s-b", 3, 3, 5, now),
		seriesEpisode("C", "s-c", 3, 3, 5, now),
	}
	sims := map[string]float64{"A": 0.9, "B": 0.6, "C": 0.8}

	queue, weights := Rank(RankInput{
		Candidates:   candidates,
		Similarities: sims,
		Limit:        3,
		Now:          now,
	}, &cfg, sink)

	require.Len(t, queue, 3)
	assert.Equal(t, "A", queue[0].ID)
	assert.Equal(t, "C", queue[1].ID)
	assert.Equal(t, "B", queue[2].ID)
	assert.InDelta(t, 0.9, queue[0].Similarity, 0.001)
	assert.InDelta(t, 0.8, queue[1].Similarity, 0.001)
	assert.InDelta(t, 0.6, queue[2].Similarity, 0.001)
	assert.InDelta(t, 0.85, weights.Similarity, 0.001)
	assert.False(t, sink.has(telemetry.EventSimilarityFetchPathNoPinecone))
}

func TestRank_SimilarityByContentID(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultRanking()
	sink := &eventRecorder{}

	candidate := seriesEpisode("A", "s-a", 3, 3, 5, now)
	candidate.ContentID = "slug-a"

	queue, _ := Rank(RankInput{
		Candidates:   []models.Episode{candidate},
		Similarities: map[string]float64{"slug-a": 0.7},
		Limit:        1,
		Now:          now,
	}, &cfg, sink)

	require.Len(t, queue, 1)
	assert.InDelta(t, 0.7, queue[0].Similarity, 0.001)
}

func TestRank_CosineFallbackOnQueryMiss(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultRanking()
	sink := &eventRecorder{}

	candidates := []models.Episode{
		seriesEpisode("hit", "s-a", 3, 3, 5, now),
		seriesEpisode("miss", "s-b", 3, 3, 5, now),
	}

	queue, _ := Rank(RankInput{
		Candidates:   candidates,
		Embeddings:   map[string][]float32{"miss": {1.0, 0.0}},
		UserVector:   []float32{1.0, 0.0},
		Similarities: map[string]float64{"hit": 0.2},
		Limit:        2,
		Now:          now,
	}, &cfg, sink)

	require.Len(t, queue, 2)
	// The map miss computes a local cosine of 1.0 and outranks the map hit.
	assert.Equal(t, "miss", queue[0].ID)
	assert.InDelta(t, 1.0, queue[0].Similarity, 0.001)
	assert.InDelta(t, 0.2, queue[1].Similarity, 0.001)
}

func TestRank_DefaultSimilarityEvents(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("query path records missing-in-results", func(t *testing.T) {
		cfg := config.DefaultRanking()
		sink := &eventRecorder{}

		queue, _ := Rank(RankInput{
			Candidates:   []models.Episode{seriesEpisode("A", "s-a", 3, 3, 5, now)},
			Similarities: map[string]float64{},
			Limit:        1,
			Now:          now,
		}, &cfg, sink)

		require.Len(t, queue, 1)
		assert.InDelta(t, 0.5, queue[0].Similarity, 0.001)
		assert.True(t, sink.has(telemetry.EventSimilarityMissingInQueryResult))
	})

	t.Run("fetch path records no-vector-store", func(t *testing.T) {
		cfg := config.DefaultRanking()
		sink := &eventRecorder{}

		queue, _ := Rank(RankInput{
			Candidates: []models.Episode{seriesEpisode("A", "s-a", 3, 3, 5, now)},
			UserVector: []float32{1.0, 0.0},
			Limit:      1,
			Now:        now,
		}, &cfg, sink)

		require.Len(t, queue, 1)
		assert.InDelta(t, 0.5, queue[0].Similarity, 0.001)
		assert.True(t, sink.has(telemetry.EventSimilarityFetchPathNoPinecone))
	})

	t.Run("fallback logging can be disabled", func(t *testing.T) {
		cfg := config.DefaultRanking()
		cfg.SimFallbackLoggingEnabled = false
		sink := &eventRecorder{}

		Rank(RankInput{
			Candidates: []models.Episode{seriesEpisode("A", "s-a", 3, 3, 5, now)},
			UserVector: []float32{1.0, 0.0},
			Limit:      1,
			Now:        now,
		}, &cfg, sink)

		assert.Empty(t, sink.events)
	})
}

func TestRank_ColdStartWeights(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultRanking()
	sink := &eventRecorder{}

	candidates := []models.Episode{
		seriesEpisode("fresh-ok", "s-a", 2, 3, 0, now),
		seriesEpisode("old-great", "s-b", 4, 4, 60, now),
	}

	queue, weights := Rank(RankInput{
		Candidates: candidates,
		Limit:      2,
		Now:        now,
	}, &cfg, sink)

	require.Len(t, queue, 2)
	assert.InDelta(t, 0.0, weights.Similarity, 0.001)
	assert.InDelta(t, 0.60, weights.Quality, 0.001)
	assert.InDelta(t, 0.40, weights.Recency, 0.001)

	// fresh-ok: 0.6*0.6 + 0.4*1.0 = 0.76; old-great: 0.6*1.0 + 0.4*e^-1.8 = 0.666.
	assert.Equal(t, "fresh-ok", queue[0].ID)
	assert.InDelta(t, 0.76, queue[0].FinalScore, 0.001)
	assert.InDelta(t, 0.666, queue[1].FinalScore, 0.001)

	// Cold start never records similarity fallbacks; similarity carries no weight.
	assert.False(t, sink.has(telemetry.EventSimilarityFetchPathNoPinecone))
}

func TestRank_SeriesDiversity(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultRanking()
	cfg.WeightSimilarity = 1.0
	cfg.WeightQuality = 0.0
	cfg.WeightRecency = 0.0
	sink := &eventRecorder{}

	candidates := []models.Episode{
		seriesEpisode("s1-a", "S1", 3, 3, 5, now),
		seriesEpisode("s1-b", "S1", 3, 3, 5, now),
		seriesEpisode("s1-c", "S1", 3, 3, 5, now),
		seriesEpisode("s1-d", "S1", 3, 3, 5, now),
		seriesEpisode("s1-e", "S1", 3, 3, 5, now),
		seriesEpisode("s2-a", "S2", 3, 3, 5, now),
		seriesEpisode("s2-b", "S2", 3, 3, 5, now),
	}
	sims := map[string]float64{
		"s1-a": 1.0, "s1-b": 1.0, "s1-c": 1.0, "s1-d": 1.0, "s1-e": 1.0,
		"s2-a": 0.99, "s2-b": 0.99,
	}

	queue, _ := Rank(RankInput{
		Candidates:   candidates,
		Similarities: sims,
		Limit:        5,
		Now:          now,
	}, &cfg, sink)

	// The caps leave only four eligible picks even though the limit is five.
	require.Len(t, queue, 4)

	counts := map[string]int{}
	for i, item := range queue {
		counts[item.SeriesID]++
		if i > 0 {
			assert.NotEqual(t, queue[i-1].SeriesID, item.SeriesID, "adjacent items share a series")
		}
	}
	assert.Equal(t, 2, counts["S1"])
	assert.Equal(t, 2, counts["S2"])
	assert.False(t, sink.has(telemetry.EventSeriesAdjacencyForced))

	// Effective scores reflect the per-series penalty at selection time.
	assert.InDelta(t, 1.0, queue[0].EffectiveScore, 0.001)
	assert.InDelta(t, 0.99, queue[1].EffectiveScore, 0.001)
	assert.InDelta(t, 0.7, queue[2].EffectiveScore, 0.001)
	assert.InDelta(t, 0.693, queue[3].EffectiveScore, 0.001)
}

func TestRank_AdjacencyRelaxedWhenForced(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultRanking()
	sink := &eventRecorder{}

	candidates := []models.Episode{
		seriesEpisode("s1-a", "S1", 3, 3, 5, now),
		seriesEpisode("s1-b", "S1", 3, 3, 5, now),
		seriesEpisode("s1-c", "S1", 3, 3, 5, now),
	}

	queue, _ := Rank(RankInput{
		Candidates: candidates,
		Limit:      3,
		Now:        now,
	}, &cfg, sink)

	// Cap of two still holds; the second slot had no alternative series.
	require.Len(t, queue, 2)
	assert.Equal(t, "S1", queue[0].SeriesID)
	assert.Equal(t, "S1", queue[1].SeriesID)
	assert.Equal(t, 1, sink.count(telemetry.EventSeriesAdjacencyForced))
}

func TestRank_EpisodesWithoutSeriesAreUnconstrained(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultRanking()
	sink := &eventRecorder{}

	candidates := []models.Episode{
		seriesEpisode("a", "", 3, 3, 5, now),
		seriesEpisode("b", "", 3, 3, 5, now),
		seriesEpisode("c", "", 3, 3, 5, now),
	}

	queue, _ := Rank(RankInput{
		Candidates: candidates,
		Limit:      3,
		Now:        now,
	}, &cfg, sink)

	assert.Len(t, queue, 3)
	assert.False(t, sink.has(telemetry.EventSeriesAdjacencyForced))
}

func TestRank_AssignsBadges(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultRanking()
	sink := &eventRecorder{}

	queue, _ := Rank(RankInput{
		Candidates: []models.Episode{seriesEpisode("A", "s-a", 4, 4, 5, now)},
		Limit:      1,
		Now:        now,
	}, &cfg, sink)

	require.Len(t, queue, 1)
	assert.Equal(t, []string{BadgeHighCredibility, BadgeHighInsight}, queue[0].Badges)
}

func TestVerifyQueue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultRanking()

	valid := []models.ScoredEpisode{
		{Episode: seriesEpisode("a", "S1", 3, 3, 5, now)},
		{Episode: seriesEpisode("b", "S2", 3, 3, 5, now)},
	}

	t.Run("valid queue passes", func(t *testing.T) {
		assert.NoError(t, VerifyQueue(valid, nil, 10, &cfg))
	})

	t.Run("length above limit", func(t *testing.T) {
		err := VerifyQueue(valid, nil, 1, &cfg)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrInternalInvariant))
	})

	t.Run("duplicate episode", func(t *testing.T) {
		queue := []models.ScoredEpisode{
			{Episode: seriesEpisode("a", "S1", 3, 3, 5, now)},
			{Episode: seriesEpisode("a", "S2", 3, 3, 5, now)},
		}
		err := VerifyQueue(queue, nil, 10, &cfg)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrInternalInvariant))
	})

	t.Run("excluded episode present", func(t *testing.T) {
		err := VerifyQueue(valid, map[string]struct{}{"a": {}}, 10, &cfg)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrInternalInvariant))
	})

	t.Run("episode below floors", func(t *testing.T) {
		queue := []models.ScoredEpisode{
			{Episode: seriesEpisode("a", "S1", 1, 4, 5, now)},
		}
		err := VerifyQueue(queue, nil, 10, &cfg)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrInternalInvariant))
	})

	t.Run("series over cap", func(t *testing.T) {
		queue := []models.ScoredEpisode{
			{Episode: seriesEpisode("a", "S1", 3, 3, 5, now)},
			{Episode: seriesEpisode("b", "S1", 3, 3, 5, now)},
			{Episode: seriesEpisode("c", "S1", 3, 3, 5, now)},
		}
		err := VerifyQueue(queue, nil, 10, &cfg)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrInternalInvariant))
	})
}
