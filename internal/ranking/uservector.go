package ranking

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/internal/telemetry"
	"github.com/temcen/podrex/pkg/models"
)

// UserVectorResult carries the taste vector along with how it was derived.
// A nil Vector means cold start with nothing to personalize on.
type UserVectorResult struct {
	Vector       []float32
	EpisodeCount int
	ColdStart    bool
}

// ComputeUserVector derives the user's taste vector from recent engagements,
// optionally blended with the profile's category anchor. Engagements resolve
// to embeddings by episode id first, then through the content-id index;
// unresolvable or mis-sized embeddings are skipped and reported. When no
// engagement survives, the anchor alone serves as a cold-start vector.
func ComputeUserVector(engagements []models.Engagement, embeddings map[string][]float32,
	byContentID map[string]*models.Episode, profile *models.UserProfile,
	cfg *config.RankingConfig, sink telemetry.EventSink) UserVectorResult {

	anchor := anchorVector(profile)

	recent := make([]models.Engagement, len(engagements))
	copy(recent, engagements)
	sort.Slice(recent, func(i, j int) bool {
		if !recent[i].Timestamp.Equal(recent[j].Timestamp) {
			return recent[i].Timestamp.After(recent[j].Timestamp)
		}
		return recent[i].EpisodeID < recent[j].EpisodeID
	})
	if len(recent) > cfg.UserVectorLimit {
		recent = recent[:cfg.UserVectorLimit]
	}

	type contribution struct {
		vector []float32
		kind   models.EngagementKind
	}
	contributions := make([]contribution, 0, len(recent))
	for _, eng := range recent {
		vec, ok := embeddings[eng.EpisodeID]
		if !ok {
			if ep := byContentID[eng.EpisodeID]; ep != nil {
				vec, ok = embeddings[ep.ID]
			}
		}
		if !ok {
			sink.Event(telemetry.EventEngagementEmbeddingSkipped, logrus.Fields{
				"episode_id": eng.EpisodeID,
				"reason":     "embedding_missing",
			})
			continue
		}
		if len(vec) != cfg.EmbeddingDimension {
			sink.Event(telemetry.EventEngagementEmbeddingSkipped, logrus.Fields{
				"episode_id": eng.EpisodeID,
				"reason":     "dimension_mismatch",
				"dimension":  len(vec),
				"expected":   cfg.EmbeddingDimension,
			})
			continue
		}
		contributions = append(contributions, contribution{vector: vec, kind: eng.Kind})
	}

	if len(contributions) == 0 {
		if anchor != nil {
			return UserVectorResult{Vector: anchor, EpisodeCount: 0, ColdStart: true}
		}
		return UserVectorResult{Vector: nil, EpisodeCount: 0, ColdStart: true}
	}

	weights := make([]float64, len(contributions))
	weighted := cfg.UseWeightedEngagements
	if weighted {
		var sum float64
		valid := true
		for i, c := range contributions {
			w := cfg.EngagementWeights[string(c.kind)]
			if w < 0 || !isFinite64(w) {
				valid = false
				break
			}
			weights[i] = w
			sum += w
		}
		if !valid || sum <= 0 {
			weighted = false
			sink.Event(telemetry.EventUserVectorWeightsInvalid, logrus.Fields{
				"engagement_count": len(contributions),
			})
		}
	}
	if !weighted {
		for i := range weights {
			weights[i] = 1
		}
	}

	dim := len(contributions[0].vector)
	acc := make([]float64, dim)
	var total float64
	for i, c := range contributions {
		floats.AddScaled(acc, weights[i], widen(c.vector))
		total += weights[i]
	}
	floats.Scale(1/total, acc)

	if anchor != nil {
		if len(anchor) != dim {
			sink.Event(telemetry.EventUserVectorDimMismatch, logrus.Fields{
				"anchor_dimension": len(anchor),
				"mean_dimension":   dim,
			})
		} else {
			floats.Scale(1-cfg.CategoryAnchorWeight, acc)
			floats.AddScaled(acc, cfg.CategoryAnchorWeight, widen(anchor))
		}
	}

	return UserVectorResult{Vector: narrow(acc), EpisodeCount: len(contributions), ColdStart: false}
}

func anchorVector(profile *models.UserProfile) []float32 {
	if profile == nil || len(profile.CategoryAnchor) == 0 {
		return nil
	}
	return profile.CategoryAnchor
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func narrow(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func isFinite64(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
