package ranking

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/internal/telemetry"
	"github.com/temcen/podrex/pkg/models"
)

// PipelineInput is everything the pipeline needs, fetched up front. The
// pipeline itself performs no I/O: callers gather the catalog, embeddings,
// and engagement history, then hand them over. A non-nil Similarities map
// marks the query path, where the vector store already filtered and scored
// candidates and Stage A is skipped.
type PipelineInput struct {
	Episodes        []models.Episode
	QueryCandidates []models.Episode
	Similarities    map[string]float64
	Engagements     []models.Engagement
	ExcludedIDs     map[string]struct{}
	Embeddings      map[string][]float32
	ByContentID     map[string]*models.Episode
	UserVector      []float32
	// Precomputed carries a user-vector result the caller already derived.
	// The session orchestrator sets it when it had to compute the vector
	// before issuing a store-side query, so the computation (and its events)
	// happens once. Takes precedence over UserVector.
	Precomputed *UserVectorResult
	Profile     *models.UserProfile
	Limit       int
	Now         time.Time
}

// PipelineResult is the ranked queue plus how it was personalized.
type PipelineResult struct {
	Queue                  []models.ScoredEpisode
	ColdStart              bool
	UserVectorEpisodeCount int
	WeightsUsed            models.ScoringWeights
}

// Pipeline runs the full ranking flow as a deterministic function of its
// input and config snapshot. Degradations surface as events on the sink,
// never as errors; the only error is an internal invariant violation.
type Pipeline struct {
	sink telemetry.EventSink
}

func NewPipeline(sink telemetry.EventSink) *Pipeline {
	return &Pipeline{sink: sink}
}

func (p *Pipeline) Run(in PipelineInput, cfg *config.RankingConfig) (PipelineResult, error) {
	engagements := NormalizeEngagements(in.Engagements, p.sink)
	excluded := MergeExclusions(in.ExcludedIDs, in.Engagements)

	candidates := in.QueryCandidates
	if in.Similarities == nil {
		candidates = CandidatePool(in.Episodes, excluded, cfg, in.Now)
	}

	var userVector UserVectorResult
	switch {
	case in.Precomputed != nil:
		userVector = *in.Precomputed
	case in.UserVector != nil:
		userVector = UserVectorResult{Vector: in.UserVector, EpisodeCount: 0, ColdStart: false}
	default:
		userVector = ComputeUserVector(engagements, in.Embeddings, in.ByContentID, in.Profile, cfg, p.sink)
	}

	queue, weights := Rank(RankInput{
		Candidates:   candidates,
		Embeddings:   in.Embeddings,
		UserVector:   userVector.Vector,
		Similarities: in.Similarities,
		Limit:        in.Limit,
		Now:          in.Now,
	}, cfg, p.sink)

	if err := VerifyQueue(queue, excluded, in.Limit, cfg); err != nil {
		return PipelineResult{}, err
	}

	return PipelineResult{
		Queue:                  queue,
		ColdStart:              userVector.ColdStart,
		UserVectorEpisodeCount: userVector.EpisodeCount,
		WeightsUsed:            weights,
	}, nil
}

// MergeExclusions unions the request's excluded ids with every engaged
// episode id. Engaged episodes never reappear in a queue, independent of
// whether their engagement entry was well-formed enough to shape the user
// vector.
func MergeExclusions(excluded map[string]struct{}, engagements []models.Engagement) map[string]struct{} {
	merged := make(map[string]struct{}, len(excluded)+len(engagements))
	for id := range excluded {
		merged[id] = struct{}{}
	}
	for _, eng := range engagements {
		if eng.EpisodeID != "" {
			merged[eng.EpisodeID] = struct{}{}
		}
	}
	return merged
}

// NormalizeEngagements drops malformed entries and deduplicates by episode,
// keeping the most recent engagement per episode. Unknown kinds are dropped
// with an event rather than failing the request. The result is ordered most
// recent first, ties broken by episode id, so downstream truncation is
// stable.
func NormalizeEngagements(engagements []models.Engagement, sink telemetry.EventSink) []models.Engagement {
	byEpisode := make(map[string]models.Engagement, len(engagements))
	for _, eng := range engagements {
		if eng.EpisodeID == "" {
			continue
		}
		if !eng.Kind.Known() {
			sink.Event(telemetry.EventEngagementKindUnknown, logrus.Fields{
				"episode_id": eng.EpisodeID,
				"kind":       string(eng.Kind),
			})
			continue
		}
		prev, ok := byEpisode[eng.EpisodeID]
		if !ok || eng.Timestamp.After(prev.Timestamp) {
			byEpisode[eng.EpisodeID] = eng
		}
	}

	normalized := make([]models.Engagement, 0, len(byEpisode))
	for _, eng := range byEpisode {
		normalized = append(normalized, eng)
	}
	sort.Slice(normalized, func(i, j int) bool {
		if !normalized[i].Timestamp.Equal(normalized[j].Timestamp) {
			return normalized[i].Timestamp.After(normalized[j].Timestamp)
		}
		return normalized[i].EpisodeID < normalized[j].EpisodeID
	})
	return normalized
}
