package providers

import (
	"context"
	"sort"
	"time"

	"github.com/temcen/podrex/pkg/models"
)

// EpisodeQuery narrows a catalog listing. Zero values mean "no bound";
// Limit <= 0 returns everything.
type EpisodeQuery struct {
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// EpisodeProvider serves the episode catalog. Implementations are read-only
// and idempotent; the orchestrator derives secondary indexes (content-id
// lookup) from a fetched catalog instead of issuing second scans.
type EpisodeProvider interface {
	GetEpisodes(ctx context.Context, query EpisodeQuery) ([]models.Episode, error)
	GetEpisode(ctx context.Context, id string) (*models.Episode, error)
}

// QueryFilter restricts an ANN query to episodes the ranking pipeline could
// legally serve, so query results never need a second Stage A pass.
type QueryFilter struct {
	Namespace      string
	ExcludedIDs    []string
	MinCredibility int
	MinCombined    int
	PublishedAfter time.Time
}

// QueryMatch is one ANN result, ordered best-first by the store.
type QueryMatch struct {
	EpisodeID  string
	Similarity float64
}

// VectorStore serves embeddings by id within a namespace. GetEmbeddings
// returns only the requested ids that exist; missing ids are omitted, never
// errors.
type VectorStore interface {
	HasCache(ctx context.Context, namespace string) (bool, error)
	GetEmbeddings(ctx context.Context, ids []string, namespace string) (map[string][]float32, error)
	SaveEmbeddings(ctx context.Context, namespace string, embeddings map[string][]float32) error
}

// VectorQuerier is the optional ANN surface of a vector store. The
// orchestrator type-asserts for it and falls back to the fetch path when the
// configured store cannot query.
type VectorQuerier interface {
	Query(ctx context.Context, vector []float32, topK int, filter QueryFilter) ([]QueryMatch, error)
}

// EngagementStore reads and records user interactions. RecordEngagement is a
// no-op for anonymous requests (empty user id).
type EngagementStore interface {
	GetEngagementsForRanking(ctx context.Context, userID string, requestEngagements []models.Engagement, limit int) ([]models.Engagement, error)
	RecordEngagement(ctx context.Context, userID string, engagement models.Engagement) error
}

// UserStore resolves stored profiles. A missing user returns (nil, nil).
type UserStore interface {
	GetByID(ctx context.Context, userID string) (*models.UserProfile, error)
}

// MergeEngagements implements the shared read contract of every engagement
// backend: persisted and request-supplied engagements merge, deduplicated
// per episode keeping the newer timestamp, ordered newest first with episode
// id breaking timestamp ties. Limit <= 0 means uncapped.
func MergeEngagements(persisted, requested []models.Engagement, limit int) []models.Engagement {
	byEpisode := make(map[string]models.Engagement, len(persisted)+len(requested))
	for _, eng := range persisted {
		if eng.EpisodeID == "" {
			continue
		}
		if prev, ok := byEpisode[eng.EpisodeID]; !ok || eng.Timestamp.After(prev.Timestamp) {
			byEpisode[eng.EpisodeID] = eng
		}
	}
	for _, eng := range requested {
		if eng.EpisodeID == "" {
			continue
		}
		if prev, ok := byEpisode[eng.EpisodeID]; !ok || eng.Timestamp.After(prev.Timestamp) {
			byEpisode[eng.EpisodeID] = eng
		}
	}

	merged := make([]models.Engagement, 0, len(byEpisode))
	for _, eng := range byEpisode {
		merged = append(merged, eng)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.After(merged[j].Timestamp)
		}
		return merged[i].EpisodeID < merged[j].EpisodeID
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
