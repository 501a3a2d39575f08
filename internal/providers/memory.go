package providers

import (
	"context"
	"sort"
	"sync"

	"github.com/temcen/podrex/pkg/models"
)

// MemoryEpisodeProvider serves a fixed catalog from memory. It backs tests
// and the dev profile, and is the fallthrough when no dataset is configured.
type MemoryEpisodeProvider struct {
	mu       sync.RWMutex
	episodes []models.Episode
	byID     map[string]int
}

func NewMemoryEpisodeProvider(episodes []models.Episode) *MemoryEpisodeProvider {
	sorted := make([]models.Episode, len(episodes))
	copy(sorted, episodes)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].PublishedAt.Equal(sorted[j].PublishedAt) {
			return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	byID := make(map[string]int, len(sorted))
	for i := range sorted {
		byID[sorted[i].ID] = i
	}
	return &MemoryEpisodeProvider{episodes: sorted, byID: byID}
}

func (p *MemoryEpisodeProvider) GetEpisodes(ctx context.Context, query EpisodeQuery) ([]models.Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	filtered := make([]models.Episode, 0, len(p.episodes))
	for _, ep := range p.episodes {
		if query.Since != nil && ep.PublishedAt.Before(*query.Since) {
			continue
		}
		if query.Until != nil && ep.PublishedAt.After(*query.Until) {
			continue
		}
		filtered = append(filtered, ep)
	}

	if query.Offset > 0 {
		if query.Offset >= len(filtered) {
			return []models.Episode{}, nil
		}
		filtered = filtered[query.Offset:]
	}
	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[:query.Limit]
	}

	out := make([]models.Episode, len(filtered))
	copy(out, filtered)
	return out, nil
}

func (p *MemoryEpisodeProvider) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	idx, ok := p.byID[id]
	if !ok {
		return nil, nil
	}
	ep := p.episodes[idx]
	return &ep, nil
}

// MemoryEngagementStore keeps per-user engagement history in memory.
type MemoryEngagementStore struct {
	mu      sync.RWMutex
	byUser  map[string][]models.Engagement
	maxKeep int
}

func NewMemoryEngagementStore() *MemoryEngagementStore {
	return &MemoryEngagementStore{byUser: make(map[string][]models.Engagement), maxKeep: 1000}
}

func (s *MemoryEngagementStore) GetEngagementsForRanking(ctx context.Context, userID string, requestEngagements []models.Engagement, limit int) ([]models.Engagement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return MergeEngagements(nil, requestEngagements, limit), nil
	}

	s.mu.RLock()
	persisted := s.byUser[userID]
	s.mu.RUnlock()
	return MergeEngagements(persisted, requestEngagements, limit), nil
}

func (s *MemoryEngagementStore) RecordEngagement(ctx context.Context, userID string, engagement models.Engagement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.byUser[userID], engagement)
	if len(history) > s.maxKeep {
		history = history[len(history)-s.maxKeep:]
	}
	s.byUser[userID] = history
	return nil
}

// MemoryVectorStore holds embeddings per namespace. It satisfies VectorStore
// only; ANN queries come from the qdrant tier when configured.
type MemoryVectorStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string][]float32
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{namespaces: make(map[string]map[string][]float32)}
}

func (s *MemoryVectorStore) HasCache(ctx context.Context, namespace string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace]) > 0, nil
}

func (s *MemoryVectorStore) GetEmbeddings(ctx context.Context, ids []string, namespace string) (map[string][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.namespaces[namespace]
	found := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if vec, ok := stored[id]; ok {
			out := make([]float32, len(vec))
			copy(out, vec)
			found[id] = out
		}
	}
	return found, nil
}

func (s *MemoryVectorStore) SaveEmbeddings(ctx context.Context, namespace string, embeddings map[string][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.namespaces[namespace]
	if stored == nil {
		stored = make(map[string][]float32, len(embeddings))
		s.namespaces[namespace] = stored
	}
	for id, vec := range embeddings {
		out := make([]float32, len(vec))
		copy(out, vec)
		stored[id] = out
	}
	return nil
}

// MemoryUserStore resolves profiles seeded at construction.
type MemoryUserStore struct {
	mu       sync.RWMutex
	profiles map[string]models.UserProfile
}

func NewMemoryUserStore(profiles []models.UserProfile) *MemoryUserStore {
	byID := make(map[string]models.UserProfile, len(profiles))
	for _, p := range profiles {
		byID[p.UserID] = p
	}
	return &MemoryUserStore{profiles: byID}
}

func (s *MemoryUserStore) GetByID(ctx context.Context, userID string) (*models.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}
