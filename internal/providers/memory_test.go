package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/podrex/pkg/models"
)

func memoryCatalog(now time.Time) []models.Episode {
	return []models.Episode{
		{ID: "e1", Title: "Newest", PublishedAt: now},
		{ID: "e2", Title: "Middle", PublishedAt: now.AddDate(0, 0, -10)},
		{ID: "e3", Title: "Oldest", PublishedAt: now.AddDate(0, 0, -20)},
	}
}

func TestMemoryEpisodeProvider_GetEpisodes(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	provider := NewMemoryEpisodeProvider(memoryCatalog(now))
	ctx := context.Background()

	t.Run("returns all newest first", func(t *testing.T) {
		episodes, err := provider.GetEpisodes(ctx, EpisodeQuery{})
		require.NoError(t, err)
		require.Len(t, episodes, 3)
		assert.Equal(t, "e1", episodes[0].ID)
		assert.Equal(t, "e3", episodes[2].ID)
	})

	t.Run("since bound", func(t *testing.T) {
		since := now.AddDate(0, 0, -15)
		episodes, err := provider.GetEpisodes(ctx, EpisodeQuery{Since: &since})
		require.NoError(t, err)
		assert.Len(t, episodes, 2)
	})

	t.Run("until bound", func(t *testing.T) {
		until := now.AddDate(0, 0, -5)
		episodes, err := provider.GetEpisodes(ctx, EpisodeQuery{Until: &until})
		require.NoError(t, err)
		assert.Len(t, episodes, 2)
	})

	t.Run("limit and offset", func(t *testing.T) {
		episodes, err := provider.GetEpisodes(ctx, EpisodeQuery{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, episodes, 1)
		assert.Equal(t, "e2", episodes[0].ID)
	})

	t.Run("offset beyond catalog", func(t *testing.T) {
		episodes, err := provider.GetEpisodes(ctx, EpisodeQuery{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, episodes)
	})
}

func TestMemoryEpisodeProvider_GetEpisode(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	provider := NewMemoryEpisodeProvider(memoryCatalog(now))
	ctx := context.Background()

	ep, err := provider.GetEpisode(ctx, "e2")
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, "Middle", ep.Title)

	missing, err := provider.GetEpisode(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryEngagementStore(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("anonymous record is a no-op", func(t *testing.T) {
		store := NewMemoryEngagementStore()
		err := store.RecordEngagement(ctx, "", models.Engagement{EpisodeID: "e1", Kind: models.EngagementClick, Timestamp: now})
		require.NoError(t, err)

		engagements, err := store.GetEngagementsForRanking(ctx, "someone", nil, 0)
		require.NoError(t, err)
		assert.Empty(t, engagements)
	})

	t.Run("record then read back merged with request", func(t *testing.T) {
		store := NewMemoryEngagementStore()
		require.NoError(t, store.RecordEngagement(ctx, "u1",
			models.Engagement{EpisodeID: "e1", Kind: models.EngagementBookmark, Timestamp: now.Add(-time.Hour)}))

		engagements, err := store.GetEngagementsForRanking(ctx, "u1", []models.Engagement{
			{EpisodeID: "e2", Kind: models.EngagementClick, Timestamp: now},
		}, 0)
		require.NoError(t, err)
		require.Len(t, engagements, 2)
		assert.Equal(t, "e2", engagements[0].EpisodeID)
		assert.Equal(t, "e1", engagements[1].EpisodeID)
	})

	t.Run("anonymous read returns request list", func(t *testing.T) {
		store := NewMemoryEngagementStore()
		engagements, err := store.GetEngagementsForRanking(ctx, "", []models.Engagement{
			{EpisodeID: "e9", Kind: models.EngagementListen, Timestamp: now},
		}, 0)
		require.NoError(t, err)
		require.Len(t, engagements, 1)
		assert.Equal(t, "e9", engagements[0].EpisodeID)
	})
}

func TestMemoryVectorStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	hasCache, err := store.HasCache(ctx, "v2_s1__dev")
	require.NoError(t, err)
	assert.False(t, hasCache)

	require.NoError(t, store.SaveEmbeddings(ctx, "v2_s1__dev", map[string][]float32{
		"e1": {1.0, 0.0},
		"e2": {0.0, 1.0},
	}))

	hasCache, err = store.HasCache(ctx, "v2_s1__dev")
	require.NoError(t, err)
	assert.True(t, hasCache)

	t.Run("returns only requested existing ids", func(t *testing.T) {
		found, err := store.GetEmbeddings(ctx, []string{"e1", "missing"}, "v2_s1__dev")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, []float32{1.0, 0.0}, found["e1"])
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		found, err := store.GetEmbeddings(ctx, []string{"e1"}, "v3_s1__dev")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("returned vectors are copies", func(t *testing.T) {
		found, err := store.GetEmbeddings(ctx, []string{"e1"}, "v2_s1__dev")
		require.NoError(t, err)
		found["e1"][0] = 42

		again, err := store.GetEmbeddings(ctx, []string{"e1"}, "v2_s1__dev")
		require.NoError(t, err)
		assert.Equal(t, float32(1.0), again["e1"][0])
	})
}

func TestMemoryUserStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore([]models.UserProfile{
		{UserID: "u1", CategoryAnchor: []float32{0.5, 0.5}},
	})

	profile, err := store.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, []float32{0.5, 0.5}, profile.CategoryAnchor)

	missing, err := store.GetByID(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
