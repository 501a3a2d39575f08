package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testSession(id string, queueLen int) *models.Session {
	queue := make([]models.ScoredEpisode, 0, queueLen)
	for i := 0; i < queueLen; i++ {
		queue = append(queue, models.ScoredEpisode{
			Episode:    models.Episode{ID: fmt.Sprintf("%s-ep-%d", id, i), Title: "Episode"},
			FinalScore: 0.5,
		})
	}
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.Session{
		ID:               id,
		Queue:            queue,
		CreatedAt:        created,
		LastAccessed:     created,
		AlgorithmVersion: "v2",
		DatasetVersion:   "dev",
		EngagedIDs:       make(map[string]struct{}),
		ExcludedIDs:      make(map[string]struct{}),
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore(config.SessionConfig{Capacity: 10}, testLogger())
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", 3)))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Len(t, got.Queue, 3)
	assert.Equal(t, 0, got.Cursor)

	// Snapshots are isolated: mutating one must not leak into the store.
	got.ExcludedIDs["leaked"] = struct{}{}
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotContains(t, again.ExcludedIDs, "leaked")

	err = store.Create(ctx, testSession("s1", 1))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrInternalInvariant))
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore(config.SessionConfig{}, testLogger())
	defer store.Stop()

	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrSessionNotFound))
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore(config.SessionConfig{}, testLogger())
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", 5)))

	t.Run("commits on success", func(t *testing.T) {
		err := store.Update(ctx, "s1", func(s *models.Session) error {
			s.Cursor = 3
			s.EngagedIDs["s1-ep-0"] = struct{}{}
			return nil
		})
		require.NoError(t, err)

		got, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.Cursor)
		assert.Contains(t, got.EngagedIDs, "s1-ep-0")
	})

	t.Run("discards on error", func(t *testing.T) {
		wantErr := models.NewError(models.ErrInputInvalid, "rejected")
		err := store.Update(ctx, "s1", func(s *models.Session) error {
			s.Cursor = 999
			return wantErr
		})
		require.ErrorIs(t, err, wantErr)

		got, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.Cursor)
	})

	t.Run("unknown session", func(t *testing.T) {
		err := store.Update(ctx, "nope", func(*models.Session) error { return nil })
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrSessionNotFound))
	})
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore(config.SessionConfig{}, testLogger())
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", 1)))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Delete(ctx, "s1"))

	_, err = store.Get(ctx, "s1")
	assert.True(t, models.IsKind(err, models.ErrSessionNotFound))

	err = store.Delete(ctx, "s1")
	assert.True(t, models.IsKind(err, models.ErrSessionNotFound))

	n, err = store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore(config.SessionConfig{TTL: 30 * time.Minute}, testLogger())
	defer store.Stop()
	ctx := context.Background()

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	session := testSession("s1", 1)
	session.LastAccessed = current
	require.NoError(t, store.Create(ctx, session))

	// Accessing inside the TTL refreshes it.
	current = current.Add(20 * time.Minute)
	require.NoError(t, store.Update(ctx, "s1", func(*models.Session) error { return nil }))

	current = current.Add(20 * time.Minute)
	_, err := store.Get(ctx, "s1")
	require.NoError(t, err, "refreshed session should still be live")

	current = current.Add(31 * time.Minute)
	_, err = store.Get(ctx, "s1")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrSessionNotFound))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "lazy expiry removes the entry")
}

func TestMemoryStore_CapacityEviction(t *testing.T) {
	store := NewMemoryStore(config.SessionConfig{Capacity: 2}, testLogger())
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", 1)))
	require.NoError(t, store.Create(ctx, testSession("s2", 1)))

	// Touch s1 so s2 becomes the least recently used.
	_, err := store.Get(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, store.Create(ctx, testSession("s3", 1)))

	_, err = store.Get(ctx, "s2")
	assert.True(t, models.IsKind(err, models.ErrSessionNotFound))

	_, err = store.Get(ctx, "s1")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "s3")
	assert.NoError(t, err)
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore(config.SessionConfig{TTL: 30 * time.Minute}, testLogger())
	defer store.Stop()
	ctx := context.Background()

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	for _, id := range []string{"s1", "s2", "s3"} {
		session := testSession(id, 1)
		session.LastAccessed = current
		require.NoError(t, store.Create(ctx, session))
	}

	current = current.Add(25 * time.Minute)
	require.NoError(t, store.Update(ctx, "s3", func(*models.Session) error { return nil }))

	current = current.Add(10 * time.Minute)
	store.sweep()

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the refreshed session survives the sweep")

	_, err = store.Get(ctx, "s3")
	assert.NoError(t, err)
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	store := NewMemoryStore(config.SessionConfig{}, testLogger())
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1", 1)))

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = store.Update(ctx, "s1", func(s *models.Session) error {
				s.Cursor++
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, workers, got.Cursor, "updates must serialize, not interleave")
}

func TestMemoryStore_JanitorStops(t *testing.T) {
	store := NewMemoryStore(config.SessionConfig{
		TTL:             time.Minute,
		CleanupInterval: 10 * time.Millisecond,
	}, testLogger())

	done := make(chan struct{})
	go func() {
		store.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
