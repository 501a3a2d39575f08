package providers

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CachedVectorStore is a cache-aside layer over a VectorStore. Hits come from
// redis, misses fall through to the base store and backfill the cache. A
// cache outage degrades to the base store with a warning; it never fails a
// request.
type CachedVectorStore struct {
	base   VectorStore
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCachedVectorStore(base VectorStore, client *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedVectorStore {
	return &CachedVectorStore{base: base, client: client, ttl: ttl, logger: logger}
}

func embeddingKey(namespace, id string) string {
	return fmt.Sprintf("podrex:emb:%s:%s", namespace, id)
}

func (s *CachedVectorStore) HasCache(ctx context.Context, namespace string) (bool, error) {
	return s.base.HasCache(ctx, namespace)
}

func (s *CachedVectorStore) GetEmbeddings(ctx context.Context, ids []string, namespace string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = embeddingKey(namespace, id)
	}

	cached, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.WithError(err).Warn("Embedding cache read failed, falling back to base store")
		return s.base.GetEmbeddings(ctx, ids, namespace)
	}

	found := make(map[string][]float32, len(ids))
	missing := make([]string, 0, len(ids))
	for i, raw := range cached {
		encoded, ok := raw.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(encoded), &vec); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		found[ids[i]] = vec
	}

	if len(missing) == 0 {
		return found, nil
	}

	fetched, err := s.base.GetEmbeddings(ctx, missing, namespace)
	if err != nil {
		return nil, err
	}
	for id, vec := range fetched {
		found[id] = vec
	}
	s.backfill(ctx, namespace, fetched)

	return found, nil
}

func (s *CachedVectorStore) SaveEmbeddings(ctx context.Context, namespace string, embeddings map[string][]float32) error {
	if err := s.base.SaveEmbeddings(ctx, namespace, embeddings); err != nil {
		return err
	}
	s.backfill(ctx, namespace, embeddings)
	return nil
}

// backfill writes vectors to redis with TTL, best effort.
func (s *CachedVectorStore) backfill(ctx context.Context, namespace string, embeddings map[string][]float32) {
	if len(embeddings) == 0 {
		return
	}

	pipe := s.client.Pipeline()
	for id, vec := range embeddings {
		encoded, err := json.Marshal(vec)
		if err != nil {
			continue
		}
		pipe.Set(ctx, embeddingKey(namespace, id), encoded, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Warn("Embedding cache backfill failed")
	}
}
