package providers

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
)

// PgvectorStore keeps embeddings in Postgres via the pgvector extension,
// namespaced in the episode_embeddings table. It also serves ANN queries
// with the cosine operator, joining the catalog so filters apply in SQL and
// results never need re-filtering.
type PgvectorStore struct {
	db     Querier
	logger *logrus.Logger
}

func NewPgvectorStore(db Querier, logger *logrus.Logger) *PgvectorStore {
	return &PgvectorStore{db: db, logger: logger}
}

func (s *PgvectorStore) HasCache(ctx context.Context, namespace string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM episode_embeddings WHERE namespace = $1)`,
		namespace).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to probe embedding namespace %s: %w", namespace, err)
	}
	return exists, nil
}

func (s *PgvectorStore) GetEmbeddings(ctx context.Context, ids []string, namespace string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT episode_id, embedding FROM episode_embeddings
		 WHERE namespace = $1 AND episode_id = ANY($2)`,
		namespace, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	found := make(map[string][]float32, len(ids))
	for rows.Next() {
		var id string
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		found[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embeddings: %w", err)
	}
	return found, nil
}

func (s *PgvectorStore) SaveEmbeddings(ctx context.Context, namespace string, embeddings map[string][]float32) error {
	for id, vec := range embeddings {
		_, err := s.db.Exec(ctx,
			`INSERT INTO episode_embeddings (namespace, episode_id, embedding, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (namespace, episode_id)
			 DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = NOW()`,
			namespace, id, pgvector.NewVector(vec))
		if err != nil {
			return fmt.Errorf("failed to save embedding %s: %w", id, err)
		}
	}
	return nil
}

// Query runs a cosine ANN search joined against the catalog so the floors,
// freshness, and exclusion filters hold at the source.
func (s *PgvectorStore) Query(ctx context.Context, vector []float32, topK int, filter QueryFilter) ([]QueryMatch, error) {
	if topK <= 0 {
		return nil, nil
	}

	sql := `SELECT emb.episode_id, 1 - (emb.embedding <=> $1) AS similarity
		FROM episode_embeddings emb
		JOIN episodes ep ON ep.id = emb.episode_id
		WHERE emb.namespace = $2
		  AND ep.credibility >= $3
		  AND ep.credibility + ep.insight >= $4`
	args := []interface{}{pgvector.NewVector(vector), filter.Namespace, filter.MinCredibility, filter.MinCombined}

	if !filter.PublishedAfter.IsZero() {
		args = append(args, filter.PublishedAfter)
		sql += fmt.Sprintf(" AND ep.published_at >= $%d", len(args))
	}
	if len(filter.ExcludedIDs) > 0 {
		args = append(args, filter.ExcludedIDs)
		// Exclusions may name either the episode id or its content id.
		sql += fmt.Sprintf(" AND NOT (emb.episode_id = ANY($%d))", len(args))
		sql += fmt.Sprintf(" AND (ep.content_id IS NULL OR NOT (ep.content_id = ANY($%d)))", len(args))
	}
	args = append(args, topK)
	sql += fmt.Sprintf(" ORDER BY emb.embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector query: %w", err)
	}
	defer rows.Close()

	var matches []QueryMatch
	for rows.Next() {
		var m QueryMatch
		if err := rows.Scan(&m.EpisodeID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan vector match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vector matches: %w", err)
	}
	return matches, nil
}
