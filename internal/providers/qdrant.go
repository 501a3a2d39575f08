package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/pkg/models"
)

// QdrantIndex is the ANN query tier. Each embedding namespace maps to its own
// collection. Qdrant point ids must be UUIDs, so points carry a deterministic
// UUIDv5 of the namespaced episode id and the real episode id travels in the
// payload, where Query reads it back. Payload also carries the Stage A fields
// so filters apply server-side and results never need re-filtering, plus the
// display fields for consumers that render hits straight from the index.
type QdrantIndex struct {
	client *qdrant.Client
	dims   uint64
	logger *logrus.Logger
}

func NewQdrantIndex(rawURL, apiKey string, dimension int, logger *logrus.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(rawURL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client: client,
		dims:   uint64(dimension),
		logger: logger,
	}, nil
}

func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port in qdrant URL: %q", portStr)
		}
		// The client speaks gRPC; remap the REST port if that's what was given.
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

func collectionName(namespace string) string {
	return "podrex_" + namespace
}

func pointID(namespace, episodeID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("podrex://"+namespace+"/"+episodeID)).String()
}

// EnsureCollection creates the namespace collection and its payload indexes
// if missing. Returns whether the collection was created on this call, which
// the bootstrap uses to decide on seeding. Index creation runs every time;
// it is idempotent on the server.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, namespace string) (bool, error) {
	collection := collectionName(namespace)

	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to check qdrant collection %s: %w", collection, err)
	}

	if !exists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return false, fmt.Errorf("failed to create qdrant collection %s: %w", collection, err)
		}
		q.logger.WithFields(logrus.Fields{
			"collection": collection,
			"dimensions": q.dims,
		}).Info("Created qdrant collection")
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"episode_id", "content_id", "series_id"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return false, fmt.Errorf("failed to index qdrant field %s: %w", field, err)
		}
	}
	floatType := qdrant.FieldType_FieldTypeFloat
	for _, field := range []string{"credibility", "combined", "published_at_unix"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      &floatType,
		}); err != nil {
			return false, fmt.Errorf("failed to index qdrant field %s: %w", field, err)
		}
	}

	return !exists, nil
}

// UpsertEpisodes writes points for every episode that has an embedding.
// Episodes without one are skipped silently; the fetch path covers them.
func (q *QdrantIndex) UpsertEpisodes(ctx context.Context, namespace string, episodes []models.Episode, embeddings map[string][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(embeddings))
	for i := range episodes {
		ep := &episodes[i]
		vec, ok := embeddings[ep.ID]
		if !ok {
			continue
		}

		payload := map[string]any{
			"episode_id":        ep.ID,
			"title":             ep.Title,
			"credibility":       float64(ep.Credibility),
			"insight":           float64(ep.Insight),
			"combined":          float64(ep.Combined()),
			"published_at_unix": float64(ep.PublishedAt.Unix()),
		}
		if ep.ContentID != "" {
			payload["content_id"] = ep.ContentID
		}
		if ep.KeyInsight != "" {
			payload["key_insight"] = ep.KeyInsight
		}
		if ep.SeriesID != "" {
			payload["series_id"] = ep.SeriesID
		}
		if ep.SeriesName != "" {
			payload["series_name"] = ep.SeriesName
		}
		if len(ep.Categories) > 0 {
			categories := make([]any, 0, len(ep.Categories))
			for _, tag := range ep.Categories {
				categories = append(categories, map[string]any{
					"name":   tag.Name,
					"weight": tag.Weight,
				})
			}
			payload["categories"] = categories
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(namespace, ep.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName(namespace),
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert qdrant points: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter QueryFilter) ([]QueryMatch, error) {
	if topK <= 0 {
		return nil, nil
	}

	must := []*qdrant.Condition{
		qdrant.NewRange("credibility", &qdrant.Range{Gte: qdrant.PtrOf(float64(filter.MinCredibility))}),
		qdrant.NewRange("combined", &qdrant.Range{Gte: qdrant.PtrOf(float64(filter.MinCombined))}),
	}
	if !filter.PublishedAfter.IsZero() {
		must = append(must, qdrant.NewRange("published_at_unix", &qdrant.Range{
			Gte: qdrant.PtrOf(float64(filter.PublishedAfter.Unix())),
		}))
	}

	var mustNot []*qdrant.Condition
	if len(filter.ExcludedIDs) > 0 {
		mustNot = append(mustNot,
			qdrant.NewMatchKeywords("episode_id", filter.ExcludedIDs...),
			qdrant.NewMatchKeywords("content_id", filter.ExcludedIDs...),
		)
	}

	limit := uint64(topK)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName(filter.Namespace),
		Query:          qdrant.NewQueryDense(vector),
		Filter:         &qdrant.Filter{Must: must, MustNot: mustNot},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	matches := make([]QueryMatch, 0, len(scored))
	for _, sp := range scored {
		episodeID := ""
		if v, ok := sp.Payload["episode_id"]; ok {
			episodeID = v.GetStringValue()
		}
		if episodeID == "" {
			q.logger.WithField("point_id", sp.Id.GetUuid()).Warn("Qdrant point missing episode_id payload")
			continue
		}
		matches = append(matches, QueryMatch{
			EpisodeID:  episodeID,
			Similarity: float64(sp.Score),
		})
	}
	return matches, nil
}

// HealthCheck verifies the qdrant connection with a short deadline.
func (q *QdrantIndex) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := q.client.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
