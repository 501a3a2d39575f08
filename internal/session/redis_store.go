package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/pkg/models"
)

const (
	sessionKeyPrefix = "podrex:session:"
	casAttempts      = 5
)

// RedisStore keeps sessions as JSON records with a rolling TTL, for
// deployments where create and next may land on different instances.
// Updates use WATCH-based optimistic concurrency, so two concurrent engage
// calls on one session serialize through retries instead of losing writes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (r *RedisStore) Create(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}

	stored, err := r.client.SetNX(ctx, sessionKey(session.ID), payload, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", session.ID, err)
	}
	if !stored {
		return models.NewError(models.ErrInternalInvariant, "session id %s already exists", session.ID)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.NewError(models.ErrSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}

	// Reads refresh the TTL the way the memory store refreshes LRU order.
	if err := r.client.Expire(ctx, sessionKey(id), r.ttl).Err(); err != nil && r.logger != nil {
		r.logger.WithError(err).WithField("session_id", id).Warn("Failed to refresh session TTL")
	}
	return &session, nil
}

func (r *RedisStore) Update(ctx context.Context, id string, fn func(*models.Session) error) error {
	key := sessionKey(id)

	for attempt := 0; attempt < casAttempts; attempt++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return models.NewError(models.ErrSessionNotFound, "session %s not found", id)
			}
			if err != nil {
				return fmt.Errorf("failed to load session %s: %w", id, err)
			}

			var session models.Session
			if err := json.Unmarshal(data, &session); err != nil {
				return fmt.Errorf("failed to decode session %s: %w", id, err)
			}

			if err := fn(&session); err != nil {
				return err
			}
			session.LastAccessed = time.Now().UTC()

			payload, err := json.Marshal(&session)
			if err != nil {
				return fmt.Errorf("failed to encode session %s: %w", id, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, r.ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return models.NewError(models.ErrUpstreamUnavailable,
		"session %s update contended beyond %d attempts", id, casAttempts)
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	removed, err := r.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if removed == 0 {
		return models.NewError(models.ErrSessionNotFound, "session %s not found", id)
	}
	return nil
}

func (r *RedisStore) Len(ctx context.Context) (int, error) {
	var count int
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return count, nil
}
