package providers

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/pkg/models"
)

// Querier is the subset of pgxpool.Pool the providers touch. pgxmock
// satisfies it in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const episodeColumns = `id, COALESCE(content_id, ''), title, COALESCE(key_insight, ''), ` +
	`COALESCE(series_id, ''), COALESCE(series_name, ''), categories, credibility, insight, published_at`

// PostgresEpisodeProvider serves the catalog from the episodes table.
type PostgresEpisodeProvider struct {
	db     Querier
	logger *logrus.Logger
}

func NewPostgresEpisodeProvider(db Querier, logger *logrus.Logger) *PostgresEpisodeProvider {
	return &PostgresEpisodeProvider{db: db, logger: logger}
}

func (p *PostgresEpisodeProvider) GetEpisodes(ctx context.Context, query EpisodeQuery) ([]models.Episode, error) {
	sql := `SELECT ` + episodeColumns + ` FROM episodes`
	args := make([]interface{}, 0, 4)

	where := ""
	if query.Since != nil {
		args = append(args, *query.Since)
		where = fmt.Sprintf(" WHERE published_at >= $%d", len(args))
	}
	if query.Until != nil {
		args = append(args, *query.Until)
		clause := fmt.Sprintf("published_at <= $%d", len(args))
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
	}
	sql += where + " ORDER BY published_at DESC, id ASC"

	if query.Limit > 0 {
		args = append(args, query.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []models.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate episodes: %w", err)
	}
	return episodes, nil
}

func (p *PostgresEpisodeProvider) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	rows, err := p.db.Query(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query episode %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read episode %s: %w", id, err)
		}
		return nil, nil
	}
	ep, err := scanEpisode(rows)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

func scanEpisode(rows pgx.Rows) (models.Episode, error) {
	var ep models.Episode
	var categories []byte
	if err := rows.Scan(&ep.ID, &ep.ContentID, &ep.Title, &ep.KeyInsight,
		&ep.SeriesID, &ep.SeriesName, &categories,
		&ep.Credibility, &ep.Insight, &ep.PublishedAt); err != nil {
		return models.Episode{}, fmt.Errorf("failed to scan episode: %w", err)
	}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &ep.Categories); err != nil {
			return models.Episode{}, fmt.Errorf("failed to decode categories for %s: %w", ep.ID, err)
		}
	}
	return ep, nil
}

// PostgresEngagementStore persists engagements in the engagements table.
type PostgresEngagementStore struct {
	db     Querier
	logger *logrus.Logger
}

func NewPostgresEngagementStore(db Querier, logger *logrus.Logger) *PostgresEngagementStore {
	return &PostgresEngagementStore{db: db, logger: logger}
}

func (s *PostgresEngagementStore) GetEngagementsForRanking(ctx context.Context, userID string, requestEngagements []models.Engagement, limit int) ([]models.Engagement, error) {
	if userID == "" {
		return MergeEngagements(nil, requestEngagements, limit), nil
	}

	sql := `SELECT episode_id, kind, occurred_at FROM engagements
		WHERE user_id = $1 ORDER BY occurred_at DESC, episode_id ASC`
	args := []interface{}{userID}
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query engagements for %s: %w", userID, err)
	}
	defer rows.Close()

	var persisted []models.Engagement
	for rows.Next() {
		var eng models.Engagement
		if err := rows.Scan(&eng.EpisodeID, &eng.Kind, &eng.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan engagement: %w", err)
		}
		persisted = append(persisted, eng)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate engagements: %w", err)
	}

	return MergeEngagements(persisted, requestEngagements, limit), nil
}

func (s *PostgresEngagementStore) RecordEngagement(ctx context.Context, userID string, engagement models.Engagement) error {
	if userID == "" {
		return nil
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO engagements (user_id, episode_id, kind, occurred_at) VALUES ($1, $2, $3, $4)`,
		userID, engagement.EpisodeID, string(engagement.Kind), engagement.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record engagement: %w", err)
	}
	return nil
}

// PostgresUserStore reads profiles from the user_profiles table. The anchor
// vector column uses the pgvector extension.
type PostgresUserStore struct {
	db     Querier
	logger *logrus.Logger
}

func NewPostgresUserStore(db Querier, logger *logrus.Logger) *PostgresUserStore {
	return &PostgresUserStore{db: db, logger: logger}
}

func (s *PostgresUserStore) GetByID(ctx context.Context, userID string) (*models.UserProfile, error) {
	row := s.db.QueryRow(ctx,
		`SELECT user_id, category_anchor, category_interests, created_at, updated_at
		 FROM user_profiles WHERE user_id = $1`, userID)

	var profile models.UserProfile
	var anchor *pgvector.Vector
	var interests []byte
	err := row.Scan(&profile.UserID, &anchor, &interests, &profile.CreatedAt, &profile.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user profile %s: %w", userID, err)
	}

	if anchor != nil {
		profile.CategoryAnchor = anchor.Slice()
	}
	if len(interests) > 0 {
		if err := json.Unmarshal(interests, &profile.CategoryInterests); err != nil {
			return nil, fmt.Errorf("failed to decode interests for %s: %w", userID, err)
		}
	}
	return &profile, nil
}
