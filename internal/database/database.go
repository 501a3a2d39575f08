package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/internal/config"
)

// Database bundles the backing connections the configured providers need.
// Connections are opened only when some provider selects them; unused fields
// stay nil and callers must check before use.
type Database struct {
	PG     *pgxpool.Pool
	Redis  *RedisClients
	logger *logrus.Logger
}

// RedisClients splits Redis into a hot tier (session records) and a cold tier
// (embedding cache). When the cold tier has no URL of its own it shares the
// hot client.
type RedisClients struct {
	Hot  *redis.Client
	Cold *redis.Client
}

func New(cfg *config.Config, logger *logrus.Logger) (*Database, error) {
	db := &Database{
		logger: logger,
	}

	if usesPostgres(cfg) {
		if err := db.initPostgreSQL(cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
	}

	if usesRedisHot(cfg) || usesRedisCold(cfg) {
		if err := db.initRedis(cfg); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	return db, nil
}

func usesPostgres(cfg *config.Config) bool {
	p := cfg.Providers
	return p.Episodes == "postgres" ||
		p.Engagements == "postgres" ||
		p.Users == "postgres" ||
		usesPgvector(cfg)
}

func usesPgvector(cfg *config.Config) bool {
	return cfg.Providers.Vectors == "pgvector" || cfg.Providers.QueryTier == "pgvector"
}

func usesRedisHot(cfg *config.Config) bool {
	return cfg.Session.Store == "redis"
}

func usesRedisCold(cfg *config.Config) bool {
	return cfg.Providers.VectorCache
}

func (db *Database) initPostgreSQL(cfg *config.Config) error {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConnections)
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout

	// Embedding columns need the pgvector codecs on every connection.
	if usesPgvector(cfg) {
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvector.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.PG = pool
	db.logger.Info("PostgreSQL connection established")
	return nil
}

func (db *Database) initRedis(cfg *config.Config) error {
	db.Redis = &RedisClients{}

	newClient := func(instance config.RedisInstanceConfig) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:         instance.URL,
			MaxRetries:   instance.MaxRetries,
			PoolSize:     instance.PoolSize,
			ReadTimeout:  instance.Timeout,
			WriteTimeout: instance.Timeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if usesRedisHot(cfg) {
		db.Redis.Hot = newClient(cfg.Redis.Hot)
		if err := db.Redis.Hot.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping Redis hot tier: %w", err)
		}
	}

	if usesRedisCold(cfg) {
		if cfg.Redis.Cold.URL == "" || cfg.Redis.Cold.URL == cfg.Redis.Hot.URL {
			if db.Redis.Hot == nil {
				db.Redis.Hot = newClient(cfg.Redis.Hot)
				if err := db.Redis.Hot.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("failed to ping Redis hot tier: %w", err)
				}
			}
			db.Redis.Cold = db.Redis.Hot
		} else {
			db.Redis.Cold = newClient(cfg.Redis.Cold)
			if err := db.Redis.Cold.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to ping Redis cold tier: %w", err)
			}
		}
	}

	db.logger.Info("Redis connections established")
	return nil
}

// PingPostgres reports connectivity for readiness checks.
func (db *Database) PingPostgres(ctx context.Context) error {
	if db.PG == nil {
		return fmt.Errorf("postgres is not configured")
	}
	return db.PG.Ping(ctx)
}

// PingRedisHot reports hot-tier connectivity for readiness checks.
func (db *Database) PingRedisHot(ctx context.Context) error {
	if db.Redis == nil || db.Redis.Hot == nil {
		return fmt.Errorf("redis hot tier is not configured")
	}
	return db.Redis.Hot.Ping(ctx).Err()
}

// PingRedisCold reports cold-tier connectivity for readiness checks.
func (db *Database) PingRedisCold(ctx context.Context) error {
	if db.Redis == nil || db.Redis.Cold == nil {
		return fmt.Errorf("redis cold tier is not configured")
	}
	return db.Redis.Cold.Ping(ctx).Err()
}

func (db *Database) Close() error {
	var errs []error

	if db.PG != nil {
		db.PG.Close()
		db.logger.Info("PostgreSQL connection closed")
	}

	if db.Redis != nil {
		if db.Redis.Hot != nil {
			if err := db.Redis.Hot.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close Redis hot tier: %w", err))
			}
		}
		if db.Redis.Cold != nil && db.Redis.Cold != db.Redis.Hot {
			if err := db.Redis.Cold.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close Redis cold tier: %w", err))
			}
		}
		if len(errs) == 0 {
			db.logger.Info("Redis connections closed")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing database connections: %v", errs)
	}

	return nil
}
