package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/internal/database"
	"github.com/temcen/podrex/internal/handlers"
	"github.com/temcen/podrex/internal/messaging"
	"github.com/temcen/podrex/internal/middleware"
	"github.com/temcen/podrex/internal/providers"
	"github.com/temcen/podrex/internal/session"
	"github.com/temcen/podrex/internal/telemetry"
	"github.com/temcen/podrex/internal/validation"
)

type App struct {
	config       *config.Config
	logger       *logrus.Logger
	db           *database.Database
	telemetry    *telemetry.Telemetry
	rankingStore *config.RankingStore
	validator    *validation.SchemaValidator
	store        session.Store
	orchestrator *session.Orchestrator
	publisher    *messaging.EngagementPublisher
	qdrant       *providers.QdrantIndex
	handlers     *handlers.Handlers
	router       *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	app.telemetry = telemetry.New(app.logger, prometheus.DefaultRegisterer)

	rankingStore, err := config.NewRankingStore(cfg.Ranking)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ranking config: %w", err)
	}
	app.rankingStore = rankingStore

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schemas: %w", err)
	}
	app.validator = validator

	backends, dataset, err := app.buildBackends()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if cfg.Session.Store == "redis" {
		app.store = session.NewRedisStore(db.Redis.Hot, cfg.Session.TTL, app.logger)
	} else {
		app.store = session.NewMemoryStore(cfg.Session, app.logger)
	}

	var publisher session.EngagementPublisher
	if cfg.Kafka.Enabled {
		app.publisher = messaging.NewEngagementPublisher(cfg.Kafka, app.logger, app.telemetry)
		publisher = app.publisher
	}

	if dataset != nil && cfg.Providers.Dataset.SeedEmbeddings {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		app.seedVectors(ctx, backends, dataset)
		cancel()
	}

	app.orchestrator = session.NewOrchestrator(
		backends,
		app.store,
		publisher,
		rankingStore,
		cfg.Providers,
		cfg.Session,
		app.telemetry,
		app.telemetry,
		app.logger,
	)

	app.handlers = handlers.New(app.logger, app.orchestrator, rankingStore, app.dependencyChecks())

	app.setupRouter()

	return app, nil
}

// buildBackends assembles the provider set the config selects. The dataset
// provider is returned separately so startup can seed vector stores from its
// bundled embeddings.
func (a *App) buildBackends() (session.Backends, *providers.DatasetProvider, error) {
	var backends session.Backends
	var dataset *providers.DatasetProvider

	switch a.config.Providers.Episodes {
	case "dataset", "":
		ds, err := providers.NewDatasetProvider(a.config.Providers.Dataset.Path)
		if err != nil {
			return backends, nil, err
		}
		if v := ds.Version(); v != "" && v != a.config.Ranking.DatasetVersion {
			a.logger.WithFields(logrus.Fields{
				"dataset_version": v,
				"config_version":  a.config.Ranking.DatasetVersion,
			}).Warn("Dataset version differs from configured dataset_version")
		}
		dataset = ds
		backends.Episodes = ds
	case "postgres":
		backends.Episodes = providers.NewPostgresEpisodeProvider(a.db.PG, a.logger)
	default:
		return backends, nil, fmt.Errorf("unknown episodes provider %q", a.config.Providers.Episodes)
	}

	switch a.config.Providers.Engagements {
	case "memory", "":
		backends.Engagements = providers.NewMemoryEngagementStore()
	case "postgres":
		backends.Engagements = providers.NewPostgresEngagementStore(a.db.PG, a.logger)
	default:
		return backends, nil, fmt.Errorf("unknown engagements provider %q", a.config.Providers.Engagements)
	}

	switch a.config.Providers.Users {
	case "memory", "":
		backends.Users = providers.NewMemoryUserStore(nil)
	case "postgres":
		backends.Users = providers.NewPostgresUserStore(a.db.PG, a.logger)
	default:
		return backends, nil, fmt.Errorf("unknown users provider %q", a.config.Providers.Users)
	}

	var pgvec *providers.PgvectorStore
	switch a.config.Providers.Vectors {
	case "memory", "":
		backends.Vectors = providers.NewMemoryVectorStore()
	case "pgvector":
		pgvec = providers.NewPgvectorStore(a.db.PG, a.logger)
		backends.Vectors = pgvec
	default:
		return backends, nil, fmt.Errorf("unknown vectors provider %q", a.config.Providers.Vectors)
	}
	if a.config.Providers.VectorCache {
		backends.Vectors = providers.NewCachedVectorStore(
			backends.Vectors, a.db.Redis.Cold, a.config.Providers.EmbeddingCacheTTL, a.logger)
	}

	switch a.config.Providers.QueryTier {
	case "none", "":
	case "pgvector":
		if pgvec == nil {
			pgvec = providers.NewPgvectorStore(a.db.PG, a.logger)
		}
		backends.Querier = pgvec
	case "qdrant":
		index, err := providers.NewQdrantIndex(
			a.config.Qdrant.URL, a.config.Qdrant.APIKey,
			a.config.Ranking.EmbeddingDimension, a.logger)
		if err != nil {
			return backends, nil, err
		}
		a.qdrant = index
		backends.Querier = index
	default:
		return backends, nil, fmt.Errorf("unknown query tier %q", a.config.Providers.QueryTier)
	}

	a.logger.WithFields(logrus.Fields{
		"episodes":     a.config.Providers.Episodes,
		"engagements":  a.config.Providers.Engagements,
		"users":        a.config.Providers.Users,
		"vectors":      a.config.Providers.Vectors,
		"vector_cache": a.config.Providers.VectorCache,
		"query_tier":   a.config.Providers.QueryTier,
	}).Info("Providers initialized")

	return backends, dataset, nil
}

// seedVectors loads the dataset's bundled embeddings into cold stores.
// Seeding is best effort: the engine still serves cold-start queues when a
// vector store starts empty, so failures log a warning instead of aborting.
func (a *App) seedVectors(ctx context.Context, backends session.Backends, dataset *providers.DatasetProvider) {
	embeddings := dataset.Embeddings()
	if len(embeddings) == 0 {
		return
	}

	dimension := a.config.Ranking.EmbeddingDimension
	valid := make(map[string][]float32, len(embeddings))
	skipped := 0
	for id, vec := range embeddings {
		if len(vec) != dimension {
			skipped++
			continue
		}
		valid[id] = vec
	}
	if skipped > 0 {
		a.logger.WithFields(logrus.Fields{
			"skipped":   skipped,
			"dimension": dimension,
		}).Warn("Skipped dataset embeddings that do not match embedding_dimension")
	}
	if len(valid) == 0 {
		return
	}

	namespace := a.config.Ranking.Namespace()

	has, err := backends.Vectors.HasCache(ctx, namespace)
	if err != nil {
		a.logger.WithError(err).Warn("Could not check vector store, skipping embedding seed")
	} else if !has {
		if err := backends.Vectors.SaveEmbeddings(ctx, namespace, valid); err != nil {
			a.logger.WithError(err).Warn("Failed to seed vector store from dataset")
		} else {
			a.logger.WithFields(logrus.Fields{
				"namespace": namespace,
				"count":     len(valid),
			}).Info("Seeded vector store from dataset")
		}
	}

	if a.qdrant == nil {
		return
	}
	created, err := a.qdrant.EnsureCollection(ctx, namespace)
	if err != nil {
		a.logger.WithError(err).Warn("Could not ensure qdrant collection")
		return
	}
	if !created {
		return
	}
	catalog, err := backends.Episodes.GetEpisodes(ctx, providers.EpisodeQuery{})
	if err != nil {
		a.logger.WithError(err).Warn("Could not list catalog for qdrant seed")
		return
	}
	if err := a.qdrant.UpsertEpisodes(ctx, namespace, catalog, valid); err != nil {
		a.logger.WithError(err).Warn("Failed to seed qdrant collection")
		return
	}
	a.logger.WithFields(logrus.Fields{
		"namespace": namespace,
		"count":     len(valid),
	}).Info("Seeded qdrant collection from dataset")
}

// dependencyChecks wires the readiness endpoint to whatever connections this
// configuration actually opened.
func (a *App) dependencyChecks() []handlers.DependencyCheck {
	var checks []handlers.DependencyCheck

	if a.db.PG != nil {
		checks = append(checks, handlers.DependencyCheck{
			Name:     "postgresql",
			Critical: a.config.Providers.Episodes == "postgres",
			Probe:    a.db.PingPostgres,
		})
	}
	if a.db.Redis != nil && a.db.Redis.Hot != nil {
		checks = append(checks, handlers.DependencyCheck{
			Name:     "redis_hot",
			Critical: a.config.Session.Store == "redis",
			Probe:    a.db.PingRedisHot,
		})
	}
	if a.db.Redis != nil && a.db.Redis.Cold != nil && a.db.Redis.Cold != a.db.Redis.Hot {
		checks = append(checks, handlers.DependencyCheck{
			Name:     "redis_cold",
			Critical: false,
			Probe:    a.db.PingRedisCold,
		})
	}
	if a.qdrant != nil {
		checks = append(checks, handlers.DependencyCheck{
			Name:     "qdrant",
			Critical: false,
			Probe:    a.qdrant.HealthCheck,
		})
	}

	return checks
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Shutdown drains asynchronous engagement writes before closing the
// connections they publish to.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	a.orchestrator.Drain()

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing engagement publisher")
		}
	}
	if store, ok := a.store.(*session.MemoryStore); ok {
		store.Stop()
	}
	if a.qdrant != nil {
		if err := a.qdrant.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing qdrant client")
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Compression())
	if a.config.Monitoring.Enabled {
		router.Use(middleware.Metrics(a.telemetry))
	}
	router.Use(middleware.Identity(a.config.Auth.JWTSecret, a.logger))

	// Health and metrics endpoints
	router.GET("/health", a.handlers.Health.Live)
	router.GET("/health/ready", a.handlers.Health.Ready)
	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	// Session routes are served bare and under /api/v1 for older clients.
	a.mountSessionRoutes(&router.RouterGroup)

	api := router.Group("/api/v1")
	{
		a.mountSessionRoutes(api)

		admin := api.Group("/admin")
		{
			admin.GET("/config/ranking", a.handlers.Admin.GetRankingConfig)
			admin.PUT("/config/ranking",
				middleware.ValidateBody(a.validator, validation.SchemaRankingOverrides),
				a.handlers.Admin.UpdateRankingConfig)
		}
	}

	a.router = router
}

func (a *App) mountSessionRoutes(group *gin.RouterGroup) {
	sessions := group.Group("/sessions")
	{
		sessions.POST("/create",
			middleware.ValidateBody(a.validator, validation.SchemaSessionCreate),
			a.handlers.Session.Create)
		sessions.POST("/:id/next",
			middleware.ValidateBody(a.validator, validation.SchemaSessionNext),
			a.handlers.Session.Next)
		sessions.POST("/:id/engage",
			middleware.ValidateBody(a.validator, validation.SchemaSessionEngage),
			a.handlers.Session.Engage)
	}
}
