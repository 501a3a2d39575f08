package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Session    SessionConfig    `mapstructure:"session"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig splits Redis usage into a hot tier (session records) and a cold
// tier (embedding cache). Either can point at the same instance.
type RedisConfig struct {
	Hot  RedisInstanceConfig `mapstructure:"hot"`
	Cold RedisInstanceConfig `mapstructure:"cold"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type QdrantConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		EngagementEvents string `mapstructure:"engagement_events"`
	} `mapstructure:"topics"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProvidersConfig selects the concrete backend behind each provider contract
// and carries the shared upstream-call policy.
type ProvidersConfig struct {
	Episodes    string        `mapstructure:"episodes"`    // dataset, postgres
	Engagements string        `mapstructure:"engagements"` // memory, postgres
	Users       string        `mapstructure:"users"`       // memory, postgres
	Vectors     string        `mapstructure:"vectors"`     // memory, pgvector
	VectorCache bool          `mapstructure:"vector_cache"`
	QueryTier   string        `mapstructure:"query_tier"` // none, pgvector, qdrant
	Dataset     DatasetConfig `mapstructure:"dataset"`

	FetchTimeout             time.Duration `mapstructure:"fetch_timeout"`
	RecordTimeout            time.Duration `mapstructure:"record_timeout"`
	MaxRetries               int           `mapstructure:"max_retries"`
	RetryBackoff             time.Duration `mapstructure:"retry_backoff"`
	DegradeOnUpstreamTimeout bool          `mapstructure:"degrade_on_upstream_timeout"`
	EmbeddingChunkSize       int           `mapstructure:"embedding_chunk_size"`
	EmbeddingCacheTTL        time.Duration `mapstructure:"embedding_cache_ttl"`
	EngagementFetchLimit     int           `mapstructure:"engagement_fetch_limit"`
}

type DatasetConfig struct {
	Path           string `mapstructure:"path"`
	SeedEmbeddings bool   `mapstructure:"seed_embeddings"`
}

type SessionConfig struct {
	Store           string        `mapstructure:"store"` // memory, redis
	Capacity        int           `mapstructure:"capacity"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	DefaultLimit    int           `mapstructure:"default_limit"`
	MaxLimit        int           `mapstructure:"max_limit"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Environment variable overrides
	viper.SetEnvPrefix("podrex")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Ranking.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.hot.max_retries", 3)
	viper.SetDefault("redis.hot.pool_size", 10)
	viper.SetDefault("redis.hot.timeout", "5s")
	viper.SetDefault("redis.cold.max_retries", 3)
	viper.SetDefault("redis.cold.pool_size", 5)
	viper.SetDefault("redis.cold.timeout", "15s")

	// Kafka defaults
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topics.engagement_events", "podrex.engagement.events")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Ranking defaults mirror DefaultRanking so file and env values merge
	// over the same canonical numbers.
	d := DefaultRanking()
	viper.SetDefault("ranking.algorithm_version", d.AlgorithmVersion)
	viper.SetDefault("ranking.strategy_version", d.StrategyVersion)
	viper.SetDefault("ranking.dataset_version", d.DatasetVersion)
	viper.SetDefault("ranking.embedding_dimension", d.EmbeddingDimension)
	viper.SetDefault("ranking.credibility_floor", d.CredibilityFloor)
	viper.SetDefault("ranking.combined_floor", d.CombinedFloor)
	viper.SetDefault("ranking.freshness_window_days", d.FreshnessWindowDays)
	viper.SetDefault("ranking.candidate_pool_size", d.CandidatePoolSize)
	viper.SetDefault("ranking.user_vector_limit", d.UserVectorLimit)
	viper.SetDefault("ranking.engagement_weights.click", d.EngagementWeights["click"])
	viper.SetDefault("ranking.engagement_weights.bookmark", d.EngagementWeights["bookmark"])
	viper.SetDefault("ranking.engagement_weights.listen", d.EngagementWeights["listen"])
	viper.SetDefault("ranking.use_weighted_engagements", d.UseWeightedEngagements)
	viper.SetDefault("ranking.weight_similarity", d.WeightSimilarity)
	viper.SetDefault("ranking.weight_quality", d.WeightQuality)
	viper.SetDefault("ranking.weight_recency", d.WeightRecency)
	viper.SetDefault("ranking.recency_lambda", d.RecencyLambda)
	viper.SetDefault("ranking.credibility_multiplier", d.CredibilityMultiplier)
	viper.SetDefault("ranking.max_quality_score", d.MaxQualityScore)
	viper.SetDefault("ranking.series_penalty_alpha", d.SeriesPenaltyAlpha)
	viper.SetDefault("ranking.max_episodes_per_series", d.MaxEpisodesPerSeries)
	viper.SetDefault("ranking.category_anchor_weight", d.CategoryAnchorWeight)
	viper.SetDefault("ranking.cold_start.weight_quality", d.ColdStart.WeightQuality)
	viper.SetDefault("ranking.cold_start.weight_recency", d.ColdStart.WeightRecency)
	viper.SetDefault("ranking.default_similarity_on_missing", d.DefaultSimilarityOnMissing)
	viper.SetDefault("ranking.sim_fallback_logging_enabled", d.SimFallbackLoggingEnabled)

	// Provider defaults
	viper.SetDefault("providers.episodes", "dataset")
	viper.SetDefault("providers.engagements", "memory")
	viper.SetDefault("providers.users", "memory")
	viper.SetDefault("providers.vectors", "memory")
	viper.SetDefault("providers.vector_cache", false)
	viper.SetDefault("providers.query_tier", "none")
	viper.SetDefault("providers.dataset.path", "./data/episodes.json")
	viper.SetDefault("providers.dataset.seed_embeddings", true)
	viper.SetDefault("providers.fetch_timeout", "5s")
	viper.SetDefault("providers.record_timeout", "3s")
	viper.SetDefault("providers.max_retries", 2)
	viper.SetDefault("providers.retry_backoff", "100ms")
	viper.SetDefault("providers.degrade_on_upstream_timeout", true)
	viper.SetDefault("providers.embedding_chunk_size", 100)
	viper.SetDefault("providers.embedding_cache_ttl", "24h")
	viper.SetDefault("providers.engagement_fetch_limit", 200)

	// Session defaults
	viper.SetDefault("session.store", "memory")
	viper.SetDefault("session.capacity", 10000)
	viper.SetDefault("session.ttl", "30m")
	viper.SetDefault("session.cleanup_interval", "5m")
	viper.SetDefault("session.default_limit", 10)
	viper.SetDefault("session.max_limit", 50)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
