package config

import (
	"fmt"
	"math"
	"sync"

	"github.com/temcen/podrex/pkg/models"
)

// RankingConfig is the complete knob set consumed by the ranking pipeline.
// Values are frozen per request via Snapshot; runtime overrides applied
// through the RankingStore take effect on subsequent session creates only.
type RankingConfig struct {
	AlgorithmVersion   string `mapstructure:"algorithm_version" json:"algorithm_version"`
	StrategyVersion    string `mapstructure:"strategy_version" json:"strategy_version"`
	DatasetVersion     string `mapstructure:"dataset_version" json:"dataset_version"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension" json:"embedding_dimension"`

	CredibilityFloor    int `mapstructure:"credibility_floor" json:"credibility_floor"`
	CombinedFloor       int `mapstructure:"combined_floor" json:"combined_floor"`
	FreshnessWindowDays int `mapstructure:"freshness_window_days" json:"freshness_window_days"`
	CandidatePoolSize   int `mapstructure:"candidate_pool_size" json:"candidate_pool_size"`

	UserVectorLimit        int                `mapstructure:"user_vector_limit" json:"user_vector_limit"`
	EngagementWeights      map[string]float64 `mapstructure:"engagement_weights" json:"engagement_weights"`
	UseWeightedEngagements bool               `mapstructure:"use_weighted_engagements" json:"use_weighted_engagements"`
	CategoryAnchorWeight   float64            `mapstructure:"category_anchor_weight" json:"category_anchor_weight"`

	WeightSimilarity      float64         `mapstructure:"weight_similarity" json:"weight_similarity"`
	WeightQuality         float64         `mapstructure:"weight_quality" json:"weight_quality"`
	WeightRecency         float64         `mapstructure:"weight_recency" json:"weight_recency"`
	ColdStart             ColdStartConfig `mapstructure:"cold_start" json:"cold_start"`
	RecencyLambda         float64         `mapstructure:"recency_lambda" json:"recency_lambda"`
	CredibilityMultiplier float64         `mapstructure:"credibility_multiplier" json:"credibility_multiplier"`
	MaxQualityScore       float64         `mapstructure:"max_quality_score" json:"max_quality_score"`

	SeriesPenaltyAlpha   float64 `mapstructure:"series_penalty_alpha" json:"series_penalty_alpha"`
	MaxEpisodesPerSeries int     `mapstructure:"max_episodes_per_series" json:"max_episodes_per_series"`

	DefaultSimilarityOnMissing float64 `mapstructure:"default_similarity_on_missing" json:"default_similarity_on_missing"`
	SimFallbackLoggingEnabled  bool    `mapstructure:"sim_fallback_logging_enabled" json:"sim_fallback_logging_enabled"`
}

type ColdStartConfig struct {
	WeightQuality float64 `mapstructure:"weight_quality" json:"weight_quality"`
	WeightRecency float64 `mapstructure:"weight_recency" json:"weight_recency"`
}

// DefaultRanking is the single canonical source of ranking defaults. File,
// environment, and admin overrides all merge over these values.
func DefaultRanking() RankingConfig {
	return RankingConfig{
		AlgorithmVersion:    "v2",
		StrategyVersion:     "1",
		DatasetVersion:      "dev",
		EmbeddingDimension:  1536,
		CredibilityFloor:    2,
		CombinedFloor:       5,
		FreshnessWindowDays: 90,
		CandidatePoolSize:   150,
		UserVectorLimit:     10,
		EngagementWeights: map[string]float64{
			"click":    1.0,
			"bookmark": 10.0,
			"listen":   1.5,
		},
		UseWeightedEngagements: true,
		CategoryAnchorWeight:   0.15,
		WeightSimilarity:       0.85,
		WeightQuality:          0.10,
		WeightRecency:          0.05,
		ColdStart: ColdStartConfig{
			WeightQuality: 0.60,
			WeightRecency: 0.40,
		},
		RecencyLambda:         0.03,
		CredibilityMultiplier: 1.5,
		// Cap on the pre-normalization quality numerator. The default equals
		// the maximum attainable numerator (1.5*4 + 4), so it only bites when
		// lowered explicitly.
		MaxQualityScore:            10.0,
		SeriesPenaltyAlpha:         0.7,
		MaxEpisodesPerSeries:       2,
		DefaultSimilarityOnMissing: 0.5,
		SimFallbackLoggingEnabled:  true,
	}
}

// Namespace derives the deterministic embedding namespace for this config.
func (c *RankingConfig) Namespace() string {
	return fmt.Sprintf("%s_s%s__%s", c.AlgorithmVersion, c.StrategyVersion, c.DatasetVersion)
}

// Clone returns a deep copy safe to hand out as a per-request snapshot.
func (c *RankingConfig) Clone() RankingConfig {
	out := *c
	out.EngagementWeights = make(map[string]float64, len(c.EngagementWeights))
	for k, v := range c.EngagementWeights {
		out.EngagementWeights[k] = v
	}
	return out
}

func (c *RankingConfig) Validate() error {
	for name, w := range map[string]float64{
		"weight_similarity":         c.WeightSimilarity,
		"weight_quality":            c.WeightQuality,
		"weight_recency":            c.WeightRecency,
		"cold_start.weight_quality": c.ColdStart.WeightQuality,
		"cold_start.weight_recency": c.ColdStart.WeightRecency,
	} {
		if !isFinite(w) {
			return models.NewError(models.ErrConfigInvalid, "%s must be finite", name)
		}
		if w < 0 {
			return models.NewError(models.ErrConfigInvalid, "%s must not be negative", name)
		}
	}
	if c.CredibilityFloor < 0 || c.CredibilityFloor > 4 {
		return models.NewError(models.ErrConfigInvalid, "credibility_floor must be in [0,4], got %d", c.CredibilityFloor)
	}
	if c.CombinedFloor < 0 || c.CombinedFloor > 8 {
		return models.NewError(models.ErrConfigInvalid, "combined_floor must be in [0,8], got %d", c.CombinedFloor)
	}
	if c.CombinedFloor < c.CredibilityFloor {
		return models.NewError(models.ErrConfigInvalid, "combined_floor %d is inconsistent with credibility_floor %d", c.CombinedFloor, c.CredibilityFloor)
	}
	if c.UserVectorLimit < 0 {
		return models.NewError(models.ErrConfigInvalid, "user_vector_limit must not be negative")
	}
	if c.FreshnessWindowDays < 0 {
		return models.NewError(models.ErrConfigInvalid, "freshness_window_days must not be negative")
	}
	if c.CandidatePoolSize <= 0 {
		return models.NewError(models.ErrConfigInvalid, "candidate_pool_size must be positive")
	}
	if c.EmbeddingDimension <= 0 {
		return models.NewError(models.ErrConfigInvalid, "embedding_dimension must be positive")
	}
	if !isFinite(c.SeriesPenaltyAlpha) || c.SeriesPenaltyAlpha <= 0 || c.SeriesPenaltyAlpha > 1 {
		return models.NewError(models.ErrConfigInvalid, "series_penalty_alpha must be in (0,1]")
	}
	if c.MaxEpisodesPerSeries <= 0 {
		return models.NewError(models.ErrConfigInvalid, "max_episodes_per_series must be positive")
	}
	if !isFinite(c.CategoryAnchorWeight) || c.CategoryAnchorWeight < 0 || c.CategoryAnchorWeight > 1 {
		return models.NewError(models.ErrConfigInvalid, "category_anchor_weight must be in [0,1]")
	}
	if !isFinite(c.DefaultSimilarityOnMissing) || c.DefaultSimilarityOnMissing < 0 || c.DefaultSimilarityOnMissing > 1 {
		return models.NewError(models.ErrConfigInvalid, "default_similarity_on_missing must be in [0,1]")
	}
	if !isFinite(c.RecencyLambda) || c.RecencyLambda < 0 {
		return models.NewError(models.ErrConfigInvalid, "recency_lambda must be non-negative and finite")
	}
	if !isFinite(c.CredibilityMultiplier) || c.CredibilityMultiplier < 0 {
		return models.NewError(models.ErrConfigInvalid, "credibility_multiplier must be non-negative and finite")
	}
	if !isFinite(c.MaxQualityScore) || c.MaxQualityScore <= 0 {
		return models.NewError(models.ErrConfigInvalid, "max_quality_score must be positive and finite")
	}
	for kind, w := range c.EngagementWeights {
		if !isFinite(w) {
			return models.NewError(models.ErrConfigInvalid, "engagement_weights.%s must be finite", kind)
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ApplyOverrides merges a documented override map onto a copy of the config.
// Unknown keys are rejected so typos never silently change ranking behavior.
func (c *RankingConfig) ApplyOverrides(overrides map[string]interface{}) (RankingConfig, error) {
	out := c.Clone()
	for key, raw := range overrides {
		var err error
		switch key {
		case "algorithm_version":
			out.AlgorithmVersion, err = asString(raw)
		case "strategy_version":
			out.StrategyVersion, err = asString(raw)
		case "dataset_version":
			out.DatasetVersion, err = asString(raw)
		case "embedding_dimension":
			out.EmbeddingDimension, err = asInt(raw)
		case "credibility_floor":
			out.CredibilityFloor, err = asInt(raw)
		case "combined_floor":
			out.CombinedFloor, err = asInt(raw)
		case "freshness_window_days":
			out.FreshnessWindowDays, err = asInt(raw)
		case "candidate_pool_size":
			out.CandidatePoolSize, err = asInt(raw)
		case "user_vector_limit":
			out.UserVectorLimit, err = asInt(raw)
		case "use_weighted_engagements":
			out.UseWeightedEngagements, err = asBool(raw)
		case "category_anchor_weight":
			out.CategoryAnchorWeight, err = asFloat(raw)
		case "weight_similarity":
			out.WeightSimilarity, err = asFloat(raw)
		case "weight_quality":
			out.WeightQuality, err = asFloat(raw)
		case "weight_recency":
			out.WeightRecency, err = asFloat(raw)
		case "recency_lambda":
			out.RecencyLambda, err = asFloat(raw)
		case "credibility_multiplier":
			out.CredibilityMultiplier, err = asFloat(raw)
		case "max_quality_score":
			out.MaxQualityScore, err = asFloat(raw)
		case "series_penalty_alpha":
			out.SeriesPenaltyAlpha, err = asFloat(raw)
		case "max_episodes_per_series":
			out.MaxEpisodesPerSeries, err = asInt(raw)
		case "default_similarity_on_missing":
			out.DefaultSimilarityOnMissing, err = asFloat(raw)
		case "sim_fallback_logging_enabled":
			out.SimFallbackLoggingEnabled, err = asBool(raw)
		case "engagement_weights":
			err = mergeWeightMap(out.EngagementWeights, raw)
		case "cold_start":
			err = mergeColdStart(&out.ColdStart, raw)
		default:
			return RankingConfig{}, models.NewError(models.ErrConfigInvalid, "unknown ranking option %q", key)
		}
		if err != nil {
			return RankingConfig{}, models.WrapError(models.ErrConfigInvalid, err, "invalid value for %q", key)
		}
	}
	if err := out.Validate(); err != nil {
		return RankingConfig{}, err
	}
	return out, nil
}

func mergeWeightMap(dst map[string]float64, raw interface{}) error {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected object, got %T", raw)
	}
	for kind, v := range m {
		w, err := asFloat(v)
		if err != nil {
			return fmt.Errorf("weight for %q: %w", kind, err)
		}
		dst[kind] = w
	}
	return nil
}

func mergeColdStart(dst *ColdStartConfig, raw interface{}) error {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected object, got %T", raw)
	}
	for key, v := range m {
		w, err := asFloat(v)
		if err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
		switch key {
		case "weight_quality":
			dst.WeightQuality = w
		case "weight_recency":
			dst.WeightRecency = w
		default:
			return fmt.Errorf("unknown cold_start option %q", key)
		}
	}
	return nil
}

func asString(raw interface{}) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", raw)
	}
	return s, nil
}

func asBool(raw interface{}) (bool, error) {
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", raw)
	}
	return b, nil
}

func asFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

func asInt(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}

// RankingStore holds the live ranking config behind a lock. Handlers update
// it; the session orchestrator snapshots it once per request.
type RankingStore struct {
	mu      sync.RWMutex
	current RankingConfig
}

func NewRankingStore(cfg RankingConfig) (*RankingStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RankingStore{current: cfg.Clone()}, nil
}

// Snapshot returns a deep copy frozen for the duration of one request.
func (s *RankingStore) Snapshot() RankingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update validates and swaps in an overridden config. In-flight requests keep
// the snapshot they started with.
func (s *RankingStore) Update(overrides map[string]interface{}) (RankingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.current.ApplyOverrides(overrides)
	if err != nil {
		return RankingConfig{}, err
	}
	s.current = next
	return next.Clone(), nil
}
