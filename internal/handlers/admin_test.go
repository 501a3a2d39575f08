package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/pkg/models"
)

func TestAdminAPI_GetRankingConfig(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/admin/config/ranking", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg config.RankingConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, "v2", cfg.AlgorithmVersion)
	assert.Equal(t, 3, cfg.EmbeddingDimension)
	assert.InDelta(t, 0.85, cfg.WeightSimilarity, 1e-9)
	assert.InDelta(t, 10.0, cfg.EngagementWeights["bookmark"], 1e-9)
}

func TestAdminAPI_UpdateRankingConfig(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodPut, "/api/v1/admin/config/ranking", map[string]interface{}{
		"weight_similarity": 0.7,
		"weight_quality":    0.2,
		"weight_recency":    0.1,
		"candidate_pool_size": 40,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var updated config.RankingConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.InDelta(t, 0.7, updated.WeightSimilarity, 1e-9)
	assert.Equal(t, 40, updated.CandidatePoolSize)

	// The live store reflects the update.
	snapshot := f.rankingStore.Snapshot()
	assert.InDelta(t, 0.7, snapshot.WeightSimilarity, 1e-9)
	assert.Equal(t, 40, snapshot.CandidatePoolSize)
}

func TestAdminAPI_UpdateRejections(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name         string
		body         interface{}
		expectedCode int
		expectedKind string
	}{
		{
			name:         "unknown option",
			body:         map[string]interface{}{"no_such_knob": 1},
			expectedCode: http.StatusUnprocessableEntity,
			expectedKind: string(models.ErrConfigInvalid),
		},
		{
			name:         "out of range floor",
			body:         map[string]interface{}{"credibility_floor": 9},
			expectedCode: http.StatusUnprocessableEntity,
			expectedKind: string(models.ErrConfigInvalid),
		},
		{
			name:         "wrong value type",
			body:         map[string]interface{}{"weight_similarity": "fast"},
			expectedCode: http.StatusUnprocessableEntity,
			expectedKind: string(models.ErrConfigInvalid),
		},
		{
			name:         "malformed body",
			body:         `{"weight_similarity"`,
			expectedCode: http.StatusBadRequest,
			expectedKind: string(models.ErrInputInvalid),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPut, "/api/v1/admin/config/ranking", tt.body, nil)
			assert.Equal(t, tt.expectedCode, w.Code)
			assert.Equal(t, tt.expectedKind, decodeError(t, w).Error.Code)
		})
	}

	// A rejected update must not leak into the running config.
	snapshot := f.rankingStore.Snapshot()
	assert.Equal(t, 2, snapshot.CredibilityFloor)
	assert.InDelta(t, 0.85, snapshot.WeightSimilarity, 1e-9)
}
