package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/pkg/models"
)

// AdminHandler exposes the runtime ranking configuration. GET returns the
// live snapshot; PUT merges a partial override map over it. Updates apply to
// sessions created afterwards; in-flight requests keep the snapshot they
// started with.
type AdminHandler struct {
	logger  *logrus.Logger
	ranking *config.RankingStore
}

func NewAdminHandler(logger *logrus.Logger, ranking *config.RankingStore) *AdminHandler {
	return &AdminHandler{
		logger:  logger,
		ranking: ranking,
	}
}

// GetRankingConfig handles GET /api/v1/admin/config/ranking.
func (h *AdminHandler) GetRankingConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.ranking.Snapshot())
}

// UpdateRankingConfig handles PUT /api/v1/admin/config/ranking. Unknown keys
// and out-of-range values reject the whole update; the running config is
// never partially applied.
func (h *AdminHandler) UpdateRankingConfig(c *gin.Context) {
	var overrides map[string]interface{}
	if err := c.ShouldBindJSON(&overrides); err != nil {
		h.logger.WithError(err).Debug("Failed to bind ranking override request")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    string(models.ErrInputInvalid),
				"message": "invalid request body",
			},
		})
		return
	}

	updated, err := h.ranking.Update(overrides)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	h.logger.WithField("overrides", keys).Info("Ranking configuration updated")

	c.JSON(http.StatusOK, updated)
}
