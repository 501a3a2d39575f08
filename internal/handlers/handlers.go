package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/internal/config"
	"github.com/temcen/podrex/internal/session"
	"github.com/temcen/podrex/pkg/models"
)

type Handlers struct {
	Session *SessionHandler
	Admin   *AdminHandler
	Health  *HealthHandler
}

func New(logger *logrus.Logger, orchestrator *session.Orchestrator, rankingStore *config.RankingStore, checks []DependencyCheck) *Handlers {
	return &Handlers{
		Session: NewSessionHandler(logger, orchestrator),
		Admin:   NewAdminHandler(logger, rankingStore),
		Health:  NewHealthHandler(logger, checks),
	}
}

// statusForKind maps error kinds to HTTP statuses. Malformed bodies are
// rejected with 400 before a handler runs; kinds surfacing here are semantic
// failures from the orchestrator or the config store.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrInputInvalid, models.ErrConfigInvalid, models.ErrDimensionMismatch:
		return http.StatusUnprocessableEntity
	case models.ErrSessionNotFound:
		return http.StatusNotFound
	case models.ErrUpstreamUnavailable, models.ErrUpstreamTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	kind, ok := models.KindOf(err)
	if !ok {
		kind = models.ErrInternalInvariant
	}
	status := statusForKind(kind)

	// Only invariant violations hide their detail; upstream outage messages
	// name the failing provider without the wrapped error text.
	message := "internal server error"
	var typed *models.Error
	if kind != models.ErrInternalInvariant && errors.As(err, &typed) {
		message = typed.Message
	}
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed")
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    string(kind),
			"message": message,
		},
	})
}
