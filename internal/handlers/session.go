package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/internal/middleware"
	"github.com/temcen/podrex/internal/session"
	"github.com/temcen/podrex/pkg/models"
)

// SessionHandler exposes the session lifecycle over HTTP: create a ranked
// queue, page through it, record engagements against it.
type SessionHandler struct {
	logger       *logrus.Logger
	orchestrator *session.Orchestrator
	validator    *validator.Validate
}

func NewSessionHandler(logger *logrus.Logger, orchestrator *session.Orchestrator) *SessionHandler {
	return &SessionHandler{
		logger:       logger,
		orchestrator: orchestrator,
		validator:    validator.New(),
	}
}

// Create handles POST /sessions/create. An empty body is a valid fully
// anonymous cold-start request.
func (h *SessionHandler) Create(c *gin.Context) {
	var req models.SessionCreateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.WithError(err).Debug("Failed to bind session create request")
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    string(models.ErrInputInvalid),
					"message": "invalid request body",
				},
			})
			return
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		respondError(c, h.logger, models.NewError(models.ErrInputInvalid, "%s", err.Error()))
		return
	}
	if req.UserID == "" {
		req.UserID = middleware.UserID(c)
	}

	resp, err := h.orchestrator.CreateSession(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Next handles POST /sessions/:id/next. The body is optional; without a
// count the server default page size applies.
func (h *SessionHandler) Next(c *gin.Context) {
	var req models.SessionNextRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.WithError(err).Debug("Failed to bind session next request")
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    string(models.ErrInputInvalid),
					"message": "invalid request body",
				},
			})
			return
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		respondError(c, h.logger, models.NewError(models.ErrInputInvalid, "%s", err.Error()))
		return
	}

	resp, err := h.orchestrator.NextPage(c.Request.Context(), c.Param("id"), req.Count)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Engage handles POST /sessions/:id/engage.
func (h *SessionHandler) Engage(c *gin.Context) {
	var req models.SessionEngageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Debug("Failed to bind engage request")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    string(models.ErrInputInvalid),
				"message": "invalid request body",
			},
		})
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		respondError(c, h.logger, models.NewError(models.ErrInputInvalid, "%s", err.Error()))
		return
	}
	if req.UserID == "" {
		req.UserID = middleware.UserID(c)
	}

	resp, err := h.orchestrator.Engage(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
