package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DependencyCheck probes one backing service for the readiness endpoint.
// A critical failure flips readiness to unhealthy; a non-critical one only
// degrades it.
type DependencyCheck struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// HealthStatus is the readiness report body.
type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services,omitempty"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

type HealthHandler struct {
	logger  *logrus.Logger
	checks  []DependencyCheck
	timeout time.Duration
	group   singleflight.Group
}

func NewHealthHandler(logger *logrus.Logger, checks []DependencyCheck) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		checks:  checks,
		timeout: 2 * time.Second,
	}
}

// Live handles GET /health. It reports process liveness only and never
// touches a dependency.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// Ready handles GET /health/ready. Every registered dependency is probed
// under a shared deadline; concurrent probes coalesce into one dependency
// sweep so scraper bursts never multiply load on a struggling backend.
func (h *HealthHandler) Ready(c *gin.Context) {
	v, _, _ := h.group.Do("ready", func() (interface{}, error) {
		// Detached from the request context: the sweep outcome is shared
		// with callers whose requests outlive the first one.
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		return h.sweep(ctx), nil
	})
	status := v.(HealthStatus)

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, status)
}

func (h *HealthHandler) sweep(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]string, len(h.checks)),
	}

	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			status.Services[check.Name] = "unhealthy"
			if check.Critical {
				status.Critical = append(status.Critical, check.Name)
				status.Status = "unhealthy"
				h.logger.WithError(err).Errorf("Critical service %s is unhealthy", check.Name)
			} else {
				status.NonCritical = append(status.NonCritical, check.Name)
				if status.Status == "healthy" {
					status.Status = "degraded"
				}
				h.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", check.Name)
			}
			continue
		}
		status.Services[check.Name] = "healthy"
	}

	return status
}
