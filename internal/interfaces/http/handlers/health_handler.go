package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stratumsec/tokend/pkg/logger"
)

// HealthChecker reports the health of one dependency.
type HealthChecker func(ctx context.Context) error

// HealthHandler provides liveness and readiness endpoints.
type HealthHandler struct {
	checks map[string]HealthChecker
	log    logger.Logger
}

// NewHealthHandler creates a new HealthHandler. checks maps a
// dependency name to its probe.
func NewHealthHandler(checks map[string]HealthChecker, log logger.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, log: log}
}

// Liveness handles GET /health/live. The process answering is the check.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness handles GET /health/ready: every dependency must answer.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(gin.H, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn(ctx, "readiness check failed", logger.String("dependency", name))
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not_ready"}[status == http.StatusOK],
		"checks": results,
	})
}
