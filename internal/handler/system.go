package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/response"
)

// HealthCheck reports whether the feature and guardian store answers.
func (h *Handlers) HealthCheck(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "down"})
		return
	}
	response.OK(c, gin.H{"status": "healthy", "database": "up"})
}
