package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/monitoring"
	"github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/response"
)

const healthPingTimeout = 2 * time.Second

// Health reports liveness. The database must answer a ping for the service to be healthy.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			response.Success(c, http.StatusOK, gin.H{"status": "ok"})
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			response.Error(c, errors.ErrStorage.WithInternal(err))
			return
		}

		ctx, cancel := context.WithTimeout(requestContext(c), healthPingTimeout)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			response.Error(c, errors.ErrStorage.WithInternal(err))
			return
		}

		response.Success(c, http.StatusOK, gin.H{"status": "ok", "database": "ok"})
	}
}

// Readiness runs the dependency probes and reports 503 unless every probe is up.
func Readiness(readiness *monitoring.Readiness) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := readiness.Evaluate(requestContext(c))
		status := http.StatusOK
		if !report.Ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"success":    report.Ready,
			"status":     report.Status,
			"checks":     report.Checks,
			"checked_at": time.Now().UTC(),
		})
	}
}
