package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/database"
	"github.com/charlesng35/careteam/internal/monitoring"
)

const defaultDatabaseTimeout = 2 * time.Second

// Database pings the primary store that holds teams, invitations and MFA enrollments.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Probe {
	return monitoring.NewProbe("database", func(ctx context.Context) monitoring.Result {
		start := time.Now()
		if db == nil {
			return monitoring.Result{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, orDefault(timeout, defaultDatabaseTimeout))
		defer cancel()
		return monitoring.FromError(database.Ping(probeCtx, db), time.Since(start))
	})
}

func orDefault(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
