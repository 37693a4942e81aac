package checks

import (
	"context"
	"time"

	"github.com/charlesng35/careteam/internal/monitoring"
)

const defaultRedisTimeout = 2 * time.Second

// Pinger is satisfied by cache.RedisStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Redis probes the lockout counter backend. When Redis is configured but the
// client is nil the service has fallen back to database counters and reports degraded.
func Redis(client Pinger, enabled bool, timeout time.Duration) monitoring.Probe {
	return monitoring.NewProbe("redis", func(ctx context.Context) monitoring.Result {
		start := time.Now()
		switch {
		case !enabled:
			return monitoring.Result{Status: monitoring.StatusUp, Details: "redis disabled"}
		case client == nil:
			return monitoring.Result{Status: monitoring.StatusDegraded, Details: "redis unavailable, using database counters"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, orDefault(timeout, defaultRedisTimeout))
		defer cancel()
		return monitoring.FromError(client.Ping(probeCtx), time.Since(start))
	})
}
