package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
	Error           string `json:"error,omitempty"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Pinger is the part of a pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck is one named database checked by HealthHandler.
type HealthCheck struct {
	Name string
	Pool Pinger
}

// HealthHandler pings every check and reports 503 if any fails.
func HealthHandler(checks ...HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		dbs := make(map[string]*PoolStats, len(checks))
		for _, chk := range checks {
			stats := &PoolStats{}
			if p, ok := chk.Pool.(*pgxpool.Pool); ok {
				stats = GetPoolStats(p)
			}
			if err := chk.Pool.Ping(ctx); err != nil {
				stats.Healthy = false
				stats.Error = err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
			} else {
				stats.Healthy = true
			}
			dbs[chk.Name] = stats
		}

		return c.JSON(code, map[string]interface{}{
			"status":    status,
			"databases": dbs,
		})
	}
}
