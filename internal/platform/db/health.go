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

// Check describes one store backend for the health endpoint. Stats is
// optional; only the postgres pool reports any.
type Check struct {
	Driver string
	Ping   func(ctx context.Context) error
	Stats  func() *PoolStats
}

// PoolCheck builds the Check for a pgx pool.
func PoolCheck(pool *pgxpool.Pool) Check {
	return Check{
		Driver: "postgres",
		Ping:   pool.Ping,
		Stats:  func() *PoolStats { return GetPoolStats(pool) },
	}
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(check Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{
			"status": "healthy",
			"driver": check.Driver,
		}
		var stats *PoolStats
		if check.Stats != nil {
			stats = check.Stats()
			body["pool"] = stats
		}

		var err error
		if check.Ping != nil {
			err = check.Ping(ctx)
		}
		if err != nil {
			if stats != nil {
				stats.Healthy = false
			}
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		return c.JSON(http.StatusOK, body)
	}
}
