package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus reports database connectivity plus statistics for both
// connection surfaces: the database/sql handle (migrations, health) and the
// pgx pool (store queries).
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`

	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`

	PoolTotalConns    int32 `json:"pool_total_conns"`
	PoolAcquiredConns int32 `json:"pool_acquired_conns"`
	PoolIdleConns     int32 `json:"pool_idle_conns"`
}

// Health pings the database and collects connection statistics.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
	}, nil
}

// HealthWithPool extends Health with pgx pool statistics.
func (c *Client) HealthWithPool(ctx context.Context) (*HealthStatus, error) {
	status, err := Health(ctx, c.db)
	if err != nil {
		return status, err
	}
	poolStats := c.pool.Stat()
	status.PoolTotalConns = poolStats.TotalConns()
	status.PoolAcquiredConns = poolStats.AcquiredConns()
	status.PoolIdleConns = poolStats.IdleConns()
	return status, nil
}
