package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus describes database reachability for the ops API.
type HealthStatus struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// Health pings the database and reports reachability plus latency.
func Health(ctx context.Context, pool *pgxpool.Pool) (HealthStatus, error) {
	start := time.Now()
	err := pool.Ping(ctx)
	status := HealthStatus{
		Reachable: err == nil,
		Latency:   time.Since(start),
	}
	if err != nil {
		status.Error = err.Error()
		return status, fmt.Errorf("database ping failed: %w", err)
	}
	return status, nil
}
