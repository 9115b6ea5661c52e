package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/slo"
)

// QueryService serves the windowed aggregates consumed by the quota
// enforcer, SLO service, and alert evaluator.
type QueryService struct {
	pool *pgxpool.Pool
}

// NewQueryService creates a query service.
func NewQueryService(pool *pgxpool.Pool) *QueryService {
	if pool == nil {
		panic("metrics.NewQueryService: pool must not be nil")
	}
	return &QueryService{pool: pool}
}

// GetSuccessRate returns successful/total over the window, or 1.0 with no
// requests.
func (q *QueryService) GetSuccessRate(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	rc, err := q.GetRequestCounts(ctx, tenantID, from, to)
	if err != nil {
		return 0, err
	}
	if rc.Total == 0 {
		return 1.0, nil
	}
	return float64(rc.Total-rc.Failed) / float64(rc.Total), nil
}

// GetRequestCounts implements slo.CountSource.
func (q *QueryService) GetRequestCounts(ctx context.Context, tenantID string, from, to time.Time) (slo.RequestCounts, error) {
	var rc slo.RequestCounts
	err := q.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT success)
		FROM metric_agent_executions
		WHERE tenant_id = $1 AND time >= $2 AND time < $3`,
		tenantID, from, to).Scan(&rc.Total, &rc.Failed)
	if err != nil {
		return slo.RequestCounts{}, fmt.Errorf("request counts for %q: %w", tenantID, err)
	}
	return rc, nil
}

// GetLatencyPercentiles returns p50/p95/p99 duration over the window.
func (q *QueryService) GetLatencyPercentiles(ctx context.Context, tenantID string, from, to time.Time) (models.LatencyPercentiles, error) {
	var p models.LatencyPercentiles
	err := q.pool.QueryRow(ctx, `
		SELECT
			COALESCE(percentile_cont(0.50) WITHIN GROUP (ORDER BY duration_ms), 0)::bigint,
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms), 0)::bigint,
			COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY duration_ms), 0)::bigint
		FROM metric_agent_executions
		WHERE tenant_id = $1 AND time >= $2 AND time < $3`,
		tenantID, from, to).Scan(&p.P50, &p.P95, &p.P99)
	if err != nil {
		return models.LatencyPercentiles{}, fmt.Errorf("latency percentiles for %q: %w", tenantID, err)
	}
	return p, nil
}

// GetCurrentMonthUsage returns the tenant's consumption since the start of
// the current calendar month (UTC).
func (q *QueryService) GetCurrentMonthUsage(ctx context.Context, tenantID string) (models.TenantUsage, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var usage models.TenantUsage
	err := q.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM metric_agent_executions
		WHERE tenant_id = $1 AND time >= $2`,
		tenantID, monthStart).Scan(&usage.Requests)
	if err != nil {
		return models.TenantUsage{}, fmt.Errorf("month request count for %q: %w", tenantID, err)
	}

	err = q.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_tokens), 0), COALESCE(SUM(estimated_cost_usd), 0)
		FROM metric_token_usage
		WHERE tenant_id = $1 AND time >= $2`,
		tenantID, monthStart).Scan(&usage.Tokens, &usage.CostUsd)
	if err != nil {
		return models.TenantUsage{}, fmt.Errorf("month token usage for %q: %w", tenantID, err)
	}
	return usage, nil
}

// GetHourlyCost returns the per-hour cost rate over the window.
func (q *QueryService) GetHourlyCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	hours := to.Sub(from).Hours()
	if hours <= 0 {
		return 0, nil
	}
	var total float64
	err := q.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(estimated_cost_usd), 0)
		FROM metric_token_usage
		WHERE tenant_id = $1 AND time >= $2 AND time < $3`,
		tenantID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("hourly cost for %q: %w", tenantID, err)
	}
	return total / hours, nil
}

// GetMaxConsecutiveMcpFailures returns the longest FAILED streak across the
// tenant's MCP servers over the last 24 hours. Streaks are computed with a
// gaps-and-islands grouping per server.
func (q *QueryService) GetMaxConsecutiveMcpFailures(ctx context.Context, tenantID string) (int64, error) {
	var maxStreak int64
	err := q.pool.QueryRow(ctx, `
		WITH runs AS (
			SELECT server_name, status,
				ROW_NUMBER() OVER (PARTITION BY server_name ORDER BY time)
				- ROW_NUMBER() OVER (PARTITION BY server_name, status ORDER BY time) AS grp
			FROM metric_mcp_health
			WHERE tenant_id = $1 AND time >= now() - interval '24 hours'
		)
		SELECT COALESCE(MAX(cnt), 0) FROM (
			SELECT COUNT(*) AS cnt
			FROM runs
			WHERE status = 'FAILED'
			GROUP BY server_name, grp
		) streaks`,
		tenantID).Scan(&maxStreak)
	if err != nil {
		return 0, fmt.Errorf("mcp failure streak for %q: %w", tenantID, err)
	}
	return maxStreak, nil
}

// GetAggregateRefreshLagMs returns milliseconds since the newest ingested
// execution row, or 0 when the store is empty.
func (q *QueryService) GetAggregateRefreshLagMs(ctx context.Context) (int64, error) {
	var lag int64
	err := q.pool.QueryRow(ctx, `
		SELECT COALESCE((EXTRACT(EPOCH FROM (now() - MAX(time))) * 1000)::bigint, 0)
		FROM metric_agent_executions`).Scan(&lag)
	if err != nil {
		return 0, fmt.Errorf("aggregate refresh lag: %w", err)
	}
	if lag < 0 {
		lag = 0
	}
	return lag, nil
}

// GetApdexCounts buckets the window's request latencies.
func (q *QueryService) GetApdexCounts(ctx context.Context, tenantID string, from, to time.Time) (slo.ApdexCounts, error) {
	var a slo.ApdexCounts
	err := q.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE duration_ms <= $4),
			COUNT(*) FILTER (WHERE duration_ms > $4 AND duration_ms <= $5),
			COUNT(*) FILTER (WHERE duration_ms > $5)
		FROM metric_agent_executions
		WHERE tenant_id = $1 AND time >= $2 AND time < $3`,
		tenantID, from, to, slo.ApdexSatisfiedMs, slo.ApdexToleratingMs).
		Scan(&a.Satisfied, &a.Tolerating, &a.Frustrated)
	if err != nil {
		return slo.ApdexCounts{}, fmt.Errorf("apdex counts for %q: %w", tenantID, err)
	}
	return a, nil
}

// QueryBaseline computes the hourly-bucketed mean/stddev of a metric over
// the trailing 7 days, excluding the current hour. Supported metrics:
// error_rate, latency_p99, hourly_cost.
func (q *QueryService) QueryBaseline(ctx context.Context, tenantID, metric string) (*models.Baseline, error) {
	var query string
	switch metric {
	case models.MetricErrorRate:
		query = `
			WITH hourly AS (
				SELECT date_trunc('hour', time) AS bucket,
					AVG(CASE WHEN success THEN 0.0 ELSE 1.0 END) AS val
				FROM metric_agent_executions
				WHERE tenant_id = $1
					AND time >= now() - interval '7 days'
					AND time < date_trunc('hour', now())
				GROUP BY 1
			)
			SELECT COALESCE(AVG(val), 0), COALESCE(STDDEV_POP(val), 0), COUNT(*) FROM hourly`
	case models.MetricLatencyP99:
		query = `
			WITH hourly AS (
				SELECT date_trunc('hour', time) AS bucket,
					percentile_cont(0.99) WITHIN GROUP (ORDER BY duration_ms) AS val
				FROM metric_agent_executions
				WHERE tenant_id = $1
					AND time >= now() - interval '7 days'
					AND time < date_trunc('hour', now())
				GROUP BY 1
			)
			SELECT COALESCE(AVG(val), 0), COALESCE(STDDEV_POP(val), 0), COUNT(*) FROM hourly`
	case models.MetricHourlyCost:
		query = `
			WITH hourly AS (
				SELECT date_trunc('hour', time) AS bucket,
					SUM(estimated_cost_usd) AS val
				FROM metric_token_usage
				WHERE tenant_id = $1
					AND time >= now() - interval '7 days'
					AND time < date_trunc('hour', now())
				GROUP BY 1
			)
			SELECT COALESCE(AVG(val), 0), COALESCE(STDDEV_POP(val), 0), COUNT(*) FROM hourly`
	default:
		return nil, fmt.Errorf("no baseline query for metric %q", metric)
	}

	b := &models.Baseline{TenantID: tenantID, Metric: metric}
	if err := q.pool.QueryRow(ctx, query, tenantID).Scan(&b.Mean, &b.StdDev, &b.SampleCount); err != nil {
		return nil, fmt.Errorf("baseline query for %q/%s: %w", tenantID, metric, err)
	}
	return b, nil
}
