package models

import "time"

// RuleType selects the evaluation strategy for an alert rule.
type RuleType string

// Rule types.
const (
	RuleStaticThreshold     RuleType = "STATIC_THRESHOLD"
	RuleBaselineAnomaly     RuleType = "BASELINE_ANOMALY"
	RuleErrorBudgetBurnRate RuleType = "ERROR_BUDGET_BURN_RATE"
)

// Alert metrics. Tenant-scoped unless noted.
const (
	MetricErrorRate              = "error_rate"
	MetricLatencyP99             = "latency_p99"
	MetricHourlyCost             = "hourly_cost"
	MetricBurnRate               = "burn_rate"
	MetricTokenBudgetUsage       = "token_budget_usage"
	MetricMcpConsecutiveFailures = "mcp_consecutive_failures"
	// Platform-wide metrics read from the pipeline health monitor.
	MetricPipelineBufferUsage   = "pipeline_buffer_usage"
	MetricAggregateRefreshLagMs = "aggregate_refresh_lag_ms"
)

// Severity orders alert instances by urgency.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// AlertStatus is the lifecycle state of an alert instance.
type AlertStatus string

// Alert statuses.
const (
	AlertActive   AlertStatus = "ACTIVE"
	AlertResolved AlertStatus = "RESOLVED"
)

// AlertRule defines a condition evaluated periodically against tenant or
// platform metrics. TenantID empty means platform-wide.
type AlertRule struct {
	ID            string   `json:"id"`
	TenantID      string   `json:"tenant_id,omitempty"`
	Name          string   `json:"name"`
	Type          RuleType `json:"type"`
	Metric        string   `json:"metric"`
	Threshold     float64  `json:"threshold"`
	WindowMinutes int      `json:"window_minutes"`
	Severity      Severity `json:"severity"`
	Enabled       bool     `json:"enabled"`
	PlatformOnly  bool     `json:"platform_only"`
}

// AlertInstance is a fired occurrence of a rule. At most one ACTIVE instance
// exists per rule at any time.
type AlertInstance struct {
	ID          string      `json:"id"`
	RuleID      string      `json:"rule_id"`
	TenantID    string      `json:"tenant_id,omitempty"`
	Severity    Severity    `json:"severity"`
	Status      AlertStatus `json:"status"`
	Message     string      `json:"message"`
	MetricValue float64     `json:"metric_value"`
	Threshold   float64     `json:"threshold"`
	FiredAt     time.Time   `json:"fired_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
}

// Baseline is the historical distribution of a metric for one tenant,
// used by BASELINE_ANOMALY rules. Valid only when SampleCount >= 24.
type Baseline struct {
	TenantID    string  `json:"tenant_id"`
	Metric      string  `json:"metric"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	SampleCount int64   `json:"sample_count"`
}

// MinBaselineSamples is the minimum sample count for a baseline to be usable.
const MinBaselineSamples = 24

// LatencyPercentiles holds the latency distribution over a window.
type LatencyPercentiles struct {
	P50 int64 `json:"p50"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
}
