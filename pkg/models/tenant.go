package models

// TenantPlan is the subscription plan of a tenant.
type TenantPlan string

// Tenant plans.
const (
	PlanStarter    TenantPlan = "STARTER"
	PlanBusiness   TenantPlan = "BUSINESS"
	PlanEnterprise TenantPlan = "ENTERPRISE"
)

// TenantStatus is the lifecycle status of a tenant.
type TenantStatus string

// Tenant statuses.
const (
	TenantActive      TenantStatus = "ACTIVE"
	TenantSuspended   TenantStatus = "SUSPENDED"
	TenantDeactivated TenantStatus = "DEACTIVATED"
)

// TenantQuota holds the per-tenant monthly and structural limits.
type TenantQuota struct {
	MaxRequestsPerMonth int64 `json:"max_requests_per_month"`
	MaxTokensPerMonth   int64 `json:"max_tokens_per_month"`
	MaxUsers            int   `json:"max_users"`
	MaxAgents           int   `json:"max_agents"`
	MaxMcpServers       int   `json:"max_mcp_servers"`
}

// Tenant is the unit of isolation for metrics, quotas, and alerting.
// Mutated only through TenantStore.Save.
type Tenant struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Slug            string       `json:"slug"`
	Plan            TenantPlan   `json:"plan"`
	Status          TenantStatus `json:"status"`
	Quota           TenantQuota  `json:"quota"`
	SloAvailability float64      `json:"slo_availability"`
	SloLatencyP99Ms int64        `json:"slo_latency_p99_ms"`
}

// TenantUsage is the current-month consumption of a tenant.
type TenantUsage struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	CostUsd  float64 `json:"cost_usd"`
}
