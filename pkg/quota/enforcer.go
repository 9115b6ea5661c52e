// Package quota enforces per-tenant request and token quotas on the request
// hot path. The enforcer runs as an early BeforeAgentStart hook: a local
// counter keeps most requests off the database, and the monthly-usage lookup
// is guarded by a circuit breaker. Infrastructure faults fail open; policy
// faults fail closed.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/models"
)

// EnforcerOrder places the quota gate near the front of the hook chain.
const EnforcerOrder = 5

// warnFraction is the usage fraction at which the once-per-month warning
// fires and the slow path engages.
const warnFraction = 0.9

// TenantSource looks up tenant metadata. A nil tenant with nil error means
// the tenant is unknown (enforcement is bypassed).
type TenantSource interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
}

// UsageSource fetches the tenant's current-month consumption.
type UsageSource interface {
	GetCurrentMonthUsage(ctx context.Context, tenantID string) (models.TenantUsage, error)
}

// EventPublisher is the non-blocking pipeline publish port.
type EventPublisher interface {
	Publish(ev models.MetricEvent) bool
}

// BreakerConfig tunes the circuit breaker guarding the usage lookup.
type BreakerConfig struct {
	FailureThreshold uint32        // consecutive failures before opening, default 5
	ResetTimeout     time.Duration // open → half-open delay, default 30s
	HalfOpenTrials   uint32        // requests allowed while half-open, default 1
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenTrials == 0 {
		c.HalfOpenTrials = 1
	}
}

// Enforcer gates agent requests against tenant status and monthly quota.
type Enforcer struct {
	tenants   TenantSource
	usage     UsageSource
	publisher EventPublisher
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger

	// Per-tenant request counters since process start.
	localCounts sync.Map // tenantID → *atomic.Int64

	// Tenants already warned in the current calendar month.
	warnedMu    sync.Mutex
	warnedMonth string // "2006-01"
	warned      map[string]struct{}

	now func() time.Time
}

// NewEnforcer creates a quota enforcer.
func NewEnforcer(tenants TenantSource, usage UsageSource, publisher EventPublisher, breakerCfg BreakerConfig) *Enforcer {
	if tenants == nil {
		panic("quota.NewEnforcer: tenants must not be nil")
	}
	if usage == nil {
		panic("quota.NewEnforcer: usage must not be nil")
	}
	if publisher == nil {
		panic("quota.NewEnforcer: publisher must not be nil")
	}
	breakerCfg.applyDefaults()

	e := &Enforcer{
		tenants:   tenants,
		usage:     usage,
		publisher: publisher,
		warned:    make(map[string]struct{}),
		logger:    slog.Default().With("component", "quota-enforcer"),
		now:       time.Now,
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tenant-usage",
		MaxRequests: breakerCfg.HalfOpenTrials,
		Timeout:     breakerCfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerCfg.FailureThreshold
		},
	})
	return e
}

// Hook returns the BeforeAgentStart capability record at order 5.
func (e *Enforcer) Hook() *hooks.Hook {
	return &hooks.Hook{
		Name:        "quota-enforcer",
		Order:       EnforcerOrder,
		Enabled:     true,
		FailOnError: false,
		Kinds:       map[hooks.Kind]bool{hooks.BeforeAgentStart: true},
		Invoke: func(ctx context.Context, _ hooks.Kind, hc *hooks.Context, _ any) (hooks.Result, error) {
			return e.Check(ctx, hc)
		},
	}
}

// Check runs the quota gate for one request. Every non-reject outcome is
// Continue: lookup failures, breaker-open, and unknown tenants all fail
// open. Cancellation is re-raised.
func (e *Enforcer) Check(ctx context.Context, hc *hooks.Context) (hooks.Result, error) {
	tenantID := hc.MetaString(hooks.MetaTenantID)
	if tenantID == "" || tenantID == models.DefaultTenantID {
		return hooks.Continue(), nil
	}

	localCount := e.incrementLocal(tenantID)

	tenant, err := e.tenants.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return hooks.Result{}, err
		}
		e.logger.Warn("Tenant lookup failed, allowing request", "tenant_id", tenantID, "error", err)
		return hooks.Continue(), nil
	}
	if tenant == nil {
		e.logger.Warn("Unknown tenant, allowing request", "tenant_id", tenantID)
		return hooks.Continue(), nil
	}

	switch tenant.Status {
	case models.TenantSuspended:
		e.publishQuotaEvent(tenantID, models.QuotaRejectedSuspended, 0, 0, "tenant suspended")
		return hooks.Reject(fmt.Sprintf("Tenant %s is SUSPENDED", tenantID)), nil
	case models.TenantDeactivated:
		e.publishQuotaEvent(tenantID, models.QuotaRejectedDeactivated, 0, 0, "tenant deactivated")
		return hooks.Reject(fmt.Sprintf("Tenant %s is DEACTIVATED", tenantID)), nil
	}

	warnThreshold := int64(warnFraction * float64(tenant.Quota.MaxRequestsPerMonth))

	// Fast path: far from the limit, skip the database entirely.
	if localCount < warnThreshold {
		return hooks.Continue(), nil
	}

	usage, err := e.fetchUsage(ctx, tenantID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return hooks.Result{}, err
		}
		e.logger.Warn("Usage lookup failed, allowing request", "tenant_id", tenantID, "error", err)
		return hooks.Continue(), nil
	}

	switch {
	case usage.Requests >= tenant.Quota.MaxRequestsPerMonth:
		e.publishQuotaEvent(tenantID, models.QuotaRejectedRequests,
			usage.Requests, tenant.Quota.MaxRequestsPerMonth, "monthly request quota exceeded")
		return hooks.Reject("Monthly request quota exceeded"), nil
	case usage.Tokens >= tenant.Quota.MaxTokensPerMonth:
		e.publishQuotaEvent(tenantID, models.QuotaRejectedTokens,
			usage.Tokens, tenant.Quota.MaxTokensPerMonth, "monthly token quota exceeded")
		return hooks.Reject("Monthly token quota exceeded"), nil
	case usage.Requests >= warnThreshold && e.markWarned(tenantID):
		e.publishQuotaEvent(tenantID, models.QuotaWarning,
			usage.Requests, tenant.Quota.MaxRequestsPerMonth, "90% quota used")
	}
	return hooks.Continue(), nil
}

// incrementLocal bumps and returns the tenant's process-local request count.
func (e *Enforcer) incrementLocal(tenantID string) int64 {
	v, _ := e.localCounts.LoadOrStore(tenantID, new(atomic.Int64))
	return v.(*atomic.Int64).Add(1)
}

// fetchUsage wraps the usage lookup in the circuit breaker. ErrOpenState and
// ErrTooManyRequests surface like any other infrastructure fault (fail-open
// at the caller).
func (e *Enforcer) fetchUsage(ctx context.Context, tenantID string) (models.TenantUsage, error) {
	v, err := e.breaker.Execute(func() (any, error) {
		return e.usage.GetCurrentMonthUsage(ctx, tenantID)
	})
	if err != nil {
		return models.TenantUsage{}, err
	}
	return v.(models.TenantUsage), nil
}

// markWarned records the 90% warning for the current calendar month.
// Returns false when the tenant was already warned this month.
func (e *Enforcer) markWarned(tenantID string) bool {
	month := e.now().Format("2006-01")
	e.warnedMu.Lock()
	defer e.warnedMu.Unlock()
	if e.warnedMonth != month {
		e.warnedMonth = month
		e.warned = make(map[string]struct{})
	}
	if _, done := e.warned[tenantID]; done {
		return false
	}
	e.warned[tenantID] = struct{}{}
	return true
}

func (e *Enforcer) publishQuotaEvent(tenantID string, action models.QuotaAction, current, limit int64, reason string) {
	e.publisher.Publish(&models.QuotaEvent{
		EventBase:    models.EventBase{TenantID: tenantID},
		Action:       action,
		CurrentUsage: current,
		QuotaLimit:   limit,
		Reason:       reason,
	})
}
