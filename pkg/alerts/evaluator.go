package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/slo"
)

// MetricQuery is the aggregate-query port the evaluator reads tenant
// metrics through.
type MetricQuery interface {
	GetSuccessRate(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
	GetLatencyPercentiles(ctx context.Context, tenantID string, from, to time.Time) (models.LatencyPercentiles, error)
	GetCurrentMonthUsage(ctx context.Context, tenantID string) (models.TenantUsage, error)
	GetHourlyCost(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
	GetMaxConsecutiveMcpFailures(ctx context.Context, tenantID string) (int64, error)
}

// PipelineHealth exposes the platform metrics owned by the pipeline monitor.
type PipelineHealth interface {
	BufferUsagePercent() int
	AggregateRefreshLagMs() int64
}

// SloCalculator computes error budgets for burn-rate rules.
type SloCalculator interface {
	CalculateErrorBudget(ctx context.Context, tenantID string, sloTarget float64, from, to time.Time) (slo.ErrorBudget, error)
}

// TenantSource looks up tenants for rule pairing.
type TenantSource interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
}

// Notifier delivers fired alerts. Failures are isolated per notifier.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, rule *models.AlertRule, inst *models.AlertInstance) error
}

// RuleSource lists the rules to evaluate.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]*models.AlertRule, error)
}

// InstanceRepository manages alert instance lifecycle.
type InstanceRepository interface {
	FindActiveByRule(ctx context.Context, ruleID string) (*models.AlertInstance, error)
	Insert(ctx context.Context, inst *models.AlertInstance) error
	Resolve(ctx context.Context, id string, at time.Time) error
}

// Evaluator evaluates alert rules and manages instance lifecycle: at most
// one ACTIVE instance per rule; the instance resolves exactly once when the
// breach clears.
type Evaluator struct {
	rules     RuleSource
	instances InstanceRepository
	query     MetricQuery
	health    PipelineHealth
	slo       SloCalculator
	baselines *BaselineCalculator
	tenants   TenantSource
	notifiers []Notifier

	logger *slog.Logger
}

// NewEvaluator creates an alert evaluator.
func NewEvaluator(
	rules RuleSource,
	instances InstanceRepository,
	query MetricQuery,
	health PipelineHealth,
	sloCalc SloCalculator,
	baselines *BaselineCalculator,
	tenants TenantSource,
	notifiers []Notifier,
) *Evaluator {
	if rules == nil || instances == nil || query == nil {
		panic("alerts.NewEvaluator: rules, instances, and query must not be nil")
	}
	return &Evaluator{
		rules:     rules,
		instances: instances,
		query:     query,
		health:    health,
		slo:       sloCalc,
		baselines: baselines,
		tenants:   tenants,
		notifiers: notifiers,
		logger:    slog.Default().With("component", "alert-evaluator"),
	}
}

// EvaluateAll runs one evaluation cycle over every enabled rule. Per-rule
// failures are logged and do not stop the cycle. Returns the instances
// fired during this cycle.
func (e *Evaluator) EvaluateAll(ctx context.Context) []*models.AlertInstance {
	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		e.logger.Error("Failed to list alert rules", "error", err)
		return nil
	}

	var fired []*models.AlertInstance
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return fired
		}
		inst, err := e.evaluateContained(ctx, rule)
		if err != nil {
			e.logger.Warn("Rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		if inst != nil {
			fired = append(fired, inst)
		}
	}
	return fired
}

// evaluateContained runs Evaluate and turns a panic into an error so one
// rule cannot abort the cycle.
func (e *Evaluator) evaluateContained(ctx context.Context, rule *models.AlertRule) (inst *models.AlertInstance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("rule %q panicked: %v", rule.Name, r)
		}
	}()
	return e.Evaluate(ctx, rule)
}

// Evaluate checks one rule, firing or resolving its instance as needed.
// Returns the newly-fired instance, if any.
func (e *Evaluator) Evaluate(ctx context.Context, rule *models.AlertRule) (*models.AlertInstance, error) {
	var tenant *models.Tenant
	if rule.TenantID != "" {
		if e.tenants == nil {
			return nil, fmt.Errorf("rule %q is tenant-scoped but no tenant source is configured", rule.Name)
		}
		t, err := e.tenants.FindByID(ctx, rule.TenantID)
		if err != nil {
			return nil, fmt.Errorf("lookup tenant %q: %w", rule.TenantID, err)
		}
		if t == nil {
			return nil, fmt.Errorf("rule %q references unknown tenant %q", rule.Name, rule.TenantID)
		}
		tenant = t
	}

	value, breach, evaluable, err := e.measure(ctx, rule, tenant)
	if err != nil {
		return nil, err
	}
	if !evaluable {
		return nil, nil
	}

	active, err := e.instances.FindActiveByRule(ctx, rule.ID)
	if err != nil {
		return nil, err
	}

	switch {
	case breach && active == nil:
		return e.fire(ctx, rule, value)
	case !breach && active != nil:
		if err := e.instances.Resolve(ctx, active.ID, time.Now()); err != nil {
			return nil, err
		}
		e.logger.Info("Alert resolved", "rule", rule.Name, "instance", active.ID)
	}
	return nil, nil
}

// measure computes the rule's current value and whether it breaches.
// evaluable is false when the rule cannot fire (e.g. baseline unavailable).
func (e *Evaluator) measure(ctx context.Context, rule *models.AlertRule, tenant *models.Tenant) (value float64, breach, evaluable bool, err error) {
	window := time.Duration(rule.WindowMinutes) * time.Minute
	if window <= 0 {
		window = 15 * time.Minute
	}
	to := time.Now()
	from := to.Add(-window)

	switch rule.Type {
	case models.RuleStaticThreshold:
		value, evaluable, err = e.currentValue(ctx, rule, tenant, from, to)
		if err != nil || !evaluable {
			return 0, false, false, err
		}
		return value, value > rule.Threshold, true, nil

	case models.RuleBaselineAnomaly:
		if tenant == nil {
			return 0, false, false, fmt.Errorf("baseline rule %q requires a tenant", rule.Name)
		}
		value, evaluable, err = e.currentValue(ctx, rule, tenant, from, to)
		if err != nil || !evaluable {
			return 0, false, false, err
		}
		if e.baselines == nil {
			return 0, false, false, fmt.Errorf("baseline rule %q: no baseline calculator configured", rule.Name)
		}
		baseline, err := e.baselines.GetBaseline(ctx, tenant.ID, rule.Metric)
		if err != nil {
			return 0, false, false, err
		}
		if baseline == nil {
			return 0, false, false, nil
		}
		// Threshold is the sigma multiplier for anomaly rules.
		return value, value > baseline.Mean+rule.Threshold*baseline.StdDev, true, nil

	case models.RuleErrorBudgetBurnRate:
		if tenant == nil {
			return 0, false, false, fmt.Errorf("burn-rate rule %q requires a tenant", rule.Name)
		}
		if e.slo == nil {
			return 0, false, false, fmt.Errorf("burn-rate rule %q: no SLO calculator configured", rule.Name)
		}
		budget, err := e.slo.CalculateErrorBudget(ctx, tenant.ID, tenant.SloAvailability, from, to)
		if err != nil {
			return 0, false, false, err
		}
		return budget.BurnRate, budget.BurnRate > rule.Threshold, true, nil

	default:
		return 0, false, false, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

// currentValue computes the present value of a metric for static and
// anomaly rules.
func (e *Evaluator) currentValue(ctx context.Context, rule *models.AlertRule, tenant *models.Tenant, from, to time.Time) (float64, bool, error) {
	tenantID := models.DefaultTenantID
	if tenant != nil {
		tenantID = tenant.ID
	}

	switch rule.Metric {
	case models.MetricErrorRate:
		rate, err := e.query.GetSuccessRate(ctx, tenantID, from, to)
		if err != nil {
			return 0, false, err
		}
		return 1 - rate, true, nil

	case models.MetricLatencyP99:
		p, err := e.query.GetLatencyPercentiles(ctx, tenantID, from, to)
		if err != nil {
			return 0, false, err
		}
		return float64(p.P99), true, nil

	case models.MetricHourlyCost:
		cost, err := e.query.GetHourlyCost(ctx, tenantID, from, to)
		if err != nil {
			return 0, false, err
		}
		return cost, true, nil

	case models.MetricTokenBudgetUsage:
		if tenant == nil || tenant.Quota.MaxTokensPerMonth <= 0 {
			return 0, false, nil
		}
		usage, err := e.query.GetCurrentMonthUsage(ctx, tenantID)
		if err != nil {
			return 0, false, err
		}
		return float64(usage.Tokens) / float64(tenant.Quota.MaxTokensPerMonth), true, nil

	case models.MetricMcpConsecutiveFailures:
		streak, err := e.query.GetMaxConsecutiveMcpFailures(ctx, tenantID)
		if err != nil {
			return 0, false, err
		}
		return float64(streak), true, nil

	case models.MetricPipelineBufferUsage:
		if e.health == nil {
			return 0, false, nil
		}
		return float64(e.health.BufferUsagePercent()), true, nil

	case models.MetricAggregateRefreshLagMs:
		if e.health == nil {
			return 0, false, nil
		}
		return float64(e.health.AggregateRefreshLagMs()), true, nil

	default:
		return 0, false, fmt.Errorf("unknown metric %q", rule.Metric)
	}
}

// fire inserts a new ACTIVE instance and dispatches it to every notifier;
// a notifier failure does not affect the others.
func (e *Evaluator) fire(ctx context.Context, rule *models.AlertRule, value float64) (*models.AlertInstance, error) {
	inst := &models.AlertInstance{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		TenantID:    rule.TenantID,
		Severity:    rule.Severity,
		Status:      models.AlertActive,
		Message:     fmt.Sprintf("%s: %s = %.4f breached threshold %.4f over %dm", rule.Name, rule.Metric, value, rule.Threshold, rule.WindowMinutes),
		MetricValue: value,
		Threshold:   rule.Threshold,
		FiredAt:     time.Now(),
	}
	if err := e.instances.Insert(ctx, inst); err != nil {
		return nil, err
	}
	e.logger.Info("Alert fired",
		"rule", rule.Name, "metric", rule.Metric, "value", value, "threshold", rule.Threshold)

	for _, n := range e.notifiers {
		if err := n.Notify(ctx, rule, inst); err != nil {
			e.logger.Warn("Alert notifier failed", "notifier", n.Name(), "rule", rule.Name, "error", err)
		}
	}
	return inst, nil
}
