// Package alerts evaluates alert rules against tenant and platform metrics,
// manages alert instance lifecycle, and dispatches notifications.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// RuleStore persists alert rules.
type RuleStore struct {
	pool *pgxpool.Pool
}

// NewRuleStore creates a rule store.
func NewRuleStore(pool *pgxpool.Pool) *RuleStore {
	if pool == nil {
		panic("alerts.NewRuleStore: pool must not be nil")
	}
	return &RuleStore{pool: pool}
}

const ruleColumns = `id, tenant_id, name, type, metric, threshold, window_minutes, severity, enabled, platform_only`

// ListEnabled returns all enabled rules.
func (s *RuleStore) ListEnabled(ctx context.Context) ([]*models.AlertRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled alert rules: %w", err)
	}
	defer rows.Close()

	var out []*models.AlertRule
	for rows.Next() {
		var r models.AlertRule
		var tenantID *string
		if err := rows.Scan(&r.ID, &tenantID, &r.Name, &r.Type, &r.Metric, &r.Threshold,
			&r.WindowMinutes, &r.Severity, &r.Enabled, &r.PlatformOnly); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		if tenantID != nil {
			r.TenantID = *tenantID
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Save upserts a rule, generating an ID when absent.
func (s *RuleStore) Save(ctx context.Context, r *models.AlertRule) (*models.AlertRule, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	var tenantID *string
	if r.TenantID != "" {
		tenantID = &r.TenantID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			metric = EXCLUDED.metric,
			threshold = EXCLUDED.threshold,
			window_minutes = EXCLUDED.window_minutes,
			severity = EXCLUDED.severity,
			enabled = EXCLUDED.enabled,
			platform_only = EXCLUDED.platform_only`,
		r.ID, tenantID, r.Name, r.Type, r.Metric, r.Threshold,
		r.WindowMinutes, r.Severity, r.Enabled, r.PlatformOnly)
	if err != nil {
		return nil, fmt.Errorf("save alert rule %q: %w", r.Name, err)
	}
	return r, nil
}

// InstanceStore persists fired alert instances. The table carries a partial
// unique index on (rule_id) WHERE status = 'ACTIVE', backing the
// one-active-instance-per-rule invariant.
type InstanceStore struct {
	pool *pgxpool.Pool
}

// NewInstanceStore creates an instance store.
func NewInstanceStore(pool *pgxpool.Pool) *InstanceStore {
	if pool == nil {
		panic("alerts.NewInstanceStore: pool must not be nil")
	}
	return &InstanceStore{pool: pool}
}

const instanceColumns = `id, rule_id, tenant_id, severity, status, message, metric_value, threshold, fired_at, resolved_at`

// FindActiveByRule returns the rule's ACTIVE instance, or (nil, nil).
func (s *InstanceStore) FindActiveByRule(ctx context.Context, ruleID string) (*models.AlertInstance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM alert_instances
		 WHERE rule_id = $1 AND status = $2`, ruleID, models.AlertActive)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active alert for rule %q: %w", ruleID, err)
	}
	return inst, nil
}

// ListActive returns all ACTIVE instances, most recent first.
func (s *InstanceStore) ListActive(ctx context.Context) ([]*models.AlertInstance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM alert_instances
		 WHERE status = $1 ORDER BY fired_at DESC`, models.AlertActive)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.AlertInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Insert persists a new instance.
func (s *InstanceStore) Insert(ctx context.Context, inst *models.AlertInstance) error {
	var tenantID *string
	if inst.TenantID != "" {
		tenantID = &inst.TenantID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inst.ID, inst.RuleID, tenantID, inst.Severity, inst.Status, inst.Message,
		inst.MetricValue, inst.Threshold, inst.FiredAt, inst.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert alert instance for rule %q: %w", inst.RuleID, err)
	}
	return nil
}

// Resolve marks an instance RESOLVED at the given time.
func (s *InstanceStore) Resolve(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_instances SET status = $1, resolved_at = $2
		WHERE id = $3 AND status = $4`,
		models.AlertResolved, at, id, models.AlertActive)
	if err != nil {
		return fmt.Errorf("resolve alert instance %q: %w", id, err)
	}
	return nil
}

func scanInstance(row pgx.Row) (*models.AlertInstance, error) {
	var inst models.AlertInstance
	var tenantID *string
	err := row.Scan(&inst.ID, &inst.RuleID, &tenantID, &inst.Severity, &inst.Status,
		&inst.Message, &inst.MetricValue, &inst.Threshold, &inst.FiredAt, &inst.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if tenantID != nil {
		inst.TenantID = *tenantID
	}
	return &inst, nil
}
