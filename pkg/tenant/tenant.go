// Package tenant provides tenant metadata storage and per-request tenant
// resolution.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ErrNotFound is returned when a tenant does not exist.
var ErrNotFound = errors.New("tenant not found")

type contextKey string

// ambientKey carries the tenant ID through a request-scoped context. It is
// entered on request and dropped with the request context; there is no
// process-wide fallback.
const ambientKey contextKey = "tenant_id"

// NewContext stores the tenant ID in a request-scoped context.
func NewContext(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ambientKey, tenantID)
}

// FromContext extracts the tenant ID from the context, or "" if unset.
func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(ambientKey).(string)
	return v
}

// Store persists tenant metadata. Tenants are mutated only through Save.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a tenant store.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("tenant.NewStore: pool must not be nil")
	}
	return &Store{pool: pool}
}

const tenantColumns = `id, name, slug, plan, status,
	max_requests_per_month, max_tokens_per_month, max_users, max_agents, max_mcp_servers,
	slo_availability, slo_latency_p99_ms`

// FindByID returns the tenant, or (nil, nil) when it does not exist — the
// quota enforcer treats an unknown tenant as a bypass, not an error.
func (s *Store) FindByID(ctx context.Context, id string) (*models.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query tenant %q: %w", id, err)
	}
	return t, nil
}

// FindBySlug returns the tenant with the given slug, or ErrNotFound.
func (s *Store) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query tenant by slug %q: %w", slug, err)
	}
	return t, nil
}

// List returns all tenants ordered by ID.
func (s *Store) List(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Save inserts or updates a tenant by ID.
func (s *Store) Save(ctx context.Context, t *models.Tenant) (*models.Tenant, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("save tenant: id is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			max_requests_per_month = EXCLUDED.max_requests_per_month,
			max_tokens_per_month = EXCLUDED.max_tokens_per_month,
			max_users = EXCLUDED.max_users,
			max_agents = EXCLUDED.max_agents,
			max_mcp_servers = EXCLUDED.max_mcp_servers,
			slo_availability = EXCLUDED.slo_availability,
			slo_latency_p99_ms = EXCLUDED.slo_latency_p99_ms`,
		t.ID, t.Name, t.Slug, t.Plan, t.Status,
		t.Quota.MaxRequestsPerMonth, t.Quota.MaxTokensPerMonth,
		t.Quota.MaxUsers, t.Quota.MaxAgents, t.Quota.MaxMcpServers,
		t.SloAvailability, t.SloLatencyP99Ms)
	if err != nil {
		return nil, fmt.Errorf("save tenant %q: %w", t.ID, err)
	}
	return t, nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Plan, &t.Status,
		&t.Quota.MaxRequestsPerMonth, &t.Quota.MaxTokensPerMonth,
		&t.Quota.MaxUsers, &t.Quota.MaxAgents, &t.Quota.MaxMcpServers,
		&t.SloAvailability, &t.SloLatencyP99Ms)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
