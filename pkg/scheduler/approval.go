package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Approval decision states.
const (
	approvalPending  = "PENDING"
	approvalApproved = "APPROVED"
	approvalRejected = "REJECTED"
)

// approvalPollInterval is how often a blocked execution re-checks its
// pending approval row.
const approvalPollInterval = 2 * time.Second

// PgApprovalStore is the PostgreSQL-backed PendingApprovalStore. Approvals
// are decided out-of-band (ops API / dashboard); RequestApproval polls the
// row until a decision lands or the execution context expires.
type PgApprovalStore struct {
	pool *pgxpool.Pool
}

var _ PendingApprovalStore = (*PgApprovalStore)(nil)

// NewPgApprovalStore creates an approval store.
func NewPgApprovalStore(pool *pgxpool.Pool) *PgApprovalStore {
	if pool == nil {
		panic("scheduler.NewPgApprovalStore: pool must not be nil")
	}
	return &PgApprovalStore{pool: pool}
}

// RequestApproval records the request and blocks until approved or rejected.
// Returns (false, ctx.Err()) when the execution deadline expires first.
func (s *PgApprovalStore) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	id := uuid.New().String()
	requestedAt := req.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_approvals
			(id, job_id, job_name, server_name, tool_name, arguments, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, req.JobID, req.JobName, req.ServerName, req.ToolName, req.Arguments,
		approvalPending, requestedAt)
	if err != nil {
		return false, fmt.Errorf("record approval request: %w", err)
	}

	ticker := time.NewTicker(approvalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			var status string
			err := s.pool.QueryRow(ctx,
				`SELECT status FROM pending_approvals WHERE id = $1`, id).Scan(&status)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return false, fmt.Errorf("approval request %q disappeared", id)
				}
				return false, fmt.Errorf("poll approval request: %w", err)
			}
			switch status {
			case approvalApproved:
				return true, nil
			case approvalRejected:
				return false, nil
			}
		}
	}
}

// Decide resolves a pending approval. Used by the ops surface.
func (s *PgApprovalStore) Decide(ctx context.Context, id string, approve bool) error {
	status := approvalRejected
	if approve {
		status = approvalApproved
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_approvals SET status = $2, decided_at = $3
		WHERE id = $1 AND status = $4`,
		id, status, time.Now(), approvalPending)
	if err != nil {
		return fmt.Errorf("decide approval %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approval %q is not pending", id)
	}
	return nil
}

// PgToolPolicy reads the tool approval policy table. Tools without a row do
// not require approval.
type PgToolPolicy struct {
	pool *pgxpool.Pool
}

var _ ToolApprovalPolicy = (*PgToolPolicy)(nil)

// NewPgToolPolicy creates a tool policy source.
func NewPgToolPolicy(pool *pgxpool.Pool) *PgToolPolicy {
	if pool == nil {
		panic("scheduler.NewPgToolPolicy: pool must not be nil")
	}
	return &PgToolPolicy{pool: pool}
}

// RequiresApproval implements ToolApprovalPolicy.
func (p *PgToolPolicy) RequiresApproval(ctx context.Context, serverName, toolName string) (bool, error) {
	var required bool
	err := p.pool.QueryRow(ctx, `
		SELECT requires_approval FROM tool_policy
		WHERE server_name = $1 AND tool_name = $2`,
		serverName, toolName).Scan(&required)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("tool policy lookup %s/%s: %w", serverName, toolName, err)
	}
	return required, nil
}
