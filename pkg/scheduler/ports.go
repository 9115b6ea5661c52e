// Package scheduler runs cron-driven MCP-tool and agent jobs with retry,
// timeout, approval gating, and per-job execution history.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// Sentinel errors for the job execution path.
var (
	// ErrMcpDisconnected — the job's MCP server could not be brought to a
	// connected state.
	ErrMcpDisconnected = errors.New("mcp server disconnected")

	// ErrToolNotFound — the configured tool is not exposed by the server.
	ErrToolNotFound = errors.New("tool not found")

	// ErrApprovalRejected — the pending approval was denied.
	ErrApprovalRejected = errors.New("tool approval rejected")

	// ErrHookRejected — a before-hook rejected the execution.
	ErrHookRejected = errors.New("hook rejected execution")

	// ErrJobNotFound — the referenced job does not exist.
	ErrJobNotFound = errors.New("scheduled job not found")
)

// JobStorage is the persistence surface the runner and service share. The
// PostgreSQL JobStore satisfies it; tests substitute in-memory fakes.
type JobStorage interface {
	Create(ctx context.Context, job *models.ScheduledJob) (*models.ScheduledJob, error)
	Update(ctx context.Context, job *models.ScheduledJob) (*models.ScheduledJob, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.ScheduledJob, error)
	ListEnabled(ctx context.Context) ([]*models.ScheduledJob, error)
	MarkRunning(ctx context.Context, id string) error
	RecordOutcome(ctx context.Context, id string, status models.JobStatus, result string) error
	InsertExecution(ctx context.Context, exec *models.ScheduledJobExecution) error
}

// AgentCommand is the synthesized request handed to the agent executor for
// AGENT jobs.
type AgentCommand struct {
	SystemPrompt string
	Prompt       string
	Model        string
	MaxToolCalls int
	UserID       string
	Channel      string
	Metadata     map[string]any
}

// AgentExecutor runs an agent request to completion and returns its final
// response. The agent runtime itself is an external collaborator.
type AgentExecutor interface {
	Execute(ctx context.Context, cmd AgentCommand) (string, error)
}

// PersonaStore resolves persona system prompts. External collaborator; both
// lookups return "" when nothing is configured.
type PersonaStore interface {
	SystemPrompt(ctx context.Context, personaID string) (string, error)
	DefaultSystemPrompt(ctx context.Context) (string, error)
}

// DefaultSystemPrompt is the last-resort agent system prompt.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// ToolApprovalPolicy decides whether a tool invocation needs human approval.
type ToolApprovalPolicy interface {
	RequiresApproval(ctx context.Context, serverName, toolName string) (bool, error)
}

// ApprovalRequest identifies a tool invocation awaiting approval.
type ApprovalRequest struct {
	JobID      string
	JobName    string
	ServerName string
	ToolName   string
	Arguments  map[string]any
	RequestedAt time.Time
}

// PendingApprovalStore records approval requests and blocks the caller until
// a decision arrives or the context expires.
type PendingApprovalStore interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error)
}
