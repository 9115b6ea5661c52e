package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/mcp"
	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/pipeline"
)

// retryDelay is the fixed pause between job retry attempts.
const retryDelay = 2 * time.Second

// McpGateway is the connection-manager port the runner drives for MCP_TOOL
// jobs.
type McpGateway interface {
	EnsureConnected(ctx context.Context, serverName string) bool
	Tool(serverName, toolName string) (*mcp.ToolCallback, bool)
}

// Runner executes one scheduled job: RUNNING mark, optional timeout wrapping
// the retry loop, type dispatch, outcome recording, and notification.
type Runner struct {
	jobs     JobStorage
	gateway  McpGateway
	hooks    *hooks.Registry
	policy   ToolApprovalPolicy   // optional
	approvals PendingApprovalStore // required when policy is set
	agents   AgentExecutor        // optional; AGENT jobs fail without it
	personas PersonaStore         // optional
	notify   *Notifier            // optional

	logger     *slog.Logger
	now        func() time.Time
	retryDelay time.Duration
}

// NewRunner creates a job runner. gateway is required for MCP_TOOL jobs;
// agents for AGENT jobs. hookRegistry may be nil (no hook chain).
func NewRunner(
	jobs JobStorage,
	gateway McpGateway,
	hookRegistry *hooks.Registry,
	policy ToolApprovalPolicy,
	approvals PendingApprovalStore,
	agents AgentExecutor,
	personas PersonaStore,
	notify *Notifier,
) *Runner {
	if jobs == nil {
		panic("scheduler.NewRunner: jobs must not be nil")
	}
	if policy != nil && approvals == nil {
		panic("scheduler.NewRunner: approvals required when policy is set")
	}
	return &Runner{
		jobs:      jobs,
		gateway:   gateway,
		hooks:     hookRegistry,
		policy:    policy,
		approvals: approvals,
		agents:    agents,
		personas:  personas,
		notify:    notify,
		logger:     slog.Default().With("component", "scheduler-runner"),
		now:        time.Now,
		retryDelay: retryDelay,
	}
}

// Run executes a job and persists the execution record. With dryRun set the
// execution proceeds identically but never touches the job's lastStatus or
// lastResult.
func (r *Runner) Run(ctx context.Context, job *models.ScheduledJob, dryRun bool) *models.ScheduledJobExecution {
	log := r.logger.With("job", job.Name, "job_id", job.ID, "dry_run", dryRun)
	started := r.now()

	if !dryRun {
		if err := r.jobs.MarkRunning(ctx, job.ID); err != nil {
			log.Warn("Failed to mark job running", "error", err)
		}
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if job.ExecutionTimeoutMs > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(job.ExecutionTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	result, err := r.runWithRetry(execCtx, job, log)

	completed := r.now()
	status := models.JobSuccess
	if err != nil {
		status = models.JobFailed
		result = err.Error()
		log.Error("Job failed", "error", err)
	} else {
		log.Info("Job completed", "duration", completed.Sub(started))
	}

	if !dryRun {
		if err := r.jobs.RecordOutcome(context.WithoutCancel(ctx), job.ID, status, result); err != nil {
			log.Warn("Failed to record job outcome", "error", err)
		}
	}

	exec := &models.ScheduledJobExecution{
		JobID:       job.ID,
		Status:      status,
		Result:      models.Truncate(result, models.MaxJobResultLength),
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		DryRun:      dryRun,
	}
	if err := r.jobs.InsertExecution(context.WithoutCancel(ctx), exec); err != nil {
		log.Warn("Failed to persist execution record", "error", err)
	}

	if r.notify != nil && !dryRun {
		r.notify.JobFinished(context.WithoutCancel(ctx), job, exec)
	}
	return exec
}

// runWithRetry attempts the job up to maxRetryCount extra times with a fixed
// delay. Cancellation is never retried.
func (r *Runner) runWithRetry(ctx context.Context, job *models.ScheduledJob, log *slog.Logger) (string, error) {
	attempts := 1
	if job.RetryOnFailure && job.MaxRetryCount > 0 {
		attempts += job.MaxRetryCount
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := r.execute(ctx, job)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		if attempt < attempts {
			log.Warn("Job attempt failed, retrying",
				"attempt", attempt, "max_attempts", attempts, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}
	}
	return "", lastErr
}

func (r *Runner) execute(ctx context.Context, job *models.ScheduledJob) (string, error) {
	switch job.JobType {
	case models.JobMcpTool:
		return r.executeMcpTool(ctx, job)
	case models.JobAgent:
		return r.executeAgent(ctx, job)
	default:
		return "", fmt.Errorf("unknown job type %q", job.JobType)
	}
}

func (r *Runner) executeMcpTool(ctx context.Context, job *models.ScheduledJob) (string, error) {
	if r.gateway == nil {
		return "", fmt.Errorf("no MCP gateway configured")
	}
	if !r.gateway.EnsureConnected(ctx, job.McpServerName) {
		return "", fmt.Errorf("%w: %s", ErrMcpDisconnected, job.McpServerName)
	}
	tool, ok := r.gateway.Tool(job.McpServerName, job.ToolName)
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrToolNotFound, job.ToolName, job.McpServerName)
	}

	hc := hooks.NewContext("job-" + job.ID)
	hc.UserID = "scheduler"
	hc.Channel = "scheduler"
	hc.SetMeta(hooks.MetaSchedulerJobID, job.ID)
	hc.SetMeta(hooks.MetaSchedulerJobName, job.Name)
	hc.SetMeta(hooks.MetaToolSource(job.ToolName), string(models.ToolSourceMCP))
	hc.SetMeta(hooks.MetaMcpServer(job.ToolName), job.McpServerName)

	if r.hooks != nil {
		res, err := r.hooks.Run(ctx, hooks.BeforeToolCall, hc, nil)
		if err != nil {
			return "", err
		}
		if res.Rejected {
			return "", fmt.Errorf("%w: %s", ErrHookRejected, res.Reason)
		}
	}

	if r.policy != nil {
		required, err := r.policy.RequiresApproval(ctx, job.McpServerName, job.ToolName)
		if err != nil {
			return "", fmt.Errorf("approval policy lookup: %w", err)
		}
		if required {
			approved, err := r.approvals.RequestApproval(ctx, ApprovalRequest{
				JobID:      job.ID,
				JobName:    job.Name,
				ServerName: job.McpServerName,
				ToolName:   job.ToolName,
				Arguments:  job.ToolArguments,
			})
			if err != nil {
				return "", fmt.Errorf("approval wait: %w", err)
			}
			if !approved {
				return "", fmt.Errorf("%w: %s on %s", ErrApprovalRejected, job.ToolName, job.McpServerName)
			}
		}
	}

	start := r.now()
	result, callErr := tool.Call(ctx, job.ToolArguments)
	elapsed := time.Since(start).Milliseconds()

	if r.hooks != nil {
		outcome := &pipeline.ToolCallOutcome{
			ToolName:      job.ToolName,
			Source:        models.ToolSourceMCP,
			McpServerName: job.McpServerName,
			Success:       callErr == nil,
			DurationMs:    elapsed,
		}
		if callErr != nil {
			outcome.ErrorClass = fmt.Sprintf("%T", callErr)
			outcome.ErrorMessage = callErr.Error()
		}
		if _, err := r.hooks.Run(ctx, hooks.AfterToolCall, hc, outcome); err != nil {
			return "", err
		}
	}

	if callErr != nil {
		return "", fmt.Errorf("tool %s on %s: %w", job.ToolName, job.McpServerName, callErr)
	}
	return result, nil
}

func (r *Runner) executeAgent(ctx context.Context, job *models.ScheduledJob) (string, error) {
	if r.agents == nil {
		return "", fmt.Errorf("no agent executor configured")
	}
	systemPrompt, err := r.resolveSystemPrompt(ctx, job)
	if err != nil {
		return "", err
	}

	cmd := AgentCommand{
		SystemPrompt: systemPrompt,
		Prompt:       job.AgentPrompt,
		Model:        job.AgentModel,
		MaxToolCalls: job.AgentMaxToolCalls,
		UserID:       "scheduler",
		Channel:      "scheduler",
		Metadata: map[string]any{
			hooks.MetaSchedulerJobID:   job.ID,
			hooks.MetaSchedulerJobName: job.Name,
		},
	}
	result, err := r.agents.Execute(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("agent execution: %w", err)
	}
	return result, nil
}

// resolveSystemPrompt walks the fallback chain: job override → persona →
// default persona → built-in default.
func (r *Runner) resolveSystemPrompt(ctx context.Context, job *models.ScheduledJob) (string, error) {
	if job.AgentSystemPrompt != "" {
		return job.AgentSystemPrompt, nil
	}
	if r.personas != nil {
		if job.PersonaID != "" {
			prompt, err := r.personas.SystemPrompt(ctx, job.PersonaID)
			if err != nil {
				return "", fmt.Errorf("persona %q lookup: %w", job.PersonaID, err)
			}
			if prompt != "" {
				return prompt, nil
			}
		}
		prompt, err := r.personas.DefaultSystemPrompt(ctx)
		if err != nil {
			return "", fmt.Errorf("default persona lookup: %w", err)
		}
		if prompt != "" {
			return prompt, nil
		}
	}
	return DefaultSystemPrompt, nil
}
