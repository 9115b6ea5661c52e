package scheduler

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

// JobStore persists scheduled jobs and their execution history.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a job store.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	if pool == nil {
		panic("scheduler.NewJobStore: pool must not be nil")
	}
	return &JobStore{pool: pool}
}

const jobColumns = `id, name, cron_expression, timezone, job_type,
	mcp_server_name, tool_name, tool_arguments,
	agent_prompt, persona_id, agent_system_prompt, agent_model, agent_max_tool_calls,
	retry_on_failure, max_retry_count, execution_timeout_ms,
	slack_channel_id, teams_webhook_url, enabled, last_run_at, last_status, last_result`

// Create inserts a new job, generating its ID.
func (s *JobStore) Create(ctx context.Context, job *models.ScheduledJob) (*models.ScheduledJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		job.ID, job.Name, job.CronExpression, job.Timezone, job.JobType,
		job.McpServerName, job.ToolName, job.ToolArguments,
		job.AgentPrompt, job.PersonaID, job.AgentSystemPrompt, job.AgentModel, job.AgentMaxToolCalls,
		job.RetryOnFailure, job.MaxRetryCount, nullableInt64(job.ExecutionTimeoutMs),
		job.SlackChannelID, job.TeamsWebhookURL, job.Enabled, job.LastRunAt, nullableStatus(job.LastStatus), job.LastResult)
	if err != nil {
		return nil, fmt.Errorf("create job %q: %w", job.Name, err)
	}
	return job, nil
}

// Update rewrites a job's definition.
func (s *JobStore) Update(ctx context.Context, job *models.ScheduledJob) (*models.ScheduledJob, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_jobs SET
			name = $2, cron_expression = $3, timezone = $4, job_type = $5,
			mcp_server_name = $6, tool_name = $7, tool_arguments = $8,
			agent_prompt = $9, persona_id = $10, agent_system_prompt = $11,
			agent_model = $12, agent_max_tool_calls = $13,
			retry_on_failure = $14, max_retry_count = $15, execution_timeout_ms = $16,
			slack_channel_id = $17, teams_webhook_url = $18, enabled = $19
		WHERE id = $1`,
		job.ID, job.Name, job.CronExpression, job.Timezone, job.JobType,
		job.McpServerName, job.ToolName, job.ToolArguments,
		job.AgentPrompt, job.PersonaID, job.AgentSystemPrompt,
		job.AgentModel, job.AgentMaxToolCalls,
		job.RetryOnFailure, job.MaxRetryCount, nullableInt64(job.ExecutionTimeoutMs),
		job.SlackChannelID, job.TeamsWebhookURL, job.Enabled)
	if err != nil {
		return nil, fmt.Errorf("update job %q: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Delete removes a job and its execution history.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Get returns one job, or ErrJobNotFound.
func (s *JobStore) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}
	return job, nil
}

// ListEnabled returns all enabled jobs.
func (s *JobStore) ListEnabled(ctx context.Context) ([]*models.ScheduledJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list enabled jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// MarkRunning sets the job's status to RUNNING at execution start.
func (s *JobStore) MarkRunning(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_jobs SET last_status = $2, last_run_at = $3 WHERE id = $1`,
		id, models.JobRunning, time.Now())
	if err != nil {
		return fmt.Errorf("mark job %q running: %w", id, err)
	}
	return nil
}

// RecordOutcome writes the job's terminal status and truncated result.
func (s *JobStore) RecordOutcome(ctx context.Context, id string, status models.JobStatus, result string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_jobs SET last_status = $2, last_result = $3 WHERE id = $1`,
		id, status, models.Truncate(result, models.MaxJobResultLength))
	if err != nil {
		return fmt.Errorf("record outcome for job %q: %w", id, err)
	}
	return nil
}

// InsertExecution persists one execution record.
func (s *JobStore) InsertExecution(ctx context.Context, exec *models.ScheduledJobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_job_executions
			(id, job_id, status, result, started_at, completed_at, duration_ms, dry_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		exec.ID, exec.JobID, exec.Status,
		models.Truncate(exec.Result, models.MaxJobResultLength),
		exec.StartedAt, exec.CompletedAt, exec.DurationMs, exec.DryRun)
	if err != nil {
		return fmt.Errorf("insert execution for job %q: %w", exec.JobID, err)
	}
	return nil
}

// ListExecutions returns the most recent executions of a job.
func (s *JobStore) ListExecutions(ctx context.Context, jobID string, limit int) ([]*models.ScheduledJobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, status, result, started_at, completed_at, duration_ms, dry_run
		FROM scheduled_job_executions
		WHERE job_id = $1 ORDER BY started_at DESC LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for job %q: %w", jobID, err)
	}
	defer rows.Close()

	var out []*models.ScheduledJobExecution
	for rows.Next() {
		var e models.ScheduledJobExecution
		if err := rows.Scan(&e.ID, &e.JobID, &e.Status, &e.Result,
			&e.StartedAt, &e.CompletedAt, &e.DurationMs, &e.DryRun); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// PruneExecutions removes execution records older than the retention window.
func (s *JobStore) PruneExecutions(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scheduled_job_executions WHERE started_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	var timeoutMs *int64
	var lastStatus *string
	err := row.Scan(&job.ID, &job.Name, &job.CronExpression, &job.Timezone, &job.JobType,
		&job.McpServerName, &job.ToolName, &job.ToolArguments,
		&job.AgentPrompt, &job.PersonaID, &job.AgentSystemPrompt, &job.AgentModel, &job.AgentMaxToolCalls,
		&job.RetryOnFailure, &job.MaxRetryCount, &timeoutMs,
		&job.SlackChannelID, &job.TeamsWebhookURL, &job.Enabled, &job.LastRunAt, &lastStatus, &job.LastResult)
	if err != nil {
		return nil, err
	}
	if timeoutMs != nil {
		job.ExecutionTimeoutMs = *timeoutMs
	}
	if lastStatus != nil {
		job.LastStatus = models.JobStatus(*lastStatus)
	}
	return &job, nil
}

func nullableInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nullableStatus(s models.JobStatus) *string {
	if s == "" {
		return nil
	}
	str := string(s)
	return &str
}
