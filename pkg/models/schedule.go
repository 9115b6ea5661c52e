package models

import "time"

// JobType selects what a scheduled job executes.
type JobType string

// Job types.
const (
	JobMcpTool JobType = "MCP_TOOL"
	JobAgent   JobType = "AGENT"
)

// JobStatus is the outcome of the most recent run of a job.
type JobStatus string

// Job statuses.
const (
	JobSuccess JobStatus = "SUCCESS"
	JobFailed  JobStatus = "FAILED"
	JobRunning JobStatus = "RUNNING"
	JobSkipped JobStatus = "SKIPPED"
)

// MaxJobResultLength caps persisted scheduler results.
const MaxJobResultLength = 50_000

// ScheduledJob is a cron-driven MCP-tool or agent invocation.
// Name is unique across jobs.
type ScheduledJob struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	CronExpression string  `json:"cron_expression"`
	Timezone       string  `json:"timezone"`
	JobType        JobType `json:"job_type"`

	// MCP_TOOL fields
	McpServerName string         `json:"mcp_server_name,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolArguments map[string]any `json:"tool_arguments,omitempty"`

	// AGENT fields
	AgentPrompt       string `json:"agent_prompt,omitempty"`
	PersonaID         string `json:"persona_id,omitempty"`
	AgentSystemPrompt string `json:"agent_system_prompt,omitempty"`
	AgentModel        string `json:"agent_model,omitempty"`
	AgentMaxToolCalls int    `json:"agent_max_tool_calls,omitempty"`

	RetryOnFailure     bool       `json:"retry_on_failure"`
	MaxRetryCount      int        `json:"max_retry_count"`
	ExecutionTimeoutMs int64      `json:"execution_timeout_ms,omitempty"`
	SlackChannelID     string     `json:"slack_channel_id,omitempty"`
	TeamsWebhookURL    string     `json:"teams_webhook_url,omitempty"`
	Enabled            bool       `json:"enabled"`
	LastRunAt          *time.Time `json:"last_run_at,omitempty"`
	LastStatus         JobStatus  `json:"last_status,omitempty"`
	LastResult         string     `json:"last_result,omitempty"`
}

// ScheduledJobExecution is the persisted record of one job run.
type ScheduledJobExecution struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	Result      string    `json:"result,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	DryRun      bool      `json:"dry_run"`
}
