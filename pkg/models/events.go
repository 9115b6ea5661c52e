// Package models defines the core domain types shared across the control
// plane: metric events, tenants, alert rules, MCP server definitions, and
// scheduled jobs.
package models

import "time"

// EventKind identifies the concrete type of a MetricEvent.
// Each kind maps 1:1 to a persisted table.
type EventKind string

// Metric event kinds.
const (
	KindAgentExecution EventKind = "agent_execution"
	KindToolCall       EventKind = "tool_call"
	KindTokenUsage     EventKind = "token_usage"
	KindSession        EventKind = "session"
	KindGuard          EventKind = "guard"
	KindMcpHealth      EventKind = "mcp_health"
	KindQuota          EventKind = "quota"
	KindEvalResult     EventKind = "eval_result"
)

// DefaultTenantID is the tenant assigned to events that carry no explicit
// tenant. Quota enforcement bypasses this tenant.
const DefaultTenantID = "default"

// MaxMessageLength is the boundary truncation limit for message-like fields
// (errorMessage, reasonDetail, failureDetail).
const MaxMessageLength = 500

// MetricEvent is the tagged-variant interface implemented by all pipeline
// event types. Time is stamped on publish and never mutated afterwards.
type MetricEvent interface {
	Kind() EventKind
	EventTime() time.Time
	SetEventTime(t time.Time)
	Tenant() string
}

// EventBase carries the fields common to every metric event.
type EventBase struct {
	Time     time.Time `json:"time"`
	TenantID string    `json:"tenant_id"`
}

// EventTime returns the publish timestamp.
func (b *EventBase) EventTime() time.Time { return b.Time }

// SetEventTime stamps the publish timestamp. The pipeline only calls this
// when the time is unset.
func (b *EventBase) SetEventTime(t time.Time) { b.Time = t }

// Tenant returns the event's tenant, defaulting to DefaultTenantID.
func (b *EventBase) Tenant() string {
	if b.TenantID == "" {
		return DefaultTenantID
	}
	return b.TenantID
}

// ToolSource distinguishes local tools from MCP-provided tools.
type ToolSource string

// Tool sources.
const (
	ToolSourceLocal ToolSource = "local"
	ToolSourceMCP   ToolSource = "mcp"
)

// GuardAction is the outcome of a guard decision.
type GuardAction string

// Guard actions.
const (
	GuardAllowed  GuardAction = "allowed"
	GuardRejected GuardAction = "rejected"
	GuardModified GuardAction = "modified"
)

// QuotaAction classifies a quota enforcement outcome.
type QuotaAction string

// Quota actions.
const (
	QuotaRejectedRequests    QuotaAction = "rejected_requests"
	QuotaRejectedTokens      QuotaAction = "rejected_tokens"
	QuotaRejectedSuspended   QuotaAction = "rejected_suspended"
	QuotaRejectedDeactivated QuotaAction = "rejected_deactivated"
	QuotaWarning             QuotaAction = "warning"
)

// AgentExecutionEvent records one complete agent run.
type AgentExecutionEvent struct {
	EventBase
	RunID            string `json:"run_id"`
	UserID           string `json:"user_id"`
	SessionID        string `json:"session_id,omitempty"`
	Channel          string `json:"channel,omitempty"`
	Success          bool   `json:"success"`
	ErrorCode        string `json:"error_code,omitempty"`
	DurationMs       int64  `json:"duration_ms"`
	LLMDurationMs    int64  `json:"llm_duration_ms"`
	ToolDurationMs   int64  `json:"tool_duration_ms"`
	GuardDurationMs  int64  `json:"guard_duration_ms"`
	QueueWaitMs      int64  `json:"queue_wait_ms"`
	ToolCount        int    `json:"tool_count"`
	PersonaID        string `json:"persona_id,omitempty"`
	PromptTemplateID string `json:"prompt_template_id,omitempty"`
	IntentCategory   string `json:"intent_category,omitempty"`
	GuardRejected    bool   `json:"guard_rejected"`
	GuardStage       string `json:"guard_stage,omitempty"`
	GuardCategory    string `json:"guard_category,omitempty"`
	FallbackUsed     bool   `json:"fallback_used"`
	RetryCount       int    `json:"retry_count"`
}

// Kind implements MetricEvent.
func (*AgentExecutionEvent) Kind() EventKind { return KindAgentExecution }

// ToolCallEvent records a single tool invocation within an agent run.
type ToolCallEvent struct {
	EventBase
	RunID         string     `json:"run_id"`
	ToolName      string     `json:"tool_name"`
	ToolSource    ToolSource `json:"tool_source"`
	McpServerName string     `json:"mcp_server_name,omitempty"`
	CallIndex     int        `json:"call_index"`
	Success       bool       `json:"success"`
	DurationMs    int64      `json:"duration_ms"`
	ErrorClass    string     `json:"error_class,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// Kind implements MetricEvent.
func (*ToolCallEvent) Kind() EventKind { return KindToolCall }

// TokenUsageEvent records LLM token consumption for one model call.
type TokenUsageEvent struct {
	EventBase
	RunID            string  `json:"run_id"`
	Model            string  `json:"model"`
	Provider         string  `json:"provider"`
	StepType         string  `json:"step_type,omitempty"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	ReasoningTokens  int64   `json:"reasoning_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCostUsd float64 `json:"estimated_cost_usd"`
}

// Kind implements MetricEvent.
func (*TokenUsageEvent) Kind() EventKind { return KindTokenUsage }

// SessionEvent summarizes a completed conversation session.
type SessionEvent struct {
	EventBase
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id,omitempty"`
	Channel         string    `json:"channel,omitempty"`
	TurnCount       int       `json:"turn_count"`
	TotalDurationMs int64     `json:"total_duration_ms"`
	TotalTokens     int64     `json:"total_tokens"`
	TotalCostUsd    float64   `json:"total_cost_usd"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	Outcome         string    `json:"outcome,omitempty"`
}

// Kind implements MetricEvent.
func (*SessionEvent) Kind() EventKind { return KindSession }

// GuardEvent records an input/output guard decision.
type GuardEvent struct {
	EventBase
	UserID        string      `json:"user_id,omitempty"`
	Channel       string      `json:"channel,omitempty"`
	Stage         string      `json:"stage"`
	Category      string      `json:"category"`
	ReasonClass   string      `json:"reason_class,omitempty"`
	ReasonDetail  string      `json:"reason_detail,omitempty"`
	IsOutputGuard bool        `json:"is_output_guard"`
	Action        GuardAction `json:"action"`
}

// Kind implements MetricEvent.
func (*GuardEvent) Kind() EventKind { return KindGuard }

// McpHealthEvent records an MCP server health observation.
type McpHealthEvent struct {
	EventBase
	ServerName     string `json:"server_name"`
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	ErrorClass     string `json:"error_class,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ToolCount      int    `json:"tool_count"`
}

// Kind implements MetricEvent.
func (*McpHealthEvent) Kind() EventKind { return KindMcpHealth }

// QuotaEvent records a quota enforcement decision (rejection or warning).
type QuotaEvent struct {
	EventBase
	Action       QuotaAction `json:"action"`
	CurrentUsage int64       `json:"current_usage"`
	QuotaLimit   int64       `json:"quota_limit"`
	Reason       string      `json:"reason"`
}

// Kind implements MetricEvent.
func (*QuotaEvent) Kind() EventKind { return KindQuota }

// EvalResultEvent records the outcome of one evaluation test case.
type EvalResultEvent struct {
	EventBase
	EvalRunID     string   `json:"eval_run_id"`
	TestCaseID    string   `json:"test_case_id"`
	Pass          bool     `json:"pass"`
	Score         float64  `json:"score"`
	LatencyMs     int64    `json:"latency_ms"`
	TokenUsage    int64    `json:"token_usage"`
	Cost          float64  `json:"cost"`
	AssertionType string   `json:"assertion_type"`
	FailureClass  string   `json:"failure_class,omitempty"`
	FailureDetail string   `json:"failure_detail,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// Kind implements MetricEvent.
func (*EvalResultEvent) Kind() EventKind { return KindEvalResult }

// Truncate caps s at max characters. Boundary truncation for message-like
// fields happens in the metric store, not at publish time.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
