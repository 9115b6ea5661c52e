// Package metrics persists pipeline events and serves the aggregate queries
// consumed by quota enforcement, SLO calculation, and alert evaluation.
package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// Store writes metric events in grouped batches. Each event kind maps to one
// table and each homogeneous batch is one parameterized statement — no
// per-row round trips. Message-like fields are truncated to 500 characters
// here, at the persistence boundary.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a metric store.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("metrics.NewStore: pool must not be nil")
	}
	return &Store{pool: pool}
}

// BatchInsert persists events. Mixed-kind input is partitioned by concrete
// type; each partition is written independently, and the first failure is
// returned after all partitions were attempted.
func (s *Store) BatchInsert(ctx context.Context, events []models.MetricEvent) error {
	if len(events) == 0 {
		return nil
	}
	var firstErr error
	for kind, part := range partition(events) {
		if err := s.insertKind(ctx, kind, part); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("insert %s batch: %w", kind, err)
		}
	}
	return firstErr
}

func partition(events []models.MetricEvent) map[models.EventKind][]models.MetricEvent {
	out := make(map[models.EventKind][]models.MetricEvent)
	for _, ev := range events {
		out[ev.Kind()] = append(out[ev.Kind()], ev)
	}
	return out
}

func (s *Store) insertKind(ctx context.Context, kind models.EventKind, events []models.MetricEvent) error {
	var (
		table string
		cols  []string
		vals  func(models.MetricEvent) []any
	)
	switch kind {
	case models.KindAgentExecution:
		table = "metric_agent_executions"
		cols = []string{"time", "tenant_id", "run_id", "user_id", "session_id", "channel",
			"success", "error_code", "duration_ms", "llm_duration_ms", "tool_duration_ms",
			"guard_duration_ms", "queue_wait_ms", "tool_count", "persona_id",
			"prompt_template_id", "intent_category", "guard_rejected", "guard_stage",
			"guard_category", "fallback_used", "retry_count"}
		vals = func(e models.MetricEvent) []any {
			ev := e.(*models.AgentExecutionEvent)
			return []any{ev.EventTime(), ev.Tenant(), ev.RunID, ev.UserID, ev.SessionID, ev.Channel,
				ev.Success, ev.ErrorCode, ev.DurationMs, ev.LLMDurationMs, ev.ToolDurationMs,
				ev.GuardDurationMs, ev.QueueWaitMs, ev.ToolCount, ev.PersonaID,
				ev.PromptTemplateID, ev.IntentCategory, ev.GuardRejected, ev.GuardStage,
				ev.GuardCategory, ev.FallbackUsed, ev.RetryCount}
		}
	case models.KindToolCall:
		table = "metric_tool_calls"
		cols = []string{"time", "tenant_id", "run_id", "tool_name", "tool_source",
			"mcp_server_name", "call_index", "success", "duration_ms", "error_class", "error_message"}
		vals = func(e models.MetricEvent) []any {
			ev := e.(*models.ToolCallEvent)
			return []any{ev.EventTime(), ev.Tenant(), ev.RunID, ev.ToolName, ev.ToolSource,
				ev.McpServerName, ev.CallIndex, ev.Success, ev.DurationMs, ev.ErrorClass,
				models.Truncate(ev.ErrorMessage, models.MaxMessageLength)}
		}
	case models.KindTokenUsage:
		table = "metric_token_usage"
		cols = []string{"time", "tenant_id", "run_id", "model", "provider", "step_type",
			"prompt_tokens", "completion_tokens", "reasoning_tokens", "total_tokens", "estimated_cost_usd"}
		vals = func(e models.MetricEvent) []any {
			ev := e.(*models.TokenUsageEvent)
			return []any{ev.EventTime(), ev.Tenant(), ev.RunID, ev.Model, ev.Provider, ev.StepType,
				ev.PromptTokens, ev.CompletionTokens, ev.ReasoningTokens, ev.TotalTokens, ev.EstimatedCostUsd}
		}
	case models.KindSession:
		table = "metric_sessions"
		cols = []string{"time", "tenant_id", "session_id", "user_id", "channel", "turn_count",
			"total_duration_ms", "total_tokens", "total_cost_usd", "started_at", "ended_at", "outcome"}
		vals = func(e models.MetricEvent) []any {
			ev := e.(*models.SessionEvent)
			return []any{ev.EventTime(), ev.Tenant(), ev.SessionID, ev.UserID, ev.Channel, ev.TurnCount,
				ev.TotalDurationMs, ev.TotalTokens, ev.TotalCostUsd, ev.StartedAt, ev.EndedAt, ev.Outcome}
		}
	case models.KindGuard:
		table = "metric_guard_events"
		cols = []string{"time", "tenant_id", "user_id", "channel", "stage", "category",
			"reason_class", "reason_detail", "is_output_guard", "action"}
		vals = func(e models.MetricEvent) []any {
			ev := e.(*models.GuardEvent)
			return []any{ev.EventTime(), ev.Tenant(), ev.UserID, ev.Channel, ev.Stage, ev.Category,
				ev.ReasonClass, models.Truncate(ev.ReasonDetail, models.MaxMessageLength),
				ev.IsOutputGuard, ev.Action}
		}
	case models.KindMcpHealth:
		table = "metric_mcp_health"
		cols = []string{"time", "tenant_id", "server_name", "status", "response_time_ms",
			"error_class", "error_message", "tool_count"}
		vals = func(e models.MetricEvent) []any {
			ev := e.(*models.McpHealthEvent)
			return []any{ev.EventTime(), ev.Tenant(), ev.ServerName, ev.Status, ev.ResponseTimeMs,
				ev.ErrorClass, models.Truncate(ev.ErrorMessage, models.MaxMessageLength), ev.ToolCount}
		}
	case models.KindQuota:
		table = "metric_quota_events"
		cols = []string{"time", "tenant_id", "action", "current_usage", "quota_limit", "reason"}
		vals = func(e models.MetricEvent) []any {
			ev := e.(*models.QuotaEvent)
			return []any{ev.EventTime(), ev.Tenant(), ev.Action, ev.CurrentUsage, ev.QuotaLimit, ev.Reason}
		}
	case models.KindEvalResult:
		table = "metric_eval_results"
		cols = []string{"time", "tenant_id", "eval_run_id", "test_case_id", "pass", "score",
			"latency_ms", "token_usage", "cost", "assertion_type", "failure_class", "failure_detail", "tags"}
		vals = func(e models.MetricEvent) []any {
			ev := e.(*models.EvalResultEvent)
			tags := ev.Tags
			if tags == nil {
				tags = []string{}
			}
			return []any{ev.EventTime(), ev.Tenant(), ev.EvalRunID, ev.TestCaseID, ev.Pass, ev.Score,
				ev.LatencyMs, ev.TokenUsage, ev.Cost, ev.AssertionType, ev.FailureClass,
				models.Truncate(ev.FailureDetail, models.MaxMessageLength), tags}
		}
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}

	query, args := buildMultiInsert(table, cols, events, vals)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

// buildMultiInsert renders one INSERT ... VALUES (...),(...) statement for a
// homogeneous batch.
func buildMultiInsert(table string, cols []string, events []models.MetricEvent, vals func(models.MetricEvent) []any) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(events)*len(cols))
	arg := 1
	for i, ev := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", arg)
			arg++
		}
		sb.WriteByte(')')
		args = append(args, vals(ev)...)
	}
	return sb.String(), args
}
