package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/models"
)

// CollectorOrder places the metric collector last in the hook chain.
const CollectorOrder = 200

// Waker is the narrow port the collector uses to nudge the writer when the
// buffer crosses the batch threshold.
type Waker interface {
	Wake()
	BatchThreshold() int
}

// ToolCallOutcome is the payload delivered to AfterToolCall hooks.
type ToolCallOutcome struct {
	ToolName      string
	Source        models.ToolSource
	McpServerName string
	CallIndex     int
	Success       bool
	DurationMs    int64
	ErrorClass    string
	ErrorMessage  string
}

// Collector is the order-200 hook that turns request lifecycle metadata into
// metric events. Publish failures are counted as drops and never surface to
// the request path; cancellation propagates.
type Collector struct {
	buffer  *RingBuffer
	monitor *HealthMonitor
	waker   Waker // optional
	logger  *slog.Logger
}

// NewCollector creates a metric collector. waker may be nil (no immediate
// wake on threshold).
func NewCollector(buffer *RingBuffer, monitor *HealthMonitor, waker Waker) *Collector {
	if buffer == nil {
		panic("NewCollector: buffer must not be nil")
	}
	if monitor == nil {
		panic("NewCollector: monitor must not be nil")
	}
	return &Collector{
		buffer:  buffer,
		monitor: monitor,
		waker:   waker,
		logger:  slog.Default().With("component", "metric-collector"),
	}
}

// Hook returns the capability record for registry registration.
func (c *Collector) Hook() *hooks.Hook {
	return &hooks.Hook{
		Name:        "metric-collector",
		Order:       CollectorOrder,
		Enabled:     true,
		FailOnError: false,
		Kinds: map[hooks.Kind]bool{
			hooks.AfterAgentComplete: true,
			hooks.AfterToolCall:      true,
		},
		Invoke: c.invoke,
	}
}

func (c *Collector) invoke(ctx context.Context, kind hooks.Kind, hc *hooks.Context, payload any) (hooks.Result, error) {
	if err := ctx.Err(); err != nil {
		return hooks.Result{}, err
	}
	switch kind {
	case hooks.AfterAgentComplete:
		c.collectAgentExecution(hc)
	case hooks.AfterToolCall:
		if outcome, ok := payload.(*ToolCallOutcome); ok && outcome != nil {
			c.collectToolCall(hc, outcome)
		}
	}
	return hooks.Continue(), nil
}

// collectAgentExecution builds the enriched execution event plus its derived
// guard and session events.
func (c *Collector) collectAgentExecution(hc *hooks.Context) {
	tenantID := hc.MetaString(hooks.MetaTenantID)
	durationMs, _ := hc.MetaInt64(hooks.MetaDurationMs)
	llmMs, _ := hc.MetaInt64(hooks.MetaLLMDurationMs)
	toolMs, _ := hc.MetaInt64(hooks.MetaToolDurationMs)
	guardMs, hasGuard := hc.MetaInt64(hooks.MetaGuardDurationMs)
	queueMs, _ := hc.MetaInt64(hooks.MetaQueueWaitMs)
	toolCount, _ := hc.MetaInt64(hooks.MetaToolCount)
	retryCount, _ := hc.MetaInt64(hooks.MetaRetryCount)

	ev := &models.AgentExecutionEvent{
		EventBase:        models.EventBase{TenantID: tenantID},
		RunID:            hc.RunID,
		UserID:           hc.UserID,
		SessionID:        hc.MetaString(hooks.MetaSessionID),
		Channel:          hc.Channel,
		Success:          hc.MetaBool(hooks.MetaSuccess),
		ErrorCode:        hc.MetaString(hooks.MetaErrorCode),
		DurationMs:       durationMs,
		LLMDurationMs:    llmMs,
		ToolDurationMs:   toolMs,
		GuardDurationMs:  guardMs,
		QueueWaitMs:      queueMs,
		ToolCount:        int(toolCount),
		PersonaID:        hc.MetaString(hooks.MetaPersonaID),
		PromptTemplateID: hc.MetaString(hooks.MetaPromptTemplateID),
		IntentCategory:   hc.MetaString(hooks.MetaIntentCategory),
		GuardRejected:    hc.MetaBool(hooks.MetaGuardRejected),
		GuardStage:       hc.MetaString(hooks.MetaGuardStage),
		GuardCategory:    hc.MetaString(hooks.MetaGuardCategory),
		FallbackUsed:     hc.MetaBool(hooks.MetaFallbackUsed),
		RetryCount:       int(retryCount),
	}
	c.publish(ev)

	if hasGuard {
		c.publish(c.deriveGuardEvent(hc, ev))
	}
	if ev.SessionID != "" {
		c.publish(c.deriveSessionEvent(hc, ev))
	}
}

// deriveGuardEvent maps the execution's guard metadata to a GuardEvent.
// Legacy producers omit stage/category; those default to "all"/"none".
func (c *Collector) deriveGuardEvent(hc *hooks.Context, ev *models.AgentExecutionEvent) *models.GuardEvent {
	stage := ev.GuardStage
	if stage == "" {
		stage = "all"
	}
	category := ev.GuardCategory
	if category == "" {
		category = "none"
	}
	action := models.GuardAllowed
	if ev.GuardRejected {
		action = models.GuardRejected
	}
	return &models.GuardEvent{
		EventBase: models.EventBase{TenantID: ev.TenantID},
		UserID:    ev.UserID,
		Channel:   ev.Channel,
		Stage:     stage,
		Category:  category,
		Action:    action,
	}
}

func (c *Collector) deriveSessionEvent(hc *hooks.Context, ev *models.AgentExecutionEvent) *models.SessionEvent {
	turns, _ := hc.MetaInt64(hooks.MetaSessionTurns)
	tokens, _ := hc.MetaInt64(hooks.MetaSessionTokens)
	cost, _ := hc.MetaFloat64(hooks.MetaSessionCostUsd)
	now := time.Now()
	return &models.SessionEvent{
		EventBase:       models.EventBase{TenantID: ev.TenantID},
		SessionID:       ev.SessionID,
		UserID:          ev.UserID,
		Channel:         ev.Channel,
		TurnCount:       int(turns),
		TotalDurationMs: ev.DurationMs,
		TotalTokens:     tokens,
		TotalCostUsd:    cost,
		StartedAt:       now.Add(-time.Duration(ev.DurationMs) * time.Millisecond),
		EndedAt:         now,
	}
}

func (c *Collector) collectToolCall(hc *hooks.Context, outcome *ToolCallOutcome) {
	tenantID := hc.MetaString(hooks.MetaTenantID)
	source := outcome.Source
	if source == "" {
		if s := hc.MetaString(hooks.MetaToolSource(outcome.ToolName)); s != "" {
			source = models.ToolSource(s)
		} else {
			source = models.ToolSourceLocal
		}
	}
	serverName := outcome.McpServerName
	if serverName == "" {
		serverName = hc.MetaString(hooks.MetaMcpServer(outcome.ToolName))
	}

	c.publish(&models.ToolCallEvent{
		EventBase:     models.EventBase{TenantID: tenantID},
		RunID:         hc.RunID,
		ToolName:      outcome.ToolName,
		ToolSource:    source,
		McpServerName: serverName,
		CallIndex:     outcome.CallIndex,
		Success:       outcome.Success,
		DurationMs:    outcome.DurationMs,
		ErrorClass:    outcome.ErrorClass,
		ErrorMessage:  outcome.ErrorMessage,
	})

	if source == models.ToolSourceMCP && serverName != "" {
		status := string(models.McpConnected)
		if !outcome.Success {
			status = string(models.McpFailed)
		}
		c.publish(&models.McpHealthEvent{
			EventBase:      models.EventBase{TenantID: tenantID},
			ServerName:     serverName,
			Status:         status,
			ResponseTimeMs: outcome.DurationMs,
			ErrorClass:     outcome.ErrorClass,
			ErrorMessage:   outcome.ErrorMessage,
		})
	}
}

// publish enqueues one event, accounting a drop on overflow and waking the
// writer when the buffer crosses the batch threshold.
func (c *Collector) publish(ev models.MetricEvent) {
	if !c.buffer.Publish(ev) {
		c.monitor.RecordDrop(1)
		return
	}
	if c.waker != nil && c.buffer.Size() >= c.waker.BatchThreshold() {
		c.waker.Wake()
	}
}
