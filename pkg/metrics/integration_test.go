package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/slo"
	"github.com/codeready-toolchain/argus/test/util"
)

func setupStore(t *testing.T) (*Store, *QueryService) {
	t.Helper()
	pool := util.SetupTestPool(t)

	ddl, err := os.ReadFile(filepath.Join("..", "database", "migrations", "000001_init.up.sql"))
	require.NoError(t, err)
	util.ApplySchema(t, pool, string(ddl))

	return NewStore(pool), NewQueryService(pool)
}

func TestStoreBatchInsertAndQuery(t *testing.T) {
	store, query := setupStore(t)
	ctx := context.Background()
	now := time.Now()

	var events []models.MetricEvent
	for i := 0; i < 10; i++ {
		ev := &models.AgentExecutionEvent{
			EventBase:  models.EventBase{Time: now, TenantID: "t1"},
			RunID:      "run",
			Success:    i < 8, // 2 failures
			DurationMs: int64(1000 * (i + 1)),
		}
		events = append(events, ev)
	}
	events = append(events, &models.TokenUsageEvent{
		EventBase:        models.EventBase{Time: now, TenantID: "t1"},
		RunID:            "run",
		Model:            "gpt",
		Provider:         "openai",
		TotalTokens:      1234,
		EstimatedCostUsd: 0.5,
	})

	require.NoError(t, store.BatchInsert(ctx, events))

	rate, err := query.GetSuccessRate(ctx, "t1", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, rate, 1e-9)

	counts, err := query.GetRequestCounts(ctx, "t1", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, slo.RequestCounts{Total: 10, Failed: 2}, counts)

	usage, err := query.GetCurrentMonthUsage(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), usage.Requests)
	assert.Equal(t, int64(1234), usage.Tokens)

	p, err := query.GetLatencyPercentiles(ctx, "t1", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Greater(t, p.P99, p.P50)
}

func TestStoreTruncatesMessageFields(t *testing.T) {
	store, _ := setupStore(t)
	pool := store.pool
	ctx := context.Background()

	long := strings.Repeat("e", 2000)
	require.NoError(t, store.BatchInsert(ctx, []models.MetricEvent{
		&models.ToolCallEvent{
			EventBase:    models.EventBase{Time: time.Now(), TenantID: "t1"},
			RunID:        "run",
			ToolName:     "t",
			ToolSource:   models.ToolSourceMCP,
			Success:      false,
			ErrorMessage: long,
		},
		&models.GuardEvent{
			EventBase:    models.EventBase{Time: time.Now(), TenantID: "t1"},
			Stage:        "all",
			Category:     "none",
			Action:       models.GuardRejected,
			ReasonDetail: long,
		},
	}))

	var stored string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT error_message FROM metric_tool_calls LIMIT 1`).Scan(&stored))
	assert.Len(t, stored, models.MaxMessageLength)

	require.NoError(t, pool.QueryRow(ctx,
		`SELECT reason_detail FROM metric_guard_events LIMIT 1`).Scan(&stored))
	assert.Len(t, stored, models.MaxMessageLength)
}

// A partition that fails (table dropped) does not prevent the others from
// persisting.
func TestStorePartitionIsolation(t *testing.T) {
	store, _ := setupStore(t)
	pool := store.pool
	ctx := context.Background()

	_, err := pool.Exec(ctx, `DROP TABLE metric_tool_calls`)
	require.NoError(t, err)

	err = store.BatchInsert(ctx, []models.MetricEvent{
		&models.AgentExecutionEvent{EventBase: models.EventBase{Time: time.Now(), TenantID: "t1"}, RunID: "r", Success: true},
		&models.ToolCallEvent{EventBase: models.EventBase{Time: time.Now(), TenantID: "t1"}, RunID: "r", ToolName: "t", ToolSource: models.ToolSourceLocal, Success: true},
	})
	require.Error(t, err, "failed partition surfaces an error")

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM metric_agent_executions`).Scan(&count))
	assert.Equal(t, 1, count, "healthy partition still persisted")
}

func TestQueryMcpFailureStreak(t *testing.T) {
	store, query := setupStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	statuses := []string{"CONNECTED", "FAILED", "FAILED", "FAILED", "CONNECTED", "FAILED"}
	var events []models.MetricEvent
	for i, status := range statuses {
		events = append(events, &models.McpHealthEvent{
			EventBase:  models.EventBase{Time: base.Add(time.Duration(i) * time.Minute), TenantID: "t1"},
			ServerName: "srv",
			Status:     status,
		})
	}
	require.NoError(t, store.BatchInsert(ctx, events))

	streak, err := query.GetMaxConsecutiveMcpFailures(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), streak)
}
