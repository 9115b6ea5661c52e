// Package cleanup provides data retention services for the metric and
// scheduler history tables.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/argus/pkg/config"
)

// metricTables are the append-only tables subject to raw retention.
var metricTables = []string{
	"metric_agent_executions",
	"metric_tool_calls",
	"metric_token_usage",
	"metric_sessions",
	"metric_guard_events",
	"metric_mcp_health",
	"metric_quota_events",
	"metric_eval_results",
	"metric_spans",
}

// Service periodically enforces retention policies: raw metric rows past
// retention.rawDays and scheduler execution records past the same window.
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config *config.RetentionConfig
	pool   *pgxpool.Pool

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewService creates a cleanup service.
func NewService(cfg *config.RetentionConfig, pool *pgxpool.Pool) *Service {
	if cfg == nil {
		panic("cleanup.NewService: cfg must not be nil")
	}
	if pool == nil {
		panic("cleanup.NewService: pool must not be nil")
	}
	return &Service{
		config: cfg,
		pool:   pool,
		logger: slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"raw_days", s.config.RawDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.RawDays)
	s.pruneMetrics(ctx, cutoff)
	s.pruneExecutions(ctx, cutoff)
}

func (s *Service) pruneMetrics(ctx context.Context, cutoff time.Time) {
	for _, table := range metricTables {
		tag, err := s.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE time < $1`, table), cutoff)
		if err != nil {
			s.logger.Error("Retention: metric prune failed", "table", table, "error", err)
			continue
		}
		if n := tag.RowsAffected(); n > 0 {
			s.logger.Info("Retention: pruned metric rows", "table", table, "count", n)
		}
	}
}

func (s *Service) pruneExecutions(ctx context.Context, cutoff time.Time) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scheduled_job_executions WHERE started_at < $1`, cutoff)
	if err != nil {
		s.logger.Error("Retention: execution prune failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("Retention: pruned job executions", "count", n)
	}
}
