package alerts

import (
	"context"
	"log/slog"
	"time"
)

// DefaultEvalInterval is the default evaluation cadence.
const DefaultEvalInterval = 600 * time.Second

// Scheduler runs EvaluateAll on a fixed interval. Start, Stop, and Destroy
// are all idempotent.
type Scheduler struct {
	evaluator *Evaluator
	interval  time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
	logger    *slog.Logger
}

// NewScheduler creates an alert scheduler. interval <= 0 uses the default.
func NewScheduler(evaluator *Evaluator, interval time.Duration) *Scheduler {
	if evaluator == nil {
		panic("alerts.NewScheduler: evaluator must not be nil")
	}
	if interval <= 0 {
		interval = DefaultEvalInterval
	}
	return &Scheduler{
		evaluator: evaluator,
		interval:  interval,
		logger:    slog.Default().With("component", "alert-scheduler"),
	}
}

// Start launches the evaluation loop. A running or destroyed scheduler
// ignores the call.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil || s.destroyed {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	s.logger.Info("Alert scheduler started", "interval", s.interval)
}

// Stop halts the loop and waits for it to exit. Start may be called again.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("Alert scheduler stopped")
}

// Destroy stops the scheduler permanently; further Start calls are no-ops.
func (s *Scheduler) Destroy() {
	s.Stop()
	s.destroyed = true
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.evaluate(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context) {
	fired := s.evaluator.EvaluateAll(ctx)
	if len(fired) > 0 {
		s.logger.Info("Evaluation cycle fired alerts", "count", len(fired))
	}
}
