package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// Service owns the cron engine: it loads enabled jobs at startup, keeps
// registrations in sync with job CRUD, and dispatches executions to the
// runner.
type Service struct {
	jobs   JobStorage
	runner *Runner
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID // jobID → cron entry
	baseCtx context.Context
	started bool

	logger *slog.Logger
}

// NewService creates the scheduler service.
func NewService(jobs JobStorage, runner *Runner) *Service {
	if jobs == nil {
		panic("scheduler.NewService: jobs must not be nil")
	}
	if runner == nil {
		panic("scheduler.NewService: runner must not be nil")
	}
	return &Service{
		jobs:    jobs,
		runner:  runner,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		logger:  slog.Default().With("component", "scheduler"),
	}
}

// Start loads all enabled jobs, registers their triggers, and starts the
// cron engine. Safe to call once.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.baseCtx = ctx

	jobs, err := s.jobs.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load enabled jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.registerLocked(job); err != nil {
			s.logger.Warn("Skipping job with invalid schedule", "job", job.Name, "error", err)
		}
	}

	s.cron.Start()
	s.started = true
	s.logger.Info("Scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop halts the cron engine and waits for running jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// CreateJob validates, persists, and registers a new job.
func (s *Service) CreateJob(ctx context.Context, job *models.ScheduledJob) (*models.ScheduledJob, error) {
	if err := ValidateJob(job); err != nil {
		return nil, err
	}
	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	if created.Enabled {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.registerLocked(created); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// UpdateJob validates, persists, and re-registers an existing job.
func (s *Service) UpdateJob(ctx context.Context, job *models.ScheduledJob) (*models.ScheduledJob, error) {
	if err := ValidateJob(job); err != nil {
		return nil, err
	}
	updated, err := s.jobs.Update(ctx, job)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(updated.ID)
	if updated.Enabled {
		if err := s.registerLocked(updated); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// DeleteJob unregisters and removes a job.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	s.unregisterLocked(id)
	s.mu.Unlock()
	return s.jobs.Delete(ctx, id)
}

// RunNow executes a job immediately, outside its schedule.
func (s *Service) RunNow(ctx context.Context, id string) (*models.ScheduledJobExecution, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, job, false), nil
}

// DryRun executes a job without touching its lastStatus/lastResult. The
// execution record is still written, flagged dry_run.
func (s *Service) DryRun(ctx context.Context, id string) (*models.ScheduledJobExecution, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, job, true), nil
}

// registerLocked adds a cron entry for the job. Caller holds s.mu.
func (s *Service) registerLocked(job *models.ScheduledJob) error {
	spec, err := cronSpec(job)
	if err != nil {
		return err
	}
	jobCopy := *job
	entryID, err := s.cron.AddFunc(spec, func() {
		ctx := s.baseCtx
		if ctx == nil {
			ctx = context.Background()
		}
		s.runner.Run(ctx, &jobCopy, false)
	})
	if err != nil {
		return fmt.Errorf("register job %q: %w", job.Name, err)
	}
	s.entries[job.ID] = entryID
	return nil
}

// unregisterLocked removes the job's cron entry if present. Caller holds
// s.mu.
func (s *Service) unregisterLocked(jobID string) {
	if entryID, ok := s.entries[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
	}
}

// ValidateJob rejects invalid cron expressions and timezones before they are
// persisted.
func ValidateJob(job *models.ScheduledJob) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Timezone != "" {
		if _, err := time.LoadLocation(job.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", job.Timezone, err)
		}
	}
	spec, err := cronSpec(job)
	if err != nil {
		return err
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", job.CronExpression, err)
	}
	switch job.JobType {
	case models.JobMcpTool:
		if job.McpServerName == "" || job.ToolName == "" {
			return fmt.Errorf("MCP_TOOL job requires mcp_server_name and tool_name")
		}
	case models.JobAgent:
		if job.AgentPrompt == "" {
			return fmt.Errorf("AGENT job requires agent_prompt")
		}
	default:
		return fmt.Errorf("unknown job type %q", job.JobType)
	}
	return nil
}

// cronSpec renders the timezone-aware cron spec for a job.
func cronSpec(job *models.ScheduledJob) (string, error) {
	if job.CronExpression == "" {
		return "", fmt.Errorf("cron expression is required")
	}
	if job.Timezone == "" {
		return job.CronExpression, nil
	}
	return fmt.Sprintf("CRON_TZ=%s %s", job.Timezone, job.CronExpression), nil
}
