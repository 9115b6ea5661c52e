package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/models"
)

func TestValidateJob(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.ScheduledJob)
		wantErr string
	}{
		{
			name:   "valid tool job",
			mutate: func(*models.ScheduledJob) {},
		},
		{
			name:    "missing name",
			mutate:  func(j *models.ScheduledJob) { j.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "invalid cron expression",
			mutate:  func(j *models.ScheduledJob) { j.CronExpression = "not a cron" },
			wantErr: "invalid cron expression",
		},
		{
			name:    "missing cron expression",
			mutate:  func(j *models.ScheduledJob) { j.CronExpression = "" },
			wantErr: "cron expression is required",
		},
		{
			name:    "invalid timezone",
			mutate:  func(j *models.ScheduledJob) { j.Timezone = "Mars/Olympus" },
			wantErr: "invalid timezone",
		},
		{
			name:   "valid timezone",
			mutate: func(j *models.ScheduledJob) { j.Timezone = "Asia/Tokyo" },
		},
		{
			name: "tool job without server",
			mutate: func(j *models.ScheduledJob) {
				j.McpServerName = ""
			},
			wantErr: "requires mcp_server_name",
		},
		{
			name: "agent job without prompt",
			mutate: func(j *models.ScheduledJob) {
				j.JobType = models.JobAgent
			},
			wantErr: "requires agent_prompt",
		},
		{
			name: "unknown job type",
			mutate: func(j *models.ScheduledJob) {
				j.JobType = "WEBHOOK"
			},
			wantErr: "unknown job type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := toolJob("j1")
			tt.mutate(job)
			err := ValidateJob(job)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestServiceCreateRejectsInvalidJob(t *testing.T) {
	jobs := newMemJobs()
	svc := NewService(jobs, newTestRunner(jobs, nil, &fakeAgents{}, nil, nil))

	job := toolJob("j1")
	job.CronExpression = "61 * * * *"
	_, err := svc.CreateJob(context.Background(), job)
	require.Error(t, err)
	assert.Empty(t, jobs.jobs, "invalid job must not be persisted")
}

func TestServiceCreateRegistersEnabledJob(t *testing.T) {
	jobs := newMemJobs()
	svc := NewService(jobs, newTestRunner(jobs, nil, &fakeAgents{}, nil, nil))
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	created, err := svc.CreateJob(context.Background(), toolJob("j1"))
	require.NoError(t, err)

	svc.mu.Lock()
	_, registered := svc.entries[created.ID]
	svc.mu.Unlock()
	assert.True(t, registered)
}

func TestServiceDisabledJobIsNotRegistered(t *testing.T) {
	jobs := newMemJobs()
	svc := NewService(jobs, newTestRunner(jobs, nil, &fakeAgents{}, nil, nil))
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	job := toolJob("j1")
	job.Enabled = false
	created, err := svc.CreateJob(context.Background(), job)
	require.NoError(t, err)

	svc.mu.Lock()
	_, registered := svc.entries[created.ID]
	svc.mu.Unlock()
	assert.False(t, registered)
}

func TestServiceDeleteUnregisters(t *testing.T) {
	jobs := newMemJobs()
	svc := NewService(jobs, newTestRunner(jobs, nil, &fakeAgents{}, nil, nil))
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	created, err := svc.CreateJob(context.Background(), toolJob("j1"))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteJob(context.Background(), created.ID))

	svc.mu.Lock()
	_, registered := svc.entries[created.ID]
	svc.mu.Unlock()
	assert.False(t, registered)
}

func TestServiceDryRunLeavesJobUntouched(t *testing.T) {
	job := agentJob("j1")
	jobs := newMemJobs(job)
	svc := NewService(jobs, newTestRunner(jobs, nil, &fakeAgents{result: "ok"}, nil, nil))

	exec, err := svc.DryRun(context.Background(), "j1")
	require.NoError(t, err)
	assert.True(t, exec.DryRun)
	assert.Empty(t, jobs.outcomes)
	assert.Empty(t, job.LastStatus)
}

func TestServiceRunNow(t *testing.T) {
	job := agentJob("j1")
	jobs := newMemJobs(job)
	svc := NewService(jobs, newTestRunner(jobs, nil, &fakeAgents{result: "ok"}, nil, nil))

	exec, err := svc.RunNow(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobSuccess, exec.Status)
	assert.Equal(t, models.JobSuccess, job.LastStatus)

	_, err = svc.RunNow(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCronSpecRendersTimezone(t *testing.T) {
	job := toolJob("j1")
	spec, err := cronSpec(job)
	require.NoError(t, err)
	assert.Equal(t, job.CronExpression, spec)

	job.Timezone = "Europe/Berlin"
	spec, err = cronSpec(job)
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=Europe/Berlin */5 * * * *", spec)
}
