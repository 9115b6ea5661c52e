package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/mcp"
	"github.com/codeready-toolchain/argus/pkg/models"
)

type memJobs struct {
	mu         sync.Mutex
	jobs       map[string]*models.ScheduledJob
	executions []*models.ScheduledJobExecution
	running    []string
	outcomes   []models.JobStatus
}

func newMemJobs(jobs ...*models.ScheduledJob) *memJobs {
	m := &memJobs{jobs: make(map[string]*models.ScheduledJob)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memJobs) Create(_ context.Context, job *models.ScheduledJob) (*models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = job.Name
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memJobs) Update(_ context.Context, job *models.ScheduledJob) (*models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return nil, ErrJobNotFound
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memJobs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *memJobs) Get(_ context.Context, id string) (*models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (m *memJobs) ListEnabled(context.Context) ([]*models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ScheduledJob
	for _, j := range m.jobs {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobs) MarkRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = append(m.running, id)
	return nil
}

func (m *memJobs) RecordOutcome(_ context.Context, id string, status models.JobStatus, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, status)
	if j, ok := m.jobs[id]; ok {
		j.LastStatus = status
		j.LastResult = models.Truncate(result, models.MaxJobResultLength)
	}
	return nil
}

func (m *memJobs) InsertExecution(_ context.Context, exec *models.ScheduledJobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, exec)
	return nil
}

type fakeGateway struct {
	connected bool
	tools     map[string]*mcp.ToolCallback
}

func (g *fakeGateway) EnsureConnected(context.Context, string) bool { return g.connected }

func (g *fakeGateway) Tool(_, toolName string) (*mcp.ToolCallback, bool) {
	cb, ok := g.tools[toolName]
	return cb, ok
}

type fakeAgents struct {
	mu       sync.Mutex
	result   string
	err      error
	attempts int
	commands []AgentCommand
}

func (f *fakeAgents) Execute(_ context.Context, cmd AgentCommand) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	f.commands = append(f.commands, cmd)
	return f.result, f.err
}

type fakePolicy struct{ required bool }

func (p fakePolicy) RequiresApproval(context.Context, string, string) (bool, error) {
	return p.required, nil
}

type fakeApprovals struct {
	approved bool
	requests []ApprovalRequest
}

func (a *fakeApprovals) RequestApproval(_ context.Context, req ApprovalRequest) (bool, error) {
	a.requests = append(a.requests, req)
	return a.approved, nil
}

func toolJob(id string) *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:             id,
		Name:           "probe-" + id,
		CronExpression: "*/5 * * * *",
		JobType:        models.JobMcpTool,
		McpServerName:  "kubernetes",
		ToolName:       "get_pods",
		Enabled:        true,
	}
}

func agentJob(id string) *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:             id,
		Name:           "report-" + id,
		CronExpression: "0 9 * * *",
		JobType:        models.JobAgent,
		AgentPrompt:    "summarize yesterday",
		Enabled:        true,
	}
}

func echoTool(name, result string, err error) *mcp.ToolCallback {
	return mcp.NewToolCallback(name, "", nil, "kubernetes",
		func(context.Context, map[string]any) (string, error) {
			return result, err
		})
}

func newTestRunner(jobs JobStorage, gateway McpGateway, agents AgentExecutor, policy ToolApprovalPolicy, approvals PendingApprovalStore) *Runner {
	r := NewRunner(jobs, gateway, hooks.NewRegistry(), policy, approvals, agents, nil, nil)
	r.retryDelay = time.Millisecond
	return r
}

func TestRunnerMcpToolSuccess(t *testing.T) {
	job := toolJob("j1")
	jobs := newMemJobs(job)
	gateway := &fakeGateway{connected: true, tools: map[string]*mcp.ToolCallback{
		"get_pods": echoTool("get_pods", "3 pods running", nil),
	}}
	r := newTestRunner(jobs, gateway, nil, nil, nil)

	exec := r.Run(context.Background(), job, false)

	assert.Equal(t, models.JobSuccess, exec.Status)
	assert.Equal(t, "3 pods running", exec.Result)
	assert.False(t, exec.DryRun)
	assert.Equal(t, []string{"j1"}, jobs.running)
	assert.Equal(t, []models.JobStatus{models.JobSuccess}, jobs.outcomes)
	require.Len(t, jobs.executions, 1)
}

func TestRunnerMcpDisconnected(t *testing.T) {
	job := toolJob("j1")
	r := newTestRunner(newMemJobs(job), &fakeGateway{connected: false}, nil, nil, nil)

	exec := r.Run(context.Background(), job, false)
	assert.Equal(t, models.JobFailed, exec.Status)
	assert.Contains(t, exec.Result, "disconnected")
}

func TestRunnerToolNotFound(t *testing.T) {
	job := toolJob("j1")
	gateway := &fakeGateway{connected: true, tools: map[string]*mcp.ToolCallback{}}
	r := newTestRunner(newMemJobs(job), gateway, nil, nil, nil)

	exec := r.Run(context.Background(), job, false)
	assert.Equal(t, models.JobFailed, exec.Status)
	assert.Contains(t, exec.Result, "tool not found")
}

func TestRunnerRetriesOnFailure(t *testing.T) {
	job := agentJob("j1")
	job.RetryOnFailure = true
	job.MaxRetryCount = 2
	agents := &fakeAgents{err: errors.New("flaky")}
	r := newTestRunner(newMemJobs(job), nil, agents, nil, nil)

	exec := r.Run(context.Background(), job, false)
	assert.Equal(t, models.JobFailed, exec.Status)
	assert.Equal(t, 3, agents.attempts, "initial attempt plus two retries")
}

func TestRunnerNoRetryWithoutFlag(t *testing.T) {
	job := agentJob("j1")
	job.MaxRetryCount = 5 // ignored: retryOnFailure is false
	agents := &fakeAgents{err: errors.New("flaky")}
	r := newTestRunner(newMemJobs(job), nil, agents, nil, nil)

	r.Run(context.Background(), job, false)
	assert.Equal(t, 1, agents.attempts)
}

func TestRunnerCancellationIsNotRetried(t *testing.T) {
	job := agentJob("j1")
	job.RetryOnFailure = true
	job.MaxRetryCount = 3
	agents := &fakeAgents{err: context.Canceled}
	r := newTestRunner(newMemJobs(job), nil, agents, nil, nil)

	r.Run(context.Background(), job, false)
	assert.Equal(t, 1, agents.attempts)
}

func TestRunnerExecutionTimeout(t *testing.T) {
	job := toolJob("j1")
	job.ExecutionTimeoutMs = 30
	gateway := &fakeGateway{connected: true, tools: map[string]*mcp.ToolCallback{
		"get_pods": mcp.NewToolCallback("get_pods", "", nil, "kubernetes",
			func(ctx context.Context, _ map[string]any) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}),
	}}
	r := newTestRunner(newMemJobs(job), gateway, nil, nil, nil)

	exec := r.Run(context.Background(), job, false)
	assert.Equal(t, models.JobFailed, exec.Status)
}

func TestRunnerDryRunSkipsJobStatus(t *testing.T) {
	job := toolJob("j1")
	jobs := newMemJobs(job)
	gateway := &fakeGateway{connected: true, tools: map[string]*mcp.ToolCallback{
		"get_pods": echoTool("get_pods", "ok", nil),
	}}
	r := newTestRunner(jobs, gateway, nil, nil, nil)

	exec := r.Run(context.Background(), job, true)

	assert.True(t, exec.DryRun)
	assert.Empty(t, jobs.running, "dry run never marks RUNNING")
	assert.Empty(t, jobs.outcomes, "dry run never records an outcome")
	require.Len(t, jobs.executions, 1, "dry run still writes an execution record")
	assert.True(t, jobs.executions[0].DryRun)
}

func TestRunnerApprovalFlow(t *testing.T) {
	t.Run("approved call proceeds", func(t *testing.T) {
		job := toolJob("j1")
		gateway := &fakeGateway{connected: true, tools: map[string]*mcp.ToolCallback{
			"get_pods": echoTool("get_pods", "ok", nil),
		}}
		approvals := &fakeApprovals{approved: true}
		r := newTestRunner(newMemJobs(job), gateway, nil, fakePolicy{required: true}, approvals)

		exec := r.Run(context.Background(), job, false)
		assert.Equal(t, models.JobSuccess, exec.Status)
		require.Len(t, approvals.requests, 1)
		assert.Equal(t, "get_pods", approvals.requests[0].ToolName)
	})

	t.Run("rejected approval fails the job", func(t *testing.T) {
		job := toolJob("j1")
		gateway := &fakeGateway{connected: true, tools: map[string]*mcp.ToolCallback{
			"get_pods": echoTool("get_pods", "ok", nil),
		}}
		r := newTestRunner(newMemJobs(job), gateway, nil, fakePolicy{required: true}, &fakeApprovals{approved: false})

		exec := r.Run(context.Background(), job, false)
		assert.Equal(t, models.JobFailed, exec.Status)
		assert.Contains(t, exec.Result, "approval rejected")
	})

	t.Run("no approval needed skips the store", func(t *testing.T) {
		job := toolJob("j1")
		gateway := &fakeGateway{connected: true, tools: map[string]*mcp.ToolCallback{
			"get_pods": echoTool("get_pods", "ok", nil),
		}}
		approvals := &fakeApprovals{}
		r := newTestRunner(newMemJobs(job), gateway, nil, fakePolicy{required: false}, approvals)

		r.Run(context.Background(), job, false)
		assert.Empty(t, approvals.requests)
	})
}

func TestRunnerAgentSystemPromptFallback(t *testing.T) {
	agents := &fakeAgents{result: "done"}
	job := agentJob("j1")
	r := newTestRunner(newMemJobs(job), nil, agents, nil, nil)

	exec := r.Run(context.Background(), job, false)
	require.Equal(t, models.JobSuccess, exec.Status)
	require.Len(t, agents.commands, 1)
	cmd := agents.commands[0]
	assert.Equal(t, DefaultSystemPrompt, cmd.SystemPrompt)
	assert.Equal(t, "scheduler", cmd.UserID)
	assert.Equal(t, "scheduler", cmd.Channel)
	assert.Equal(t, "j1", cmd.Metadata[hooks.MetaSchedulerJobID])

	job.AgentSystemPrompt = "custom prompt"
	r.Run(context.Background(), job, false)
	assert.Equal(t, "custom prompt", agents.commands[1].SystemPrompt)
}

func TestRunnerResultTruncation(t *testing.T) {
	job := toolJob("j1")
	jobs := newMemJobs(job)
	long := strings.Repeat("r", models.MaxJobResultLength+500)
	gateway := &fakeGateway{connected: true, tools: map[string]*mcp.ToolCallback{
		"get_pods": echoTool("get_pods", long, nil),
	}}
	r := newTestRunner(jobs, gateway, nil, nil, nil)

	exec := r.Run(context.Background(), job, false)
	assert.Len(t, exec.Result, models.MaxJobResultLength)
	assert.Len(t, jobs.jobs["j1"].LastResult, models.MaxJobResultLength)
}
