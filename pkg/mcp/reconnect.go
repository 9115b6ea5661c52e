package mcp

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ReconnectConfig tunes the background reconnection loop.
type ReconnectConfig struct {
	Enabled      bool
	MaxAttempts  int           // default 5
	InitialDelay time.Duration // default 5s
	Multiplier   float64       // default 2.0
	MaxDelay     time.Duration // default 60s
}

func (c *ReconnectConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 5 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
}

// connector is the narrow manager port the coordinator drives.
type connector interface {
	Connect(ctx context.Context, name string) bool
	Status(name string) (models.McpStatus, bool)
}

// ReconnectCoordinator runs at most one reconnection task per server.
// Scheduling an already-scheduled server is a no-op; cancellation interrupts
// the backoff sleep and clears the in-flight flag. Nothing persists across
// process restart.
type ReconnectCoordinator struct {
	config    ReconnectConfig
	connector connector

	mu       sync.Mutex
	baseCtx  context.Context
	inflight map[string]*reconnectTask

	wg     sync.WaitGroup
	logger *slog.Logger
}

// reconnectTask identifies one scheduled reconnection so a stale task's
// cleanup cannot cancel a newer task under the same server name.
type reconnectTask struct {
	cancel context.CancelFunc
}

func newReconnectCoordinator(cfg ReconnectConfig, conn connector) *ReconnectCoordinator {
	cfg.applyDefaults()
	return &ReconnectCoordinator{
		config:    cfg,
		connector: conn,
		inflight:  make(map[string]*reconnectTask),
		logger:    slog.Default().With("component", "mcp-reconnect"),
	}
}

// Start binds the coordinator's task scope. Tasks scheduled before Start use
// the background context.
func (r *ReconnectCoordinator) Start(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()
}

// Stop cancels all in-flight reconnections and waits for them to exit.
func (r *ReconnectCoordinator) Stop() {
	r.mu.Lock()
	for name, task := range r.inflight {
		task.cancel()
		delete(r.inflight, name)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Schedule starts a background reconnection loop for the server. Deduped:
// a server with an in-flight task is left alone.
func (r *ReconnectCoordinator) Schedule(name string) {
	if !r.config.Enabled {
		return
	}

	r.mu.Lock()
	if _, running := r.inflight[name]; running {
		r.mu.Unlock()
		return
	}
	base := r.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	task := &reconnectTask{cancel: cancel}
	r.inflight[name] = task
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, name, task)
}

// Cancel stops any pending reconnection for the server.
func (r *ReconnectCoordinator) Cancel(name string) {
	r.mu.Lock()
	if task, ok := r.inflight[name]; ok {
		task.cancel()
		delete(r.inflight, name)
	}
	r.mu.Unlock()
}

// InFlight reports whether a reconnection task is running for the server.
func (r *ReconnectCoordinator) InFlight(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[name]
	return ok
}

func (r *ReconnectCoordinator) run(ctx context.Context, name string, task *reconnectTask) {
	defer r.wg.Done()
	// Clear the in-flight flag on every exit path so a later failure can
	// schedule again.
	defer r.clear(name, task)

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		delay := r.backoff(attempt)
		r.logger.Debug("Reconnect attempt scheduled",
			"server", name, "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		status, exists := r.connector.Status(name)
		if !exists || status == models.McpConnected || status == models.McpDisconnected {
			// Resolved by the caller, or explicitly disconnected by the user.
			return
		}

		if r.connector.Connect(ctx, name) {
			r.logger.Info("Reconnected MCP server", "server", name, "attempt", attempt)
			return
		}
	}
	r.logger.Warn("Reconnection gave up", "server", name, "attempts", r.config.MaxAttempts)
}

// backoff computes the jittered exponential delay for an attempt:
// base = min(initial * multiplier^(n-1), max), jitter uniform in ±25% of
// base, floored at zero.
func (r *ReconnectCoordinator) backoff(attempt int) time.Duration {
	base := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if max := float64(r.config.MaxDelay); base > max {
		base = max
	}
	jitter := base * 0.25 * (2*rand.Float64() - 1)
	delay := base + jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// clear removes the task's own in-flight entry. A newer task registered
// under the same name is left untouched.
func (r *ReconnectCoordinator) clear(name string, task *reconnectTask) {
	r.mu.Lock()
	if current, ok := r.inflight[name]; ok && current == task {
		current.cancel()
		delete(r.inflight, name)
	}
	r.mu.Unlock()
}
