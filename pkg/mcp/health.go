package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// Health probe defaults.
const (
	DefaultHealthInterval    = 15 * time.Second
	DefaultHealthPingTimeout = 5 * time.Second
)

// EventPublisher is the non-blocking pipeline publish port.
type EventPublisher interface {
	Publish(ev models.MetricEvent) bool
}

// Probe checks a connected server by listing its tools. Connection-level
// failures mark the server FAILED and schedule reconnection.
func (m *Manager) Probe(ctx context.Context, name string) (int, error) {
	m.mu.RLock()
	st, ok := m.servers[name]
	var session Session
	if ok {
		session = st.session
	}
	m.mu.RUnlock()
	if session == nil {
		return 0, fmt.Errorf("server %q has no active session", name)
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		if isConnectionError(err) {
			m.onTransportError(name, err)
		}
		return 0, err
	}
	return len(tools), nil
}

// HealthProbe periodically probes connected servers and publishes
// McpHealthEvents into the metrics pipeline.
type HealthProbe struct {
	manager   *Manager
	publisher EventPublisher

	interval    time.Duration
	pingTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthProbe creates a health probe over the manager.
func NewHealthProbe(manager *Manager, publisher EventPublisher, interval, pingTimeout time.Duration) *HealthProbe {
	if manager == nil {
		panic("mcp.NewHealthProbe: manager must not be nil")
	}
	if publisher == nil {
		panic("mcp.NewHealthProbe: publisher must not be nil")
	}
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if pingTimeout <= 0 {
		pingTimeout = DefaultHealthPingTimeout
	}
	return &HealthProbe{
		manager:     manager,
		publisher:   publisher,
		interval:    interval,
		pingTimeout: pingTimeout,
		logger:      slog.Default().With("component", "mcp-health"),
	}
}

// Start launches the probe loop. Calling Start on a running probe is a
// no-op.
func (p *HealthProbe) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Stop shuts the probe loop down and waits for it to exit.
func (p *HealthProbe) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

func (p *HealthProbe) run(ctx context.Context) {
	defer close(p.done)

	p.checkAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAll(ctx)
		}
	}
}

func (p *HealthProbe) checkAll(ctx context.Context) {
	for name, status := range p.manager.Statuses() {
		if status != models.McpConnected {
			continue
		}
		p.checkServer(ctx, name)
	}
}

func (p *HealthProbe) checkServer(ctx context.Context, name string) {
	probeCtx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()

	start := time.Now()
	toolCount, err := p.manager.Probe(probeCtx, name)
	elapsed := time.Since(start).Milliseconds()

	ev := &models.McpHealthEvent{
		ServerName:     name,
		ResponseTimeMs: elapsed,
		ToolCount:      toolCount,
	}
	if err != nil {
		ev.Status = string(models.McpFailed)
		ev.ErrorClass = fmt.Sprintf("%T", err)
		ev.ErrorMessage = err.Error()
		p.logger.Debug("MCP health probe failed", "server", name, "error", err)
	} else {
		ev.Status = string(models.McpConnected)
	}
	p.publisher.Publish(ev)
}
