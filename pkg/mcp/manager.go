package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ErrNotAllowed is returned when a server name is rejected by the allowlist.
var ErrNotAllowed = errors.New("server name not in allowlist")

// ManagerConfig tunes the connection manager.
type ManagerConfig struct {
	ConnectionTimeout   time.Duration // transport open + handshake, default 30s
	MaxToolOutputLength int           // default 50,000
	Allowlist           []string      // empty = allow all; compared exactly
	Reconnection        ReconnectConfig
}

func (c *ManagerConfig) applyDefaults() {
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.MaxToolOutputLength <= 0 {
		c.MaxToolOutputLength = DefaultMaxToolOutputLength
	}
	c.Reconnection.applyDefaults()
}

// serverState is the runtime record for one registered server.
type serverState struct {
	def     *models.McpServer
	status  models.McpStatus
	session Session
	tools   []*ToolCallback
}

// Manager owns the per-server connection lifecycle:
//
//	PENDING → CONNECTING → CONNECTED ↔ DISCONNECTED/FAILED
//
// Per-server operations are serialized by a per-server mutex so concurrent
// connect/disconnect/reconnect attempts on the same server execute in a
// total order. Different servers proceed independently.
type Manager struct {
	config     ManagerConfig
	transports map[models.McpTransport]Transport
	store      *StoreSync
	reconnect  *ReconnectCoordinator

	mu      sync.RWMutex
	servers map[string]*serverState

	// Per-server mutex for lifecycle serialization; entries are removed on
	// unregister.
	serverMu sync.Map // name → *sync.Mutex

	// OnDuplicateTool observes tool-name collisions in AllToolCallbacks.
	OnDuplicateTool DuplicateToolHook

	logger *slog.Logger
}

// NewManager creates a connection manager. store may be nil (no
// persistence); transports defaults to the SDK set.
func NewManager(cfg ManagerConfig, transports map[models.McpTransport]Transport, store *StoreSync) *Manager {
	cfg.applyDefaults()
	if transports == nil {
		transports = SDKTransports(cfg.ConnectionTimeout)
	}
	m := &Manager{
		config:     cfg,
		transports: transports,
		store:      store,
		servers:    make(map[string]*serverState),
		logger:     slog.Default().With("component", "mcp-manager"),
	}
	m.reconnect = newReconnectCoordinator(cfg.Reconnection, m)
	return m
}

// Start launches the reconnection coordinator and registers persisted
// servers, connecting those marked auto-connect.
func (m *Manager) Start(ctx context.Context) {
	m.reconnect.Start(ctx)
	if m.store == nil {
		return
	}
	for _, def := range m.store.List(ctx) {
		if err := m.Register(ctx, def); err != nil {
			m.logger.Warn("Skipping persisted MCP server", "server", def.Name, "error", err)
		}
	}
}

// Stop cancels reconnections and closes all sessions.
func (m *Manager) Stop() {
	m.reconnect.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, st := range m.servers {
		if st.session != nil {
			if err := st.session.Close(); err != nil {
				m.logger.Warn("Failed to close MCP session", "server", name, "error", err)
			}
			st.session = nil
		}
		st.tools = nil
		if st.status == models.McpConnected || st.status == models.McpConnecting {
			st.status = models.McpDisconnected
		}
	}
}

// Register adds or updates a server definition. New servers start PENDING;
// re-registration updates the definition without disturbing the lifecycle
// state. The definition is persisted fail-soft, and auto-connect servers are
// connected immediately.
func (m *Manager) Register(ctx context.Context, def *models.McpServer) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("register: server name is required")
	}
	if !m.allowed(def.Name) {
		return fmt.Errorf("register %q: %w", def.Name, ErrNotAllowed)
	}

	m.mu.Lock()
	if st, ok := m.servers[def.Name]; ok {
		st.def = def
	} else {
		m.servers[def.Name] = &serverState{def: def, status: models.McpPending}
	}
	m.mu.Unlock()

	if m.store != nil {
		m.store.SaveIfAbsent(ctx, def)
	}

	if def.AutoConnect {
		m.Connect(ctx, def.Name)
	}
	return nil
}

// Connect opens the transport, discovers tools, and moves the server to
// CONNECTED. Returns false when the server is unknown or the attempt failed;
// failures schedule a background reconnection unless the transport is
// permanently unsupported.
func (m *Manager) Connect(ctx context.Context, name string) bool {
	def, ok := m.definition(name)
	if !ok {
		return false
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; unregister may have raced us.
	def, ok = m.definition(name)
	if !ok {
		return false
	}

	m.setStatus(name, models.McpConnecting)

	transport, ok := m.transports[def.Transport]
	if !ok || def.Transport == models.TransportHTTP {
		m.logger.Warn("MCP transport unsupported", "server", name, "transport", def.Transport)
		m.setStatus(name, models.McpFailed)
		// No reconnection: retrying an unsupported transport cannot succeed.
		return false
	}

	session, err := transport.Open(ctx, def)
	if err != nil {
		m.logger.Warn("MCP connect failed", "server", name, "error", err)
		m.setStatus(name, models.McpFailed)
		m.reconnect.Schedule(name)
		return false
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		m.logger.Warn("MCP tool discovery failed", "server", name, "error", err)
		_ = session.Close()
		m.setStatus(name, models.McpFailed)
		m.reconnect.Schedule(name)
		return false
	}

	callbacks := make([]*ToolCallback, 0, len(tools))
	for _, td := range tools {
		callbacks = append(callbacks, m.newCallback(name, td))
	}

	m.mu.Lock()
	if st, ok := m.servers[name]; ok {
		st.session = session
		st.tools = callbacks
		st.status = models.McpConnected
	}
	m.mu.Unlock()

	m.reconnect.Cancel(name)
	m.logger.Info("MCP server connected", "server", name, "tools", len(callbacks))
	return true
}

// Disconnect closes the session (gracefully, falling back to dropping it on
// close failure), clears cached tools, and cancels any pending reconnection.
func (m *Manager) Disconnect(name string) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	st, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	session := st.session
	st.session = nil
	st.tools = nil
	st.status = models.McpDisconnected
	m.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			m.logger.Warn("Graceful close failed, dropping session", "server", name, "error", err)
		}
	}
	m.reconnect.Cancel(name)
	m.logger.Info("MCP server disconnected", "server", name)
}

// Unregister disconnects the server and removes it from the runtime
// registry and, fail-soft, the persistent store.
func (m *Manager) Unregister(ctx context.Context, name string) {
	m.Disconnect(name)

	m.mu.Lock()
	delete(m.servers, name)
	m.mu.Unlock()

	if m.store != nil {
		m.store.Delete(ctx, name)
	}
	m.serverMu.Delete(name)
	m.reconnect.Cancel(name)
}

// EnsureConnected returns true when the server is CONNECTED, attempting one
// synchronous connect from FAILED/DISCONNECTED when reconnection is enabled.
// CONNECTING and PENDING report false without side effects.
func (m *Manager) EnsureConnected(ctx context.Context, name string) bool {
	status, ok := m.Status(name)
	if !ok {
		return false
	}
	switch status {
	case models.McpConnected:
		return true
	case models.McpConnecting, models.McpPending:
		return false
	case models.McpFailed, models.McpDisconnected:
		if !m.config.Reconnection.Enabled {
			return false
		}
		return m.Connect(ctx, name)
	default:
		return false
	}
}

// Status returns the lifecycle state of a server.
func (m *Manager) Status(name string) (models.McpStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.servers[name]
	if !ok {
		return "", false
	}
	return st.status, true
}

// Statuses returns a snapshot of all server states.
func (m *Manager) Statuses() map[string]models.McpStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.McpStatus, len(m.servers))
	for name, st := range m.servers {
		out[name] = st.status
	}
	return out
}

// Tool returns a named tool on a specific server.
func (m *Manager) Tool(serverName, toolName string) (*ToolCallback, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.servers[serverName]
	if !ok {
		return nil, false
	}
	for _, cb := range st.tools {
		if cb.Name == toolName {
			return cb, true
		}
	}
	return nil, false
}

// AllToolCallbacks aggregates tools across servers in lexicographic server
// order, deduplicating by tool name (first server wins; drops are reported
// through OnDuplicateTool).
func (m *Manager) AllToolCallbacks() []*ToolCallback {
	m.mu.RLock()
	byServer := make(map[string][]*ToolCallback, len(m.servers))
	for name, st := range m.servers {
		if len(st.tools) > 0 {
			byServer[name] = st.tools
		}
	}
	m.mu.RUnlock()
	return dedupeCallbacks(byServer, m.OnDuplicateTool)
}

// newCallback wraps a discovered tool with output truncation and
// transport-failure bookkeeping.
func (m *Manager) newCallback(serverName string, td ToolDef) *ToolCallback {
	cb := &ToolCallback{
		Name:        td.Name,
		Description: td.Description,
		InputSchema: td.InputSchema,
		ServerName:  serverName,
	}
	cb.call = func(ctx context.Context, args map[string]any) (string, error) {
		m.mu.RLock()
		st, ok := m.servers[serverName]
		var session Session
		if ok {
			session = st.session
		}
		m.mu.RUnlock()
		if session == nil {
			return "", fmt.Errorf("server %q has no active session", serverName)
		}
		out, err := session.CallTool(ctx, td.Name, args)
		if err != nil {
			if isConnectionError(err) {
				m.onTransportError(serverName, err)
			}
			return "", err
		}
		return truncateToolOutput(out, m.config.MaxToolOutputLength), nil
	}
	return cb
}

// onTransportError marks the server FAILED and schedules reconnection.
func (m *Manager) onTransportError(name string, err error) {
	m.logger.Warn("MCP transport error", "server", name, "error", err)
	m.mu.Lock()
	if st, ok := m.servers[name]; ok && st.status == models.McpConnected {
		if st.session != nil {
			_ = st.session.Close()
			st.session = nil
		}
		st.tools = nil
		st.status = models.McpFailed
	}
	m.mu.Unlock()
	m.reconnect.Schedule(name)
}

func (m *Manager) allowed(name string) bool {
	if len(m.config.Allowlist) == 0 {
		return true
	}
	for _, allowed := range m.config.Allowlist {
		if allowed == name {
			return true
		}
	}
	return false
}

func (m *Manager) definition(name string) (*models.McpServer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.servers[name]
	if !ok {
		return nil, false
	}
	return st.def, true
}

func (m *Manager) setStatus(name string, status models.McpStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.servers[name]; ok {
		st.status = status
	}
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	muI, _ := m.serverMu.LoadOrStore(name, &sync.Mutex{})
	return muI.(*sync.Mutex)
}

// isConnectionError detects connection-level transport failures that warrant
// a FAILED transition and reconnection.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
