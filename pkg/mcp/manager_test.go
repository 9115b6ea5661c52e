package mcp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/models"
)

type fakeSession struct {
	mu       sync.Mutex
	tools    []ToolDef
	listErr  error
	callOut  string
	callErr  error
	closed   bool
	closeErr error
}

func (s *fakeSession) ListTools(context.Context) ([]ToolDef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tools, nil
}

func (s *fakeSession) CallTool(context.Context, string, map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callErr != nil {
		return "", s.callErr
	}
	return s.callOut, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

type fakeTransport struct {
	mu      sync.Mutex
	openErr error
	session *fakeSession
	opens   int
}

func (t *fakeTransport) Open(context.Context, *models.McpServer) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.openErr != nil {
		return nil, t.openErr
	}
	if t.session == nil {
		t.session = &fakeSession{}
	}
	return t.session, nil
}

func (t *fakeTransport) setOpenErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

func newTestManager(t *testing.T, transport Transport, cfg ManagerConfig) *Manager {
	t.Helper()
	transports := map[models.McpTransport]Transport{
		models.TransportStdio: transport,
		models.TransportSSE:   transport,
	}
	m := NewManager(cfg, transports, nil)
	m.reconnect.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func stdioServer(name string) *models.McpServer {
	return &models.McpServer{
		Name:      name,
		Transport: models.TransportStdio,
		Config:    map[string]any{"command": "server-bin"},
	}
}

func TestManagerRegisterStartsPending(t *testing.T) {
	m := newTestManager(t, &fakeTransport{}, ManagerConfig{})

	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))
	status, ok := m.Status("srv")
	require.True(t, ok)
	assert.Equal(t, models.McpPending, status)
}

func TestManagerAllowlist(t *testing.T) {
	m := newTestManager(t, &fakeTransport{}, ManagerConfig{Allowlist: []string{"allowed"}})

	assert.NoError(t, m.Register(context.Background(), stdioServer("allowed")))
	assert.ErrorIs(t, m.Register(context.Background(), stdioServer("denied")), ErrNotAllowed)
	// Comparison is exact and case-sensitive.
	assert.ErrorIs(t, m.Register(context.Background(), stdioServer("Allowed")), ErrNotAllowed)
}

func TestManagerConnectSuccess(t *testing.T) {
	transport := &fakeTransport{session: &fakeSession{tools: []ToolDef{
		{Name: "get_pods", Description: "list pods"},
	}}}
	m := newTestManager(t, transport, ManagerConfig{})

	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))
	require.True(t, m.Connect(context.Background(), "srv"))

	status, _ := m.Status("srv")
	assert.Equal(t, models.McpConnected, status)

	cb, ok := m.Tool("srv", "get_pods")
	require.True(t, ok)
	assert.Equal(t, "srv", cb.ServerName)

	assert.True(t, m.EnsureConnected(context.Background(), "srv"))
}

func TestManagerConnectUnknownServer(t *testing.T) {
	m := newTestManager(t, &fakeTransport{}, ManagerConfig{})
	assert.False(t, m.Connect(context.Background(), "ghost"))
}

func TestManagerConnectFailureSchedulesReconnect(t *testing.T) {
	transport := &fakeTransport{openErr: errors.New("spawn failed")}
	m := newTestManager(t, transport, ManagerConfig{
		Reconnection: ReconnectConfig{Enabled: true, InitialDelay: time.Hour, MaxAttempts: 3},
	})

	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))
	assert.False(t, m.Connect(context.Background(), "srv"))

	status, _ := m.Status("srv")
	assert.Equal(t, models.McpFailed, status)
	assert.True(t, m.reconnect.InFlight("srv"))
}

// Re-registering a failed server with a working definition and calling
// EnsureConnected brings it up within one synchronous attempt.
func TestManagerRecoversAfterReregister(t *testing.T) {
	transport := &fakeTransport{openErr: errors.New("no such file")}
	m := newTestManager(t, transport, ManagerConfig{
		Reconnection: ReconnectConfig{Enabled: true, InitialDelay: time.Hour, MaxAttempts: 3},
	})

	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))
	require.False(t, m.Connect(context.Background(), "srv"))

	transport.setOpenErr(nil)
	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))
	assert.True(t, m.EnsureConnected(context.Background(), "srv"))

	status, _ := m.Status("srv")
	assert.Equal(t, models.McpConnected, status)
}

func TestManagerEnsureConnectedStates(t *testing.T) {
	m := newTestManager(t, &fakeTransport{}, ManagerConfig{
		Reconnection: ReconnectConfig{Enabled: false},
	})
	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))

	// PENDING reports false without connecting.
	assert.False(t, m.EnsureConnected(context.Background(), "srv"))
	status, _ := m.Status("srv")
	assert.Equal(t, models.McpPending, status)

	// Unknown server reports false.
	assert.False(t, m.EnsureConnected(context.Background(), "ghost"))
}

func TestManagerDisconnect(t *testing.T) {
	session := &fakeSession{tools: []ToolDef{{Name: "t"}}}
	m := newTestManager(t, &fakeTransport{session: session}, ManagerConfig{})

	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))
	require.True(t, m.Connect(context.Background(), "srv"))

	m.Disconnect("srv")

	status, _ := m.Status("srv")
	assert.Equal(t, models.McpDisconnected, status)
	assert.True(t, session.closed)
	_, ok := m.Tool("srv", "t")
	assert.False(t, ok)
}

func TestManagerDisconnectedStaysPutWithoutEnsure(t *testing.T) {
	// Explicit disconnect is user intent: the reconnect loop must not revive
	// the server, but EnsureConnected may.
	session := &fakeSession{}
	m := newTestManager(t, &fakeTransport{session: session}, ManagerConfig{
		Reconnection: ReconnectConfig{Enabled: true, InitialDelay: time.Millisecond, MaxAttempts: 2},
	})
	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))
	require.True(t, m.Connect(context.Background(), "srv"))
	m.Disconnect("srv")

	assert.False(t, m.reconnect.InFlight("srv"))
	assert.True(t, m.EnsureConnected(context.Background(), "srv"))
}

func TestManagerUnregister(t *testing.T) {
	m := newTestManager(t, &fakeTransport{}, ManagerConfig{})
	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))

	m.Unregister(context.Background(), "srv")
	_, ok := m.Status("srv")
	assert.False(t, ok)
}

func TestManagerToolOutputTruncation(t *testing.T) {
	long := strings.Repeat("x", 100)
	session := &fakeSession{tools: []ToolDef{{Name: "big"}}, callOut: long}
	m := newTestManager(t, &fakeTransport{session: session}, ManagerConfig{MaxToolOutputLength: 40})

	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))
	require.True(t, m.Connect(context.Background(), "srv"))

	cb, ok := m.Tool("srv", "big")
	require.True(t, ok)
	out, err := cb.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("x", 40)))
	assert.Contains(t, out, "[TRUNCATED: 40 of 100 characters shown]")
}

func TestManagerTransportErrorDuringCallSchedulesReconnect(t *testing.T) {
	session := &fakeSession{tools: []ToolDef{{Name: "t"}}, callErr: errors.New("broken pipe")}
	m := newTestManager(t, &fakeTransport{session: session}, ManagerConfig{
		Reconnection: ReconnectConfig{Enabled: true, InitialDelay: time.Hour, MaxAttempts: 3},
	})

	require.NoError(t, m.Register(context.Background(), stdioServer("srv")))
	require.True(t, m.Connect(context.Background(), "srv"))

	cb, _ := m.Tool("srv", "t")
	_, err := cb.Call(context.Background(), nil)
	require.Error(t, err)

	status, _ := m.Status("srv")
	assert.Equal(t, models.McpFailed, status)
	assert.True(t, m.reconnect.InFlight("srv"))
}

func TestManagerAllToolCallbacksDedup(t *testing.T) {
	m := newTestManager(t, &fakeTransport{}, ManagerConfig{})

	var dropped []string
	m.OnDuplicateTool = func(toolName, kept, droppedServer string) {
		dropped = append(dropped, toolName+":"+kept+"<-"+droppedServer)
	}

	// Install tool state directly; aggregation order is what is under test.
	m.mu.Lock()
	m.servers["beta"] = &serverState{status: models.McpConnected, tools: []*ToolCallback{
		{Name: "shared", ServerName: "beta"},
		{Name: "beta_only", ServerName: "beta"},
	}}
	m.servers["alpha"] = &serverState{status: models.McpConnected, tools: []*ToolCallback{
		{Name: "shared", ServerName: "alpha"},
	}}
	m.mu.Unlock()

	callbacks := m.AllToolCallbacks()
	require.Len(t, callbacks, 2)
	assert.Equal(t, "shared", callbacks[0].Name)
	assert.Equal(t, "alpha", callbacks[0].ServerName, "lexicographically first server wins")
	assert.Equal(t, "beta_only", callbacks[1].Name)
	assert.Equal(t, []string{"shared:alpha<-beta"}, dropped)
}

func TestManagerHTTPTransportUnsupported(t *testing.T) {
	m := newTestManager(t, &fakeTransport{}, ManagerConfig{
		Reconnection: ReconnectConfig{Enabled: true, InitialDelay: time.Millisecond},
	})
	require.NoError(t, m.Register(context.Background(), &models.McpServer{
		Name:      "http-srv",
		Transport: models.TransportHTTP,
		Config:    map[string]any{"url": "https://example.com/mcp"},
	}))

	assert.False(t, m.Connect(context.Background(), "http-srv"))
	status, _ := m.Status("http-srv")
	assert.Equal(t, models.McpFailed, status)
	assert.False(t, m.reconnect.InFlight("http-srv"), "unsupported transport must not reconnect")
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(errors.New("read tcp: connection reset by peer")))
	assert.True(t, isConnectionError(errors.New("write: broken pipe")))
	assert.False(t, isConnectionError(errors.New("invalid params")))
}
