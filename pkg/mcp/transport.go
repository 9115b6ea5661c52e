// Package mcp manages connections to external MCP (Model Context Protocol)
// servers: a per-server lifecycle state machine, stdio/SSE transports, tool
// discovery, and jittered-backoff reconnection.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/version"
)

// ErrTransportUnsupported is returned by an SDK transport asked to open a
// kind other than STDIO or SSE. The connection manager rejects HTTP servers
// before reaching a transport (Connect returns false) and does not return
// this error.
var ErrTransportUnsupported = errors.New("transport not supported")

// ToolDef describes one tool exposed by a connected server.
type ToolDef struct {
	Name        string
	Description string
	InputSchema any
}

// Session is an open connection to an MCP server.
type Session interface {
	ListTools(ctx context.Context) ([]ToolDef, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Transport opens sessions for one transport type. The connection manager is
// generic over this capability, which keeps the state machine testable
// without spawning processes.
type Transport interface {
	Open(ctx context.Context, server *models.McpServer) (Session, error)
}

// SDKTransports returns the production transport set backed by the MCP SDK.
func SDKTransports(connectionTimeout time.Duration) map[models.McpTransport]Transport {
	return map[models.McpTransport]Transport{
		models.TransportStdio: &sdkTransport{connectionTimeout: connectionTimeout, kind: models.TransportStdio},
		models.TransportSSE:   &sdkTransport{connectionTimeout: connectionTimeout, kind: models.TransportSSE},
	}
}

// sdkTransport opens MCP SDK sessions over stdio or SSE.
type sdkTransport struct {
	connectionTimeout time.Duration
	kind              models.McpTransport
}

func (t *sdkTransport) Open(ctx context.Context, server *models.McpServer) (Session, error) {
	var transport mcpsdk.Transport
	switch t.kind {
	case models.TransportStdio:
		command := server.ConfigString("command")
		if command == "" {
			return nil, fmt.Errorf("stdio transport requires command")
		}
		// Relative names resolve through PATH at spawn time; explicit paths
		// must exist up front so a typo fails fast instead of on every
		// reconnect attempt.
		if strings.Contains(command, "/") {
			if _, err := os.Stat(command); err != nil {
				return nil, fmt.Errorf("stdio command %q not found: %w", command, err)
			}
		}
		cmd := exec.Command(command, server.ConfigStrings("args")...)
		cmd.Env = os.Environ()
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case models.TransportSSE:
		rawURL := server.ConfigString("url")
		if rawURL == "" {
			return nil, fmt.Errorf("SSE transport requires url")
		}
		u, err := url.Parse(rawURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("SSE transport requires an absolute http(s) url, got %q", rawURL)
		}
		transport = &mcpsdk.SSEClientTransport{Endpoint: rawURL}
	default:
		return nil, fmt.Errorf("%w: %s", ErrTransportUnsupported, t.kind)
	}

	initCtx, cancel := context.WithTimeout(ctx, t.connectionTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %q: %w", server.Name, err)
	}
	return &sdkSession{session: session}, nil
}

// sdkSession adapts an SDK client session to the Session interface.
type sdkSession struct {
	session *mcpsdk.ClientSession
}

func (s *sdkSession) ListTools(ctx context.Context) ([]ToolDef, error) {
	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	tools := make([]ToolDef, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

func (s *sdkSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := s.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}
	content := extractTextContent(result)
	if result.IsError {
		return "", fmt.Errorf("tool %q failed: %s", name, content)
	}
	return content, nil
}

func (s *sdkSession) Close() error {
	return s.session.Close()
}

// extractTextContent concatenates TextContent items. Non-text content
// (images, embedded resources) is logged at debug level and skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// MarshalSchema serializes a tool's input schema to a JSON string for
// callers that need a wire representation.
func MarshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return ""
	}
	return string(data)
}
