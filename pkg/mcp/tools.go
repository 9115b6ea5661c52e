package mcp

import (
	"context"
	"fmt"
	"sort"
)

// DefaultMaxToolOutputLength caps tool output before it reaches the agent.
const DefaultMaxToolOutputLength = 50_000

// ToolCallback is an invokable tool discovered on a connected server.
type ToolCallback struct {
	Name        string
	Description string
	InputSchema any
	ServerName  string

	call func(ctx context.Context, args map[string]any) (string, error)
}

// NewToolCallback builds a callback around an invoke function. The
// connection manager wraps discovered tools this way; other callers (stubs,
// local tools) may too.
func NewToolCallback(name, description string, schema any, serverName string,
	fn func(ctx context.Context, args map[string]any) (string, error)) *ToolCallback {
	return &ToolCallback{
		Name:        name,
		Description: description,
		InputSchema: schema,
		ServerName:  serverName,
		call:        fn,
	}
}

// Call invokes the tool; errors come back as errors, not content. Callbacks
// built by the connection manager truncate the result to its configured
// output limit; callbacks from NewToolCallback return what fn returns.
func (t *ToolCallback) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.call(ctx, args)
}

// DuplicateToolHook observes tool-name collisions during aggregation.
type DuplicateToolHook func(toolName, keptServer, droppedServer string)

// dedupeCallbacks concatenates per-server callbacks in lexicographic server
// order. On a name collision the lexicographically-first server wins and the
// drop is reported through the hook.
func dedupeCallbacks(byServer map[string][]*ToolCallback, onDuplicate DuplicateToolHook) []*ToolCallback {
	servers := make([]string, 0, len(byServer))
	for name := range byServer {
		servers = append(servers, name)
	}
	sort.Strings(servers)

	seen := make(map[string]string) // toolName → winning server
	var out []*ToolCallback
	for _, server := range servers {
		for _, cb := range byServer[server] {
			if winner, dup := seen[cb.Name]; dup {
				if onDuplicate != nil {
					onDuplicate(cb.Name, winner, server)
				}
				continue
			}
			seen[cb.Name] = server
			out = append(out, cb)
		}
	}
	return out
}

// truncateToolOutput caps output at limit characters, appending a marker
// that states how much was cut.
func truncateToolOutput(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n[TRUNCATED: %d of %d characters shown]", limit, len(s))
}
