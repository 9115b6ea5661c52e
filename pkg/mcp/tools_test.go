package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateToolOutput(t *testing.T) {
	assert.Equal(t, "short", truncateToolOutput("short", 100))
	assert.Equal(t, "exact", truncateToolOutput("exact", 5))
	assert.Equal(t, "unbounded", truncateToolOutput("unbounded", 0))

	out := truncateToolOutput(strings.Repeat("a", 60), 50)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 50)))
	assert.Contains(t, out, "[TRUNCATED: 50 of 60 characters shown]")
}

func TestDedupeCallbacksOrdering(t *testing.T) {
	byServer := map[string][]*ToolCallback{
		"zeta":  {{Name: "a", ServerName: "zeta"}, {Name: "z", ServerName: "zeta"}},
		"alpha": {{Name: "a", ServerName: "alpha"}},
		"mid":   {{Name: "m", ServerName: "mid"}},
	}

	var drops [][3]string
	out := dedupeCallbacks(byServer, func(tool, kept, dropped string) {
		drops = append(drops, [3]string{tool, kept, dropped})
	})

	names := make([]string, len(out))
	for i, cb := range out {
		names[i] = cb.ServerName + "." + cb.Name
	}
	assert.Equal(t, []string{"alpha.a", "mid.m", "zeta.z"}, names)
	assert.Equal(t, [][3]string{{"a", "alpha", "zeta"}}, drops)
}

func TestDedupeCallbacksNilHook(t *testing.T) {
	byServer := map[string][]*ToolCallback{
		"a": {{Name: "t", ServerName: "a"}},
		"b": {{Name: "t", ServerName: "b"}},
	}
	out := dedupeCallbacks(byServer, nil)
	assert.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ServerName)
}
