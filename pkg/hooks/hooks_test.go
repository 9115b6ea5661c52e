package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHook(name string, order int, kinds []Kind, invoke func(ctx context.Context, kind Kind, hc *Context, payload any) (Result, error)) *Hook {
	kindSet := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}
	return &Hook{
		Name:    name,
		Order:   order,
		Enabled: true,
		Kinds:   kindSet,
		Invoke:  invoke,
	}
}

func TestRegistryRunsInOrder(t *testing.T) {
	r := NewRegistry()
	var calls []string
	record := func(name string) func(context.Context, Kind, *Context, any) (Result, error) {
		return func(context.Context, Kind, *Context, any) (Result, error) {
			calls = append(calls, name)
			return Continue(), nil
		}
	}
	r.Register(testHook("late", 200, []Kind{BeforeAgentStart}, record("late")))
	r.Register(testHook("early", 5, []Kind{BeforeAgentStart}, record("early")))
	r.Register(testHook("mid", 100, []Kind{BeforeAgentStart}, record("mid")))

	res, err := r.Run(context.Background(), BeforeAgentStart, NewContext("r1"), nil)
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	assert.Equal(t, []string{"early", "mid", "late"}, calls)
}

func TestRegistrySkipsDisabledAndUnsubscribed(t *testing.T) {
	r := NewRegistry()
	var calls int
	h := testHook("h", 1, []Kind{BeforeAgentStart}, func(context.Context, Kind, *Context, any) (Result, error) {
		calls++
		return Continue(), nil
	})
	h.Enabled = false
	r.Register(h)
	r.Register(testHook("other-kind", 2, []Kind{AfterToolCall}, func(context.Context, Kind, *Context, any) (Result, error) {
		calls++
		return Continue(), nil
	}))

	_, err := r.Run(context.Background(), BeforeAgentStart, NewContext("r1"), nil)
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRegistryRejectStopsChain(t *testing.T) {
	r := NewRegistry()
	var laterRan bool
	r.Register(testHook("gate", 5, []Kind{BeforeAgentStart}, func(context.Context, Kind, *Context, any) (Result, error) {
		return Reject("quota exceeded"), nil
	}))
	r.Register(testHook("collector", 200, []Kind{BeforeAgentStart}, func(context.Context, Kind, *Context, any) (Result, error) {
		laterRan = true
		return Continue(), nil
	}))

	res, err := r.Run(context.Background(), BeforeAgentStart, NewContext("r1"), nil)
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, "quota exceeded", res.Reason)
	assert.False(t, laterRan)
}

func TestRegistryErrorHandling(t *testing.T) {
	t.Run("fail-open hook error continues chain", func(t *testing.T) {
		r := NewRegistry()
		var laterRan bool
		r.Register(testHook("flaky", 1, []Kind{BeforeAgentStart}, func(context.Context, Kind, *Context, any) (Result, error) {
			return Result{}, errors.New("boom")
		}))
		r.Register(testHook("next", 2, []Kind{BeforeAgentStart}, func(context.Context, Kind, *Context, any) (Result, error) {
			laterRan = true
			return Continue(), nil
		}))

		res, err := r.Run(context.Background(), BeforeAgentStart, NewContext("r1"), nil)
		require.NoError(t, err)
		assert.False(t, res.Rejected)
		assert.True(t, laterRan)
	})

	t.Run("failOnError stops chain", func(t *testing.T) {
		r := NewRegistry()
		h := testHook("strict", 1, []Kind{BeforeAgentStart}, func(context.Context, Kind, *Context, any) (Result, error) {
			return Result{}, errors.New("boom")
		})
		h.FailOnError = true
		r.Register(h)

		_, err := r.Run(context.Background(), BeforeAgentStart, NewContext("r1"), nil)
		require.Error(t, err)
	})

	t.Run("cancellation is re-raised even for fail-open hooks", func(t *testing.T) {
		r := NewRegistry()
		r.Register(testHook("cancelled", 1, []Kind{BeforeAgentStart}, func(ctx context.Context, _ Kind, _ *Context, _ any) (Result, error) {
			return Result{}, context.Canceled
		}))

		_, err := r.Run(context.Background(), BeforeAgentStart, NewContext("r1"), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestContextMetadataAccessors(t *testing.T) {
	hc := NewContext("r1")
	hc.SetMeta(MetaTenantID, "t1")
	hc.SetMeta(MetaDurationMs, float64(1500)) // JSON-decoded number
	hc.SetMeta(MetaToolCount, 3)
	hc.SetMeta(MetaFallbackUsed, true)

	assert.Equal(t, "t1", hc.MetaString(MetaTenantID))
	assert.Equal(t, "", hc.MetaString("missing"))

	d, ok := hc.MetaInt64(MetaDurationMs)
	assert.True(t, ok)
	assert.Equal(t, int64(1500), d)

	c, ok := hc.MetaInt64(MetaToolCount)
	assert.True(t, ok)
	assert.Equal(t, int64(3), c)

	_, ok = hc.MetaInt64("missing")
	assert.False(t, ok)

	assert.True(t, hc.MetaBool(MetaFallbackUsed))
	assert.False(t, hc.MetaBool("missing"))
}

func TestMetaKeyHelpers(t *testing.T) {
	assert.Equal(t, "toolSource_get_pods", MetaToolSource("get_pods"))
	assert.Equal(t, "mcpServer_get_pods", MetaMcpServer("get_pods"))
}
