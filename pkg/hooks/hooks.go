// Package hooks defines the per-request lifecycle extension points consumed
// by the quota enforcer and the metric collector. Hooks are capability
// records rather than an interface hierarchy: each declares its order, the
// kinds it handles, and a single invoke function returning a tagged result.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Kind names a lifecycle extension point.
type Kind string

// Hook kinds.
const (
	BeforeAgentStart   Kind = "before_agent_start"
	AfterAgentComplete Kind = "after_agent_complete"
	BeforeToolCall     Kind = "before_tool_call"
	AfterToolCall      Kind = "after_tool_call"
)

// Result is the tagged outcome of a before-hook: Continue or Reject{reason}.
type Result struct {
	Rejected bool
	Reason   string
}

// Continue lets the request proceed.
func Continue() Result { return Result{} }

// Reject stops the request with the given reason.
func Reject(reason string) Result { return Result{Rejected: true, Reason: reason} }

// Hook is a capability record for one lifecycle extension.
//
// Invoke receives the kind being dispatched (a hook may subscribe to several)
// and, for after-hooks, the response or tool result as payload. Before-hooks
// gate the request through the returned Result.
type Hook struct {
	Name        string
	Order       int
	Enabled     bool
	FailOnError bool
	Kinds       map[Kind]bool
	Invoke      func(ctx context.Context, kind Kind, hc *Context, payload any) (Result, error)
}

// Registry holds registered hooks sorted by order.
type Registry struct {
	mu     sync.RWMutex
	hooks  []*Hook
	logger *slog.Logger
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default().With("component", "hooks")}
}

// Register adds a hook. Hooks run in ascending order; ties run in
// registration order.
func (r *Registry) Register(h *Hook) {
	if h == nil || h.Invoke == nil {
		panic("hooks: Register requires a hook with an Invoke function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
	sort.SliceStable(r.hooks, func(i, j int) bool {
		return r.hooks[i].Order < r.hooks[j].Order
	})
}

// Run dispatches kind to every enabled subscriber in order.
//
// The first rejection stops the chain. A hook error stops the chain only
// when the hook declares FailOnError; otherwise it is logged and the chain
// continues. Context cancellation is always re-raised, never swallowed.
func (r *Registry) Run(ctx context.Context, kind Kind, hc *Context, payload any) (Result, error) {
	r.mu.RLock()
	hooks := make([]*Hook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		if !h.Enabled || !h.Kinds[kind] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := h.Invoke(ctx, kind, hc, payload)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Result{}, err
			}
			if h.FailOnError {
				return Result{}, fmt.Errorf("hook %q failed: %w", h.Name, err)
			}
			r.logger.Warn("Hook failed, continuing chain",
				"hook", h.Name, "kind", kind, "error", err)
			continue
		}
		if res.Rejected {
			return res, nil
		}
	}
	return Continue(), nil
}
