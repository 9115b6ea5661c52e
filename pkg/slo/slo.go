// Package slo computes availability error budgets, burn rates, and Apdex
// scores from request aggregates.
package slo

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Apdex latency bucket boundaries.
const (
	ApdexSatisfiedMs  = 5_000
	ApdexToleratingMs = 20_000
)

// RequestCounts is the windowed request aggregate the calculations run over.
type RequestCounts struct {
	Total  int64
	Failed int64
}

// CountSource provides request counts per tenant and window.
type CountSource interface {
	GetRequestCounts(ctx context.Context, tenantID string, from, to time.Time) (RequestCounts, error)
}

// ErrorBudget is the availability budget state over a window.
type ErrorBudget struct {
	SloTarget           float64 `json:"slo_target"`
	TotalRequests       int64   `json:"total_requests"`
	FailedRequests      int64   `json:"failed_requests"`
	BudgetTotal         int64   `json:"budget_total"`
	BudgetConsumed      int64   `json:"budget_consumed"`
	BudgetRemaining     float64 `json:"budget_remaining"`
	CurrentAvailability float64 `json:"current_availability"`
	BurnRate            float64 `json:"burn_rate"`
}

// Service computes SLO figures from a count source.
type Service struct {
	counts CountSource
}

// NewService creates an SLO service.
func NewService(counts CountSource) *Service {
	if counts == nil {
		panic("slo.NewService: counts must not be nil")
	}
	return &Service{counts: counts}
}

// CalculateErrorBudget computes the error budget for a tenant against the
// given availability target over [from, to].
//
// With zero requests the budget is untouched: remaining = 1.0,
// availability = 1.0, burn rate = 0.0.
func (s *Service) CalculateErrorBudget(ctx context.Context, tenantID string, sloTarget float64, from, to time.Time) (ErrorBudget, error) {
	rc, err := s.counts.GetRequestCounts(ctx, tenantID, from, to)
	if err != nil {
		return ErrorBudget{}, fmt.Errorf("fetch request counts for %q: %w", tenantID, err)
	}
	return ComputeErrorBudget(sloTarget, rc), nil
}

// ComputeErrorBudget is the pure-arithmetic core of CalculateErrorBudget.
func ComputeErrorBudget(sloTarget float64, rc RequestCounts) ErrorBudget {
	b := ErrorBudget{
		SloTarget:      sloTarget,
		TotalRequests:  rc.Total,
		FailedRequests: rc.Failed,
	}
	if rc.Total == 0 {
		b.BudgetRemaining = 1.0
		b.CurrentAvailability = 1.0
		b.BurnRate = 0.0
		return b
	}

	b.BudgetTotal = int64(math.Floor((1 - sloTarget) * float64(rc.Total)))
	b.BudgetConsumed = rc.Failed
	b.CurrentAvailability = 1 - float64(rc.Failed)/float64(rc.Total)

	if b.BudgetTotal > 0 {
		b.BudgetRemaining = math.Max(0, 1-float64(b.BudgetConsumed)/float64(b.BudgetTotal))
	} else if rc.Failed > 0 {
		b.BudgetRemaining = 0
	} else {
		b.BudgetRemaining = 1.0
	}

	if sloTarget < 1 {
		b.BurnRate = (float64(rc.Failed) / float64(rc.Total)) / (1 - sloTarget)
	} else if rc.Failed > 0 {
		b.BurnRate = math.Inf(1)
	}
	return b
}

// ApdexCounts are the three latency satisfaction buckets.
type ApdexCounts struct {
	Satisfied  int64 `json:"satisfied"`
	Tolerating int64 `json:"tolerating"`
	Frustrated int64 `json:"frustrated"`
}

// Add buckets one request by its latency.
func (a *ApdexCounts) Add(latencyMs int64) {
	switch {
	case latencyMs <= ApdexSatisfiedMs:
		a.Satisfied++
	case latencyMs <= ApdexToleratingMs:
		a.Tolerating++
	default:
		a.Frustrated++
	}
}

// Score returns (satisfied + tolerating/2) / total, or 1.0 with no samples.
func (a ApdexCounts) Score() float64 {
	total := a.Satisfied + a.Tolerating + a.Frustrated
	if total == 0 {
		return 1.0
	}
	return (float64(a.Satisfied) + float64(a.Tolerating)/2) / float64(total)
}
