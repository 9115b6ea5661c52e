package slo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApdexScore(t *testing.T) {
	tests := []struct {
		name     string
		counts   ApdexCounts
		expected float64
	}{
		{
			name:     "mixed buckets",
			counts:   ApdexCounts{Satisfied: 800, Tolerating: 150, Frustrated: 50},
			expected: 0.875,
		},
		{
			name:     "no samples",
			counts:   ApdexCounts{},
			expected: 1.0,
		},
		{
			name:     "all frustrated",
			counts:   ApdexCounts{Frustrated: 1000},
			expected: 0.0,
		},
		{
			name:     "all satisfied",
			counts:   ApdexCounts{Satisfied: 10},
			expected: 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.counts.Score(), 1e-9)
		})
	}
}

func TestApdexAddBucketsBoundaries(t *testing.T) {
	var a ApdexCounts
	a.Add(5000)  // satisfied boundary is inclusive
	a.Add(5001)  // tolerating
	a.Add(20000) // tolerating boundary is inclusive
	a.Add(20001) // frustrated

	assert.Equal(t, int64(1), a.Satisfied)
	assert.Equal(t, int64(2), a.Tolerating)
	assert.Equal(t, int64(1), a.Frustrated)
}

func TestComputeErrorBudget(t *testing.T) {
	t.Run("typical window", func(t *testing.T) {
		// 99.5% target over 10000 requests → 50 allowed failures.
		b := ComputeErrorBudget(0.995, RequestCounts{Total: 10000, Failed: 25})
		assert.Equal(t, int64(50), b.BudgetTotal)
		assert.Equal(t, int64(25), b.BudgetConsumed)
		assert.InDelta(t, 0.5, b.BudgetRemaining, 1e-9)
		assert.InDelta(t, 0.9975, b.CurrentAvailability, 1e-9)
		assert.InDelta(t, 0.5, b.BurnRate, 1e-9)
	})

	t.Run("budget exhausted", func(t *testing.T) {
		b := ComputeErrorBudget(0.995, RequestCounts{Total: 10000, Failed: 100})
		assert.InDelta(t, 0.0, b.BudgetRemaining, 1e-9)
		assert.InDelta(t, 2.0, b.BurnRate, 1e-9)
	})

	t.Run("zero requests", func(t *testing.T) {
		b := ComputeErrorBudget(0.995, RequestCounts{})
		assert.InDelta(t, 1.0, b.BudgetRemaining, 1e-9)
		assert.InDelta(t, 1.0, b.CurrentAvailability, 1e-9)
		assert.InDelta(t, 0.0, b.BurnRate, 1e-9)
	})

	t.Run("budget rounds down", func(t *testing.T) {
		// (1 - 0.995) * 150 = 0.75 → floor to 0.
		b := ComputeErrorBudget(0.995, RequestCounts{Total: 150, Failed: 0})
		assert.Equal(t, int64(0), b.BudgetTotal)
		assert.InDelta(t, 1.0, b.BudgetRemaining, 1e-9)
	})

	t.Run("zero budget with failures", func(t *testing.T) {
		b := ComputeErrorBudget(0.995, RequestCounts{Total: 150, Failed: 3})
		assert.Equal(t, int64(0), b.BudgetTotal)
		assert.InDelta(t, 0.0, b.BudgetRemaining, 1e-9)
	})
}

type stubCounts struct {
	rc  RequestCounts
	err error
}

func (s stubCounts) GetRequestCounts(context.Context, string, time.Time, time.Time) (RequestCounts, error) {
	return s.rc, s.err
}

func TestServiceCalculateErrorBudget(t *testing.T) {
	svc := NewService(stubCounts{rc: RequestCounts{Total: 1000, Failed: 10}})
	b, err := svc.CalculateErrorBudget(context.Background(), "t1", 0.99, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.BudgetTotal)
	assert.InDelta(t, 1.0, b.BurnRate, 1e-9)
}

func TestServiceCalculateErrorBudgetPropagatesError(t *testing.T) {
	svc := NewService(stubCounts{err: errors.New("db down")})
	_, err := svc.CalculateErrorBudget(context.Background(), "t1", 0.99, time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}
