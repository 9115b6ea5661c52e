package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// DefaultBaselineTTL is how long a computed baseline stays cached.
const DefaultBaselineTTL = 10 * time.Minute

// BaselineQuery computes the historical distribution of a metric.
type BaselineQuery interface {
	QueryBaseline(ctx context.Context, tenantID, metric string) (*models.Baseline, error)
}

// BaselineCalculator caches baselines per (tenant, metric) with a TTL.
// GetBaseline returns nil when the baseline has fewer than 24 samples —
// anomaly rules do not fire on thin history.
type BaselineCalculator struct {
	query BaselineQuery
	ttl   time.Duration

	mu    sync.Mutex
	cache map[baselineKey]baselineEntry

	now    func() time.Time
	logger *slog.Logger
}

type baselineKey struct {
	tenantID string
	metric   string
}

type baselineEntry struct {
	baseline *models.Baseline // nil = known-unavailable
	fetched  time.Time
}

// NewBaselineCalculator creates a calculator. ttl <= 0 uses the default.
func NewBaselineCalculator(query BaselineQuery, ttl time.Duration) *BaselineCalculator {
	if query == nil {
		panic("alerts.NewBaselineCalculator: query must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultBaselineTTL
	}
	return &BaselineCalculator{
		query:  query,
		ttl:    ttl,
		cache:  make(map[baselineKey]baselineEntry),
		now:    time.Now,
		logger: slog.Default().With("component", "baseline-calculator"),
	}
}

// GetBaseline returns the cached or freshly-queried baseline, or nil when
// the sample count is below the validity minimum.
func (c *BaselineCalculator) GetBaseline(ctx context.Context, tenantID, metric string) (*models.Baseline, error) {
	key := baselineKey{tenantID: tenantID, metric: metric}

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && c.now().Sub(entry.fetched) < c.ttl {
		c.mu.Unlock()
		return entry.baseline, nil
	}
	c.mu.Unlock()

	b, err := c.query.QueryBaseline(ctx, tenantID, metric)
	if err != nil {
		return nil, fmt.Errorf("baseline for %q/%s: %w", tenantID, metric, err)
	}
	if b != nil && b.SampleCount < models.MinBaselineSamples {
		b = nil
	}

	c.mu.Lock()
	c.cache[key] = baselineEntry{baseline: b, fetched: c.now()}
	c.mu.Unlock()
	return b, nil
}

// Invalidate drops a cached baseline.
func (c *BaselineCalculator) Invalidate(tenantID, metric string) {
	c.mu.Lock()
	delete(c.cache, baselineKey{tenantID: tenantID, metric: metric})
	c.mu.Unlock()
}
