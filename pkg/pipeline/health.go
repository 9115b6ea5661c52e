package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// dropHistoryLimit bounds the recent-drop history. Entries are coalesced per
// second, so this covers over an hour of sustained dropping.
const dropHistoryLimit = 4096

// HealthMonitor tracks pipeline health: total drops, a bounded recent-drop
// history, current buffer usage, and aggregate refresh lag. All write paths
// are non-blocking; the alert evaluator and the ops API read from here.
type HealthMonitor struct {
	totalDropped atomic.Int64
	bufferUsage  atomic.Int64 // percent, 0..100
	lastRefresh  atomic.Int64 // unix milli of last successful flush; 0 = never

	mu      sync.Mutex
	history []dropEntry

	droppedTotal prometheus.Counter
	usageGauge   prometheus.Gauge
	lagGauge     prometheus.GaugeFunc
}

type dropEntry struct {
	at time.Time
	n  int64
}

// NewHealthMonitor creates a monitor and registers its collectors with reg.
// A nil reg uses a private registry (useful in tests).
func NewHealthMonitor(reg prometheus.Registerer) *HealthMonitor {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &HealthMonitor{}
	m.droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "argus_pipeline_dropped_events_total",
		Help: "Metric events dropped because the ring buffer was full or a batch flush failed.",
	})
	m.usageGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "argus_pipeline_buffer_usage_percent",
		Help: "Ring buffer usage at the last writer tick.",
	})
	m.lagGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "argus_pipeline_aggregate_refresh_lag_ms",
		Help: "Milliseconds since the last successful batch flush.",
	}, func() float64 {
		return float64(m.AggregateRefreshLagMs())
	})
	reg.MustRegister(m.droppedTotal, m.usageGauge, m.lagGauge)
	return m
}

// RecordDrop counts n dropped events.
func (m *HealthMonitor) RecordDrop(n int) {
	if n <= 0 {
		return
	}
	m.totalDropped.Add(int64(n))
	m.droppedTotal.Add(float64(n))

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if last := len(m.history) - 1; last >= 0 && now.Sub(m.history[last].at) < time.Second {
		m.history[last].n += int64(n)
		return
	}
	if len(m.history) >= dropHistoryLimit {
		copy(m.history, m.history[1:])
		m.history = m.history[:len(m.history)-1]
	}
	m.history = append(m.history, dropEntry{at: now, n: int64(n)})
}

// TotalDropped returns the process-lifetime drop count.
func (m *HealthMonitor) TotalDropped() int64 {
	return m.totalDropped.Load()
}

// DroppedSince returns the number of drops recorded at or after t. When t
// predates the bounded history, the oldest retained entries still count, so
// the result is a lower bound under sustained overload.
func (m *HealthMonitor) DroppedSince(t time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].at.Before(t) {
			break
		}
		total += m.history[i].n
	}
	return total
}

// UpdateBufferUsage sets the buffer usage percentage observed by the writer.
func (m *HealthMonitor) UpdateBufferUsage(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	m.bufferUsage.Store(int64(percent))
	m.usageGauge.Set(float64(percent))
}

// BufferUsagePercent returns the buffer usage set at the last writer tick.
func (m *HealthMonitor) BufferUsagePercent() int {
	return int(m.bufferUsage.Load())
}

// MarkRefreshed records a successful flush; AggregateRefreshLagMs measures
// from this instant.
func (m *HealthMonitor) MarkRefreshed(t time.Time) {
	m.lastRefresh.Store(t.UnixMilli())
}

// AggregateRefreshLagMs returns milliseconds since the last successful flush,
// or 0 before the first flush.
func (m *HealthMonitor) AggregateRefreshLagMs() int64 {
	last := m.lastRefresh.Load()
	if last == 0 {
		return 0
	}
	lag := time.Now().UnixMilli() - last
	if lag < 0 {
		return 0
	}
	return lag
}
