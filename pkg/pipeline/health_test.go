package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthMonitorDropCounting(t *testing.T) {
	m := NewHealthMonitor(nil)
	start := time.Now()

	m.RecordDrop(3)
	m.RecordDrop(2)
	m.RecordDrop(0)  // ignored
	m.RecordDrop(-1) // ignored

	assert.Equal(t, int64(5), m.TotalDropped())
	assert.Equal(t, int64(5), m.DroppedSince(start))
	assert.Equal(t, int64(0), m.DroppedSince(time.Now().Add(time.Minute)))
}

func TestHealthMonitorBufferUsageClamped(t *testing.T) {
	m := NewHealthMonitor(nil)

	m.UpdateBufferUsage(42)
	assert.Equal(t, 42, m.BufferUsagePercent())

	m.UpdateBufferUsage(150)
	assert.Equal(t, 100, m.BufferUsagePercent())

	m.UpdateBufferUsage(-5)
	assert.Equal(t, 0, m.BufferUsagePercent())
}

func TestHealthMonitorRefreshLag(t *testing.T) {
	m := NewHealthMonitor(nil)
	assert.Equal(t, int64(0), m.AggregateRefreshLagMs())

	m.MarkRefreshed(time.Now().Add(-2 * time.Second))
	lag := m.AggregateRefreshLagMs()
	assert.GreaterOrEqual(t, lag, int64(2000))
	assert.Less(t, lag, int64(10000))
}

func TestHealthMonitorDropHistoryCoalesces(t *testing.T) {
	m := NewHealthMonitor(nil)
	for i := 0; i < 100; i++ {
		m.RecordDrop(1)
	}
	// Rapid drops coalesce into one per-second entry but keep the full count.
	assert.Equal(t, int64(100), m.TotalDropped())
	assert.Equal(t, int64(100), m.DroppedSince(time.Now().Add(-time.Minute)))
}
