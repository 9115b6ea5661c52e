package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/models"
)

type fakeConnector struct {
	mu       sync.Mutex
	status   models.McpStatus
	exists   bool
	attempts int
	// succeedAfter: Connect succeeds on this attempt number (0 = never).
	succeedAfter int
}

func (c *fakeConnector) Connect(context.Context, string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.succeedAfter > 0 && c.attempts >= c.succeedAfter {
		c.status = models.McpConnected
		return true
	}
	return false
}

func (c *fakeConnector) Status(string) (models.McpStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.exists
}

func (c *fakeConnector) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func testReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     20 * time.Millisecond,
	}
}

func TestReconnectEventualSuccess(t *testing.T) {
	conn := &fakeConnector{status: models.McpFailed, exists: true, succeedAfter: 2}
	r := newReconnectCoordinator(testReconnectConfig(), conn)
	r.Start(context.Background())
	defer r.Stop()

	r.Schedule("srv")
	require.Eventually(t, func() bool {
		return conn.attemptCount() == 2 && !r.InFlight("srv")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	conn := &fakeConnector{status: models.McpFailed, exists: true}
	r := newReconnectCoordinator(testReconnectConfig(), conn)
	r.Start(context.Background())
	defer r.Stop()

	r.Schedule("srv")
	require.Eventually(t, func() bool { return !r.InFlight("srv") }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, conn.attemptCount())
}

func TestReconnectDedup(t *testing.T) {
	conn := &fakeConnector{status: models.McpFailed, exists: true}
	cfg := testReconnectConfig()
	cfg.InitialDelay = time.Hour
	r := newReconnectCoordinator(cfg, conn)
	r.Start(context.Background())
	defer r.Stop()

	r.Schedule("srv")
	r.Schedule("srv")
	r.Schedule("srv")

	assert.True(t, r.InFlight("srv"))
	r.Cancel("srv")
	require.Eventually(t, func() bool { return !r.InFlight("srv") }, time.Second, time.Millisecond)
	assert.Zero(t, conn.attemptCount(), "cancelled before the first backoff elapsed")
}

func TestReconnectStopsWhenResolvedElsewhere(t *testing.T) {
	// CONNECTED (caller fixed it) and DISCONNECTED (user intent) both end the
	// loop without an attempt.
	for _, status := range []models.McpStatus{models.McpConnected, models.McpDisconnected} {
		conn := &fakeConnector{status: status, exists: true}
		r := newReconnectCoordinator(testReconnectConfig(), conn)
		r.Start(context.Background())

		r.Schedule("srv")
		require.Eventually(t, func() bool { return !r.InFlight("srv") }, time.Second, time.Millisecond)
		assert.Zero(t, conn.attemptCount(), "status %s must not reconnect", status)
		r.Stop()
	}
}

func TestReconnectStopsWhenServerRemoved(t *testing.T) {
	conn := &fakeConnector{status: models.McpFailed, exists: false}
	r := newReconnectCoordinator(testReconnectConfig(), conn)
	r.Start(context.Background())
	defer r.Stop()

	r.Schedule("srv")
	require.Eventually(t, func() bool { return !r.InFlight("srv") }, time.Second, time.Millisecond)
	assert.Zero(t, conn.attemptCount())
}

func TestReconnectDisabledIgnoresSchedule(t *testing.T) {
	cfg := testReconnectConfig()
	cfg.Enabled = false
	r := newReconnectCoordinator(cfg, &fakeConnector{})
	r.Start(context.Background())
	defer r.Stop()

	r.Schedule("srv")
	assert.False(t, r.InFlight("srv"))
}

func TestBackoffBounds(t *testing.T) {
	r := newReconnectCoordinator(ReconnectConfig{
		Enabled:      true,
		MaxAttempts:  5,
		InitialDelay: 5 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
	}, &fakeConnector{})

	// base per attempt: 5s, 10s, 20s, 40s, 60s (capped); jitter is ±25%.
	bases := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		base := float64(bases[attempt-1])
		for i := 0; i < 50; i++ {
			d := r.backoff(attempt)
			assert.GreaterOrEqual(t, float64(d), 0.75*base-1)
			assert.LessOrEqual(t, float64(d), 1.25*base+1)
		}
	}
}
