// Package api exposes the read-only ops surface: health, pipeline stats,
// MCP server statuses, active alerts, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/argus/pkg/alerts"
	"github.com/codeready-toolchain/argus/pkg/database"
	"github.com/codeready-toolchain/argus/pkg/mcp"
	"github.com/codeready-toolchain/argus/pkg/pipeline"
	"github.com/codeready-toolchain/argus/pkg/tenant"
	"github.com/codeready-toolchain/argus/pkg/version"
)

// Server wires the gin router over the control plane's read surfaces.
type Server struct {
	pool      *pgxpool.Pool
	monitor   *pipeline.HealthMonitor
	buffer    *pipeline.RingBuffer
	manager   *mcp.Manager
	instances *alerts.InstanceStore
	registry  *prometheus.Registry
}

// NewServer creates the ops API server.
func NewServer(
	pool *pgxpool.Pool,
	monitor *pipeline.HealthMonitor,
	buffer *pipeline.RingBuffer,
	manager *mcp.Manager,
	instances *alerts.InstanceStore,
	registry *prometheus.Registry,
) *Server {
	return &Server{
		pool:      pool,
		monitor:   monitor,
		buffer:    buffer,
		manager:   manager,
		instances: instances,
		registry:  registry,
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tenant.Middleware(nil))

	router.GET("/health", s.handleHealth)

	if s.registry != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/pipeline", s.handlePipeline)
	v1.GET("/mcp", s.handleMcp)
	v1.GET("/alerts", s.handleAlerts)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.pool)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"version":  version.Full(),
			"database": dbHealth,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"database": dbHealth,
	})
}

func (s *Server) handlePipeline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"buffer_size":              s.buffer.Size(),
		"buffer_capacity":          s.buffer.Capacity(),
		"buffer_usage_percent":     s.monitor.BufferUsagePercent(),
		"total_dropped":            s.monitor.TotalDropped(),
		"dropped_last_hour":        s.monitor.DroppedSince(time.Now().Add(-time.Hour)),
		"aggregate_refresh_lag_ms": s.monitor.AggregateRefreshLagMs(),
	})
}

func (s *Server) handleMcp(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": s.manager.Statuses()})
}

func (s *Server) handleAlerts(c *gin.Context) {
	active, err := s.instances.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}
