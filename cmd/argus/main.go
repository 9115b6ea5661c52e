// Argus control plane server — metric ingestion, quota enforcement, MCP
// connection management, scheduling, and alerting for an AI-agent runtime.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/codeready-toolchain/argus/pkg/alerts"
	"github.com/codeready-toolchain/argus/pkg/api"
	"github.com/codeready-toolchain/argus/pkg/cleanup"
	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/database"
	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/mcp"
	"github.com/codeready-toolchain/argus/pkg/metrics"
	"github.com/codeready-toolchain/argus/pkg/pipeline"
	"github.com/codeready-toolchain/argus/pkg/quota"
	"github.com/codeready-toolchain/argus/pkg/scheduler"
	"github.com/codeready-toolchain/argus/pkg/slo"
	"github.com/codeready-toolchain/argus/pkg/tenant"
	"github.com/codeready-toolchain/argus/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	gin.SetMode(getEnv("GIN_MODE", gin.ReleaseMode))
	log.Printf("Starting %s", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	pool := dbClient.Pool()
	log.Println("✓ Connected to PostgreSQL database")

	// Metrics pipeline
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	buffer := pipeline.NewRingBuffer(cfg.Pipeline.RingBufferSize)
	monitor := pipeline.NewHealthMonitor(registry)
	store := metrics.NewStore(pool)
	writer := pipeline.NewWriter(buffer, store, monitor, pipeline.WriterConfig{
		FlushInterval: cfg.Pipeline.FlushInterval,
		BatchSize:     cfg.Pipeline.BatchSize,
		WriterThreads: cfg.Pipeline.WriterThreads,
	})
	writer.Start(ctx)
	defer writer.Stop()

	// Query + SLO services
	queryService := metrics.NewQueryService(pool)
	sloService := slo.NewService(queryService)

	// Hook surface: quota enforcer (order 5) + metric collector (order 200)
	tenantStore := tenant.NewStore(pool)
	hookRegistry := hooks.NewRegistry()
	enforcer := quota.NewEnforcer(tenantStore, queryService, buffer, quota.BreakerConfig{})
	hookRegistry.Register(enforcer.Hook())
	collector := pipeline.NewCollector(buffer, monitor, writer)
	hookRegistry.Register(collector.Hook())

	// MCP connection manager
	serverStore := mcp.NewStoreSync(mcp.NewPgServerStore(pool))
	manager := mcp.NewManager(mcp.ManagerConfig{
		ConnectionTimeout:   cfg.Mcp.ConnectionTimeout,
		MaxToolOutputLength: cfg.Mcp.MaxToolOutputLength,
		Allowlist:           cfg.Mcp.Allowlist,
		Reconnection: mcp.ReconnectConfig{
			Enabled:      cfg.Mcp.Reconnection.Enabled,
			MaxAttempts:  cfg.Mcp.Reconnection.MaxAttempts,
			InitialDelay: cfg.Mcp.Reconnection.InitialDelay,
			Multiplier:   cfg.Mcp.Reconnection.Multiplier,
			MaxDelay:     cfg.Mcp.Reconnection.MaxDelay,
		},
	}, nil, serverStore)
	manager.Start(ctx)
	defer manager.Stop()

	healthProbe := mcp.NewHealthProbe(manager, buffer, cfg.Mcp.HealthInterval, 0)
	healthProbe.Start(ctx)
	defer healthProbe.Stop()

	// Scheduler
	jobStore := scheduler.NewJobStore(pool)
	runner := scheduler.NewRunner(
		jobStore,
		manager,
		hookRegistry,
		scheduler.NewPgToolPolicy(pool),
		scheduler.NewPgApprovalStore(pool),
		nil, // agent executor is wired by the hosting runtime
		nil,
		scheduler.NewNotifier(cfg.SchedulerSlackToken),
	)
	schedService := scheduler.NewService(jobStore, runner)
	if err := schedService.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedService.Stop()

	// Alerting
	notifiers := []alerts.Notifier{alerts.NewLogNotifier()}
	if cfg.Alerts.SlackToken != "" && cfg.Alerts.SlackChannelID != "" {
		notifiers = append(notifiers,
			alerts.NewSlackNotifier(cfg.Alerts.SlackToken, cfg.Alerts.SlackChannelID))
	}
	instanceStore := alerts.NewInstanceStore(pool)
	evaluator := alerts.NewEvaluator(
		alerts.NewRuleStore(pool),
		instanceStore,
		queryService,
		monitor,
		sloService,
		alerts.NewBaselineCalculator(queryService, cfg.Alerts.BaselineTTL),
		tenantStore,
		notifiers,
	)
	alertScheduler := alerts.NewScheduler(evaluator, cfg.Alerts.EvalInterval)
	alertScheduler.Start(ctx)
	defer alertScheduler.Destroy()

	// Retention
	cleanupService := cleanup.NewService(&cfg.Retention, pool)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	log.Println("✓ Services initialized")

	// Ops API
	server := api.NewServer(pool, monitor, buffer, manager, instanceStore, registry)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}
	go func() {
		log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
