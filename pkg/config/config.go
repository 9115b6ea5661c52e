// Package config loads the control plane's configuration from the
// environment with production defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PipelineConfig tunes the metric ingestion path.
type PipelineConfig struct {
	RingBufferSize int
	FlushInterval  time.Duration
	BatchSize      int
	WriterThreads  int
}

// RetentionConfig sets how long persisted data is kept.
type RetentionConfig struct {
	RawDays              int
	AuditYears           int
	CompressionAfterDays int
	CleanupInterval      time.Duration
}

// SloConfig carries the platform SLO defaults applied to tenants without
// explicit targets.
type SloConfig struct {
	DefaultAvailability  float64
	DefaultLatencyP99Ms  int64
}

// McpReconnectionConfig tunes the backoff reconnect loop.
type McpReconnectionConfig struct {
	Enabled      bool
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// McpConfig tunes the MCP connection manager.
type McpConfig struct {
	ConnectionTimeout   time.Duration
	MaxToolOutputLength int
	HealthInterval      time.Duration
	Allowlist           []string // empty = allow all
	Reconnection        McpReconnectionConfig
}

// AlertsConfig tunes the alert evaluation loop.
type AlertsConfig struct {
	EvalInterval   time.Duration
	BaselineTTL    time.Duration
	SlackToken     string
	SlackChannelID string
}

// Config is the umbrella configuration object.
type Config struct {
	HTTPPort  string
	Pipeline  PipelineConfig
	Retention RetentionConfig
	Slo       SloConfig
	Mcp       McpConfig
	Alerts    AlertsConfig

	SchedulerSlackToken string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Pipeline: PipelineConfig{
			RingBufferSize: getEnvInt("PIPELINE_RING_BUFFER_SIZE", 8192),
			FlushInterval:  getEnvDuration("PIPELINE_FLUSH_INTERVAL", time.Second),
			BatchSize:      getEnvInt("PIPELINE_BATCH_SIZE", 1000),
			WriterThreads:  getEnvInt("PIPELINE_WRITER_THREADS", 1),
		},
		Retention: RetentionConfig{
			RawDays:              getEnvInt("RETENTION_RAW_DAYS", 90),
			AuditYears:           getEnvInt("RETENTION_AUDIT_YEARS", 7),
			CompressionAfterDays: getEnvInt("RETENTION_COMPRESSION_AFTER_DAYS", 7),
			CleanupInterval:      getEnvDuration("RETENTION_CLEANUP_INTERVAL", time.Hour),
		},
		Slo: SloConfig{
			DefaultAvailability: getEnvFloat("SLO_DEFAULT_AVAILABILITY", 0.995),
			DefaultLatencyP99Ms: int64(getEnvInt("SLO_DEFAULT_LATENCY_P99_MS", 10000)),
		},
		Mcp: McpConfig{
			ConnectionTimeout:   getEnvDuration("MCP_CONNECTION_TIMEOUT", 30*time.Second),
			MaxToolOutputLength: getEnvInt("MCP_MAX_TOOL_OUTPUT_LENGTH", 50000),
			HealthInterval:      getEnvDuration("MCP_HEALTH_INTERVAL", 15*time.Second),
			Allowlist:           getEnvList("MCP_SERVER_ALLOWLIST"),
			Reconnection: McpReconnectionConfig{
				Enabled:      getEnvBool("MCP_RECONNECTION_ENABLED", true),
				MaxAttempts:  getEnvInt("MCP_RECONNECTION_MAX_ATTEMPTS", 5),
				InitialDelay: getEnvDuration("MCP_RECONNECTION_INITIAL_DELAY", 5*time.Second),
				Multiplier:   getEnvFloat("MCP_RECONNECTION_MULTIPLIER", 2.0),
				MaxDelay:     getEnvDuration("MCP_RECONNECTION_MAX_DELAY", 60*time.Second),
			},
		},
		Alerts: AlertsConfig{
			EvalInterval:   getEnvDuration("ALERT_EVAL_INTERVAL", 600*time.Second),
			BaselineTTL:    getEnvDuration("ALERT_BASELINE_TTL", 10*time.Minute),
			SlackToken:     os.Getenv("ALERT_SLACK_TOKEN"),
			SlackChannelID: os.Getenv("ALERT_SLACK_CHANNEL_ID"),
		},
		SchedulerSlackToken: os.Getenv("SCHEDULER_SLACK_TOKEN"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Pipeline.RingBufferSize < 2 {
		return fmt.Errorf("PIPELINE_RING_BUFFER_SIZE must be at least 2")
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("PIPELINE_BATCH_SIZE must be at least 1")
	}
	if c.Pipeline.WriterThreads < 1 {
		return fmt.Errorf("PIPELINE_WRITER_THREADS must be at least 1")
	}
	if c.Slo.DefaultAvailability <= 0 || c.Slo.DefaultAvailability >= 1 {
		return fmt.Errorf("SLO_DEFAULT_AVAILABILITY must be in (0, 1)")
	}
	if c.Mcp.Reconnection.Multiplier <= 1 {
		return fmt.Errorf("MCP_RECONNECTION_MULTIPLIER must be greater than 1")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
