package config

import (
	"time"

	"github.com/commerceops/driftwatch/pkg/redaction"
)

// DefaultConfig returns the full default configuration. User YAML overrides
// individual fields; anything unset keeps these values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			SignalsTopic:  "signals.normalized",
			PatternsTopic: "patterns.detected",
			IngestGroup:   "driftwatch-ingest",
			DetectGroup:   "driftwatch-detect",
		},
		LLM: LLMConfig{
			BaseURL:   "https://api.anthropic.com",
			Model:     "claude-sonnet-4-5",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
			Timeout:   60 * time.Second,
		},
		Detection: DetectionConfig{
			WindowSize:        1000,
			WindowDuration:    time.Hour,
			AnalysisInterval:  30 * time.Second,
			MinClusterSignals: 5,
			MinFrequencyCount: 5,
			MinCrossMerchants: 2,
		},
		Decision: DecisionConfig{
			AutoFixConfidence:  0.8,
			AutoFixResources:   []string{"webhook_url", "api_timeout", "retry_count", "log_level"},
			ApprovalRiskLevels: []string{"high", "critical"},
		},
		Executor: ExecutorConfig{
			MaxActionsPerWindow:      5,
			ExcessiveActionThreshold: 10,
			RetryAttempts:            3,
			RetryBaseDelay:           2 * time.Second,
			RetryMaxDelay:            10 * time.Second,
			ActionCooldown:           5 * time.Minute,
		},
		SafeMode: SafeModeConfig{
			ConfidenceDriftThreshold: 0.05,
			ExcessiveActionThreshold: 20,
		},
		Support: SupportConfig{
			APIKeyEnv: "SUPPORT_API_KEY",
			Timeout:   30 * time.Second,
		},
		Platform: PlatformConfig{
			APIKeyEnv: "PLATFORM_API_KEY",
			Timeout:   30 * time.Second,
		},
		Slack: SlackConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
		Redaction: redaction.DefaultConfig(),
	}
}
