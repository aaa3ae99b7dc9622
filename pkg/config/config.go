// Package config loads and validates the driftwatch configuration from YAML
// plus environment variables. Defaults are merged under user-provided values,
// so a minimal file only names what it overrides.
package config

import (
	"fmt"
	"time"

	"github.com/commerceops/driftwatch/pkg/redaction"
)

// Config is the umbrella configuration returned by Initialize and threaded
// through the application.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Kafka     KafkaConfig      `yaml:"kafka"`
	LLM       LLMConfig        `yaml:"llm"`
	Detection DetectionConfig  `yaml:"detection"`
	Decision  DecisionConfig   `yaml:"decision"`
	Executor  ExecutorConfig   `yaml:"executor"`
	SafeMode  SafeModeConfig   `yaml:"safe_mode"`
	Support   SupportConfig    `yaml:"support"`
	Platform  PlatformConfig   `yaml:"platform"`
	Slack     SlackConfig      `yaml:"slack"`
	Webhooks  WebhooksConfig   `yaml:"webhooks"`
	Redaction redaction.Config `yaml:"redaction"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port the API server binds to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig holds broker addresses, topic names, and consumer groups.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`

	SignalsTopic  string `yaml:"signals_topic"`
	PatternsTopic string `yaml:"patterns_topic"`

	IngestGroup string `yaml:"ingest_group"`
	DetectGroup string `yaml:"detect_group"`
}

// LLMConfig holds the analysis model settings. The API key is read from the
// named environment variable, never from YAML.
type LLMConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DetectionConfig tunes the sliding window and the periodic analysis pass.
type DetectionConfig struct {
	WindowSize       int           `yaml:"window_size"`
	WindowDuration   time.Duration `yaml:"window_duration"`
	AnalysisInterval time.Duration `yaml:"analysis_interval"`

	MinClusterSignals  int `yaml:"min_cluster_signals"`
	MinFrequencyCount  int `yaml:"min_frequency_count"`
	MinCrossMerchants  int `yaml:"min_cross_merchants"`
}

// DecisionConfig tunes routing thresholds and the auto-fix safelist.
type DecisionConfig struct {
	AutoFixConfidence  float64  `yaml:"auto_fix_confidence"`
	AutoFixResources   []string `yaml:"auto_fix_resources"`
	ApprovalRiskLevels []string `yaml:"approval_risk_levels"`
}

// ExecutorConfig tunes rate limiting and retry behavior for actions. The
// rate limit applies per (merchant, action type) in a 60-second window.
type ExecutorConfig struct {
	MaxActionsPerWindow      int           `yaml:"max_actions_per_window"`
	ExcessiveActionThreshold int           `yaml:"excessive_action_threshold"`
	RetryAttempts            int           `yaml:"retry_attempts"`
	RetryBaseDelay           time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay            time.Duration `yaml:"retry_max_delay"`
	ActionCooldown           time.Duration `yaml:"action_cooldown"`
}

// SafeModeConfig tunes the automatic safe-mode triggers.
type SafeModeConfig struct {
	ConfidenceDriftThreshold float64 `yaml:"confidence_drift_threshold"`
	ExcessiveActionThreshold int     `yaml:"excessive_action_threshold"`
}

// SupportConfig holds the ticketing API settings. One vendor endpoint serves
// support tickets, engineering escalations, and documentation tasks; the API
// key is read from the named environment variable.
type SupportConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PlatformConfig holds the commerce-platform API settings: merchant resource
// configuration and merchant messaging go through this API.
type PlatformConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SlackConfig holds operator-notification settings.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// WebhooksConfig holds per-vendor signing secrets for inbound ticket
// webhooks. Empty secret disables verification for that vendor.
type WebhooksConfig struct {
	ZendeskSecret   string `yaml:"zendesk_secret"`
	IntercomSecret  string `yaml:"intercom_secret"`
	FreshdeskSecret string `yaml:"freshdesk_secret"`
}

// Validate checks cross-field constraints after merging defaults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Detection.WindowSize <= 0 {
		return fmt.Errorf("detection.window_size must be positive")
	}
	if c.Detection.WindowDuration <= 0 {
		return fmt.Errorf("detection.window_duration must be positive")
	}
	if c.Decision.AutoFixConfidence < 0 || c.Decision.AutoFixConfidence > 1 {
		return fmt.Errorf("decision.auto_fix_confidence %f outside [0,1]", c.Decision.AutoFixConfidence)
	}
	if c.Executor.RetryAttempts < 0 {
		return fmt.Errorf("executor.retry_attempts must be >= 0")
	}
	if c.Slack.Enabled && c.Slack.Channel == "" {
		return fmt.Errorf("slack.channel is required when slack is enabled")
	}
	return nil
}
