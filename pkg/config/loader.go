package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from the given YAML
// file. A missing file is not an error: defaults alone are used. This is the
// primary entry point for configuration loading.
func Initialize(path string) (*Config, error) {
	log := slog.With("config_file", path)
	log.Info("Initializing configuration")

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = expandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		log.Info("Config file not found, using defaults")
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Fill anything the user left unset from the defaults.
	if err := mergo.Merge(cfg, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"server_addr", cfg.Server.Addr(),
		"kafka_brokers", strings.Join(cfg.Kafka.Brokers, ","),
		"llm_model", cfg.LLM.Model)
	return cfg, nil
}

// expandEnv substitutes {{.VAR_NAME}} references with environment values.
// Template syntax is used instead of $VAR so literal dollars in redaction
// regexes and DSN passwords survive untouched. Missing variables expand to
// the empty string; malformed templates pass the input through unchanged.
func expandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
