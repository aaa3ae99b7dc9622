package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driftwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInitializeDefaultsOnly(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/driftwatch_test
`)
	cfg, err := Initialize(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "signals.normalized", cfg.Kafka.SignalsTopic)
	assert.Equal(t, 3, cfg.Executor.RetryAttempts)
	assert.Equal(t, time.Hour, cfg.Detection.WindowDuration)
	assert.NotEmpty(t, cfg.Redaction.SensitiveFields)
}

func TestInitializeUserOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  dsn: postgres://localhost/driftwatch_test
detection:
  window_size: 500
decision:
  auto_fix_confidence: 0.9
`)
	cfg, err := Initialize(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Detection.WindowSize)
	assert.InDelta(t, 0.9, cfg.Decision.AutoFixConfidence, 1e-9)
	// Untouched sections keep defaults.
	assert.Equal(t, "driftwatch-ingest", cfg.Kafka.IngestGroup)
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("TEST_DB_DSN", "postgres://env-host/driftwatch")
	path := writeConfig(t, `
database:
  dsn: "{{.TEST_DB_DSN}}"
`)
	cfg, err := Initialize(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/driftwatch", cfg.Database.DSN)
}

func TestInitializeMissingFileUsesDefaults(t *testing.T) {
	// Defaults alone fail validation only because the DSN is required.
	_, err := Initialize(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestInitializeRejectsInvalid(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 99999
database:
  dsn: postgres://localhost/x
`)
		_, err := Initialize(path)
		assert.Error(t, err)
	})

	t.Run("slack enabled without channel", func(t *testing.T) {
		path := writeConfig(t, `
database:
  dsn: postgres://localhost/x
slack:
  enabled: true
`)
		_, err := Initialize(path)
		assert.Error(t, err)
	})
}

func TestExpandEnvPreservesLiteralDollars(t *testing.T) {
	in := []byte(`pattern: "^secret.*$"`)
	assert.Equal(t, in, expandEnv(in))
}
