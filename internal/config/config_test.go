package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/lpwatch/risk-engine/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, config.DriverMemory, cfg.DecisionLog.Driver)
	assert.Equal(t, 256, cfg.DecisionLog.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.DecisionLog.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	assert.Equal(t, "75", cfg.Risk.Thresholds.Defensive.String())
	assert.Equal(t, "60", cfg.Risk.Thresholds.Normal.String())
	assert.Equal(t, "45", cfg.Risk.Thresholds.Aggressive.String())
	assert.Equal(t, []string{"stdout"}, cfg.Logging.OutputPaths)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
  write_timeout: 45s
decision_log:
  driver: sqlite
  buffer_size: 16
journal:
  path: /tmp/journal.db
risk:
  thresholds:
    normal: 62.5
logging:
  encoding: console
`)
	t.Setenv("LPRISK_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LPRISK_RISK_THRESHOLDS_AGGRESSIVE", "40")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 45*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, config.DriverSQLite, cfg.DecisionLog.Driver)
	assert.Equal(t, 16, cfg.DecisionLog.BufferSize)
	assert.Equal(t, "/tmp/journal.db", cfg.Journal.Path)
	assert.Equal(t, "62.5", cfg.Risk.Thresholds.Normal.String())
	assert.Equal(t, "40", cfg.Risk.Thresholds.Aggressive.String())
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "console", cfg.Logging.Encoding)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "http: [unterminated")
	_, err := config.Load(path)
	assert.ErrorContains(t, err, "read config")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	path := writeConfig(t, `
decision_log:
  driver: postgres
  buffer_size: 0
logging:
  encoding: xml
`)
	_, err := config.Load(path)
	require.Error(t, err)

	errs := multierr.Errors(err)
	assert.Len(t, errs, 3)
	assert.ErrorContains(t, err, "requires database.dsn")
	assert.ErrorContains(t, err, "buffer_size")
	assert.ErrorContains(t, err, "logging.encoding")
}

func TestValidate_UnknownDriver(t *testing.T) {
	t.Setenv("LPRISK_DECISION_LOG_DRIVER", "kafka")
	_, err := config.Load("")
	assert.ErrorContains(t, err, `"kafka"`)
}
