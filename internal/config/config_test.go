package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/config"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeTempConfig(t, `
store:
  driver: memory
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 25, cfg.Runner.MaxSteps)
	require.Equal(t, 16, cfg.Scheduler.MaxConcurrentRuns)
	require.Equal(t, 24, cfg.Scheduler.TokenBatchSize)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_MODEL_API_KEY", "sk-test-123")
	path := writeTempConfig(t, `
store:
  driver: memory
model:
  provider: openai
  api_key: ${TEST_MODEL_API_KEY}
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "sk-test-123", cfg.Model.APIKey)
}

func TestLoadRejectsPostgresDriverWithoutDSN(t *testing.T) {
	path := writeTempConfig(t, `
store:
  driver: postgres
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeTempConfig(t, `
store:
  driver: sqlite
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMongoDriverWithoutDSN(t *testing.T) {
	path := writeTempConfig(t, `
store:
  driver: mongo
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadMongoDriverDefaultsDatabase(t *testing.T) {
	path := writeTempConfig(t, `
store:
  driver: mongo
  dsn: mongodb://localhost:27017
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "rund", cfg.Store.Database)
}

func TestLoadRejectsPulseEventBusWithoutRedisAddr(t *testing.T) {
	path := writeTempConfig(t, `
store:
  driver: memory
event_bus:
  driver: pulse
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsTemporalEngineWithoutHost(t *testing.T) {
	path := writeTempConfig(t, `
store:
  driver: memory
engine:
  driver: temporal
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadDefaultsEngineToInmem(t *testing.T) {
	path := writeTempConfig(t, `
store:
  driver: memory
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "inmem", cfg.Engine.Driver)
	require.Equal(t, "memory", cfg.EventBus.Driver)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := config.Default()
	t.Setenv("MAX_CONCURRENT_RUNS", "4")
	t.Setenv("TOKEN_EVENT_BATCH_SIZE", "8")

	cfg.ApplyEnvOverrides()
	require.Equal(t, 4, cfg.Scheduler.MaxConcurrentRuns)
	require.Equal(t, 8, cfg.Scheduler.TokenBatchSize)
}
