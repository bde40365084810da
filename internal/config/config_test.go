package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateForServerMode(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "ephemeral"
log_level = "debug"

[server]
port = 9000
rate_limit = 100
rate_window = "2s"

[engine]
sweep_interval = "30s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ephemeral", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Server.RateLimit)
	assert.Equal(t, 2*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, 30*time.Second, cfg.Engine.SweepInterval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Engine.PriceCacheTTL.Duration)

	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MILESTONE_SERVER_PORT", "8443")
	t.Setenv("MILESTONE_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("MILESTONE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MILESTONE_ENGINE_SWEEP_INTERVAL", "10s")
	t.Setenv("MILESTONE_POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.Engine.SweepInterval.Duration)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "batch"
	cfg.LogLevel = "loud"
	cfg.Server.Port = 0
	cfg.Engine.SweepInterval.Duration = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "batch"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "port must be 1-65535")
	assert.Contains(t, err.Error(), "sweep_interval must be positive")
}

func TestValidateSkipsBackendsInEphemeralMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "ephemeral"
	cfg.Postgres = PostgresConfig{}
	cfg.Redis = RedisConfig{}
	assert.NoError(t, cfg.Validate())
}

func TestRateWindowRequiredWithRateLimit(t *testing.T) {
	cfg := Defaults()
	cfg.Server.RateLimit = 50
	cfg.Server.RateWindow.Duration = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_window must be positive")
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-secret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)

	// The original is untouched and the slice copy is independent.
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
