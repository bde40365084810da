package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MILESTONE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MILESTONE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MILESTONE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MILESTONE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MILESTONE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MILESTONE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MILESTONE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MILESTONE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MILESTONE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MILESTONE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MILESTONE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MILESTONE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MILESTONE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MILESTONE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MILESTONE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MILESTONE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MILESTONE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MILESTONE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MILESTONE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MILESTONE_S3_REGION")
	setStr(&cfg.S3.Bucket, "MILESTONE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MILESTONE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MILESTONE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MILESTONE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MILESTONE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "MILESTONE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MILESTONE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MILESTONE_SERVER_API_KEY")
	setStr(&cfg.Server.APIKeyHash, "MILESTONE_SERVER_API_KEY_HASH")
	setInt(&cfg.Server.RateLimit, "MILESTONE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MILESTONE_SERVER_RATE_WINDOW")

	// ── Engine ──
	setDuration(&cfg.Engine.SweepInterval, "MILESTONE_ENGINE_SWEEP_INTERVAL")
	setDuration(&cfg.Engine.PriceCacheTTL, "MILESTONE_ENGINE_PRICE_CACHE_TTL")

	// ── Top-level ──
	setStr(&cfg.Mode, "MILESTONE_MODE")
	setStr(&cfg.LogLevel, "MILESTONE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
