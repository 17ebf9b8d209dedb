package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SYPORT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SYPORT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Smart Yield API ──
	setStr(&cfg.SmartYield.BaseURL, "SYPORT_SMARTYIELD_BASE_URL")
	setDuration(&cfg.SmartYield.Timeout, "SYPORT_SMARTYIELD_TIMEOUT")
	setFloat64(&cfg.SmartYield.RateLimit, "SYPORT_SMARTYIELD_RATE_LIMIT")
	setInt(&cfg.SmartYield.Burst, "SYPORT_SMARTYIELD_BURST")
	setStr(&cfg.SmartYield.Explorer, "SYPORT_SMARTYIELD_EXPLORER")
	setInt(&cfg.SmartYield.PageSize, "SYPORT_SMARTYIELD_PAGE_SIZE")

	// ── Subgraph ──
	setStr(&cfg.Subgraph.URL, "SYPORT_SUBGRAPH_URL")
	setStr(&cfg.Subgraph.APIKey, "SYPORT_SUBGRAPH_API_KEY")
	setDuration(&cfg.Subgraph.Timeout, "SYPORT_SUBGRAPH_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SYPORT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SYPORT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SYPORT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SYPORT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SYPORT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SYPORT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SYPORT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SYPORT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SYPORT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SYPORT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SYPORT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SYPORT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SYPORT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SYPORT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SYPORT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SYPORT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PageTTL, "SYPORT_REDIS_PAGE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SYPORT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SYPORT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SYPORT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SYPORT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SYPORT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SYPORT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SYPORT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SYPORT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "SYPORT_S3_PREFIX")

	// ── Registry / indexer ──
	setDuration(&cfg.Registry.RefreshInterval, "SYPORT_REGISTRY_REFRESH_INTERVAL")
	setBool(&cfg.Indexer.Enabled, "SYPORT_INDEXER_ENABLED")
	setDuration(&cfg.Indexer.Interval, "SYPORT_INDEXER_INTERVAL")
	setInt(&cfg.Indexer.BatchSize, "SYPORT_INDEXER_BATCH_SIZE")
	setInt64(&cfg.Indexer.StartFrom, "SYPORT_INDEXER_START_FROM")

	// ── Server ──
	setInt(&cfg.Server.Port, "SYPORT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SYPORT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SYPORT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SYPORT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SYPORT_SERVER_RATE_WINDOW")
	setStringSlice(&cfg.Server.TrustedProxies, "SYPORT_SERVER_TRUSTED_PROXIES")

	// ── Top-level ──
	setStr(&cfg.Mode, "SYPORT_MODE")
	setStr(&cfg.Source, "SYPORT_SOURCE")
	setStr(&cfg.LogLevel, "SYPORT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
