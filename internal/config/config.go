// Package config defines the top-level configuration for the Smart Yield
// portfolio service and provides validation helpers.
package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SYPORT_* environment variables.
type Config struct {
	SmartYield SmartYieldConfig `toml:"smartyield"`
	Subgraph   SubgraphConfig   `toml:"subgraph"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Registry   RegistryConfig   `toml:"registry"`
	Indexer    IndexerConfig    `toml:"indexer"`
	Server     ServerConfig     `toml:"server"`
	// Mode selects what the process runs: "server", "index" or "full".
	Mode string `toml:"mode"`
	// Source selects where redemptions are read from: "api" (the Smart
	// Yield REST API) or "postgres" (the locally indexed mirror).
	Source   string `toml:"source"`
	LogLevel string `toml:"log_level"`
}

// SmartYieldConfig holds the Smart Yield REST API parameters.
type SmartYieldConfig struct {
	BaseURL   string   `toml:"base_url"`
	Timeout   duration `toml:"timeout"`
	RateLimit float64  `toml:"rate_limit"` // requests per second, 0 disables
	Burst     int      `toml:"burst"`
	// Explorer is the block explorer base URL used for transaction links.
	Explorer string `toml:"explorer"`
	PageSize int    `toml:"page_size"`
}

// SubgraphConfig holds the Smart Yield subgraph GraphQL endpoint.
type SubgraphConfig struct {
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PageTTL    duration `toml:"page_ttl"`
}

// S3Config holds S3-compatible object storage parameters for statement
// exports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// RegistryConfig holds pool registry parameters.
type RegistryConfig struct {
	RefreshInterval duration `toml:"refresh_interval"`
}

// IndexerConfig holds subgraph indexer parameters.
type IndexerConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
	// StartFrom is the Unix timestamp the first run indexes from when the
	// mirror is empty.
	StartFrom int64 `toml:"start_from"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per window and client, 0 disables
	RateWindow  duration `toml:"rate_window"`
	// TrustedProxies lists the CIDRs or addresses of load balancers whose
	// X-Forwarded-For header identifies the client. Empty trusts nobody.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		SmartYield: SmartYieldConfig{
			BaseURL:   "https://api.barnbridge.com",
			Timeout:   duration{15 * time.Second},
			RateLimit: 5,
			Burst:     10,
			Explorer:  "https://etherscan.io",
			PageSize:  10,
		},
		Subgraph: SubgraphConfig{
			Timeout: duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "syport",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PageTTL:    duration{time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "syport-exports",
			ForcePathStyle: true,
		},
		Registry: RegistryConfig{
			RefreshInterval: duration{10 * time.Minute},
		},
		Indexer: IndexerConfig{
			Enabled:   false,
			Interval:  duration{5 * time.Minute},
			BatchSize: 1000,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "server",
		Source:   "api",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"index":  true,
	"full":   true,
}

// validSources enumerates the accepted values for Config.Source.
var validSources = map[string]bool{
	"api":      true,
	"postgres": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsIndexer reports whether the subgraph indexer runs in this process.
func (c *Config) RunsIndexer() bool {
	m := strings.ToLower(c.Mode)
	return m == "index" || (m == "full" && c.Indexer.Enabled)
}

// RunsServer reports whether the HTTP server runs in this process.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, index, full)", c.Mode))
	}
	if !validSources[strings.ToLower(c.Source)] {
		errs = append(errs, fmt.Sprintf("unknown source %q (valid: api, postgres)", c.Source))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Smart Yield API: pools always come from here.
	if !isHTTPURL(c.SmartYield.BaseURL) {
		errs = append(errs, fmt.Sprintf("smartyield: base_url must be an http(s) URL, got %q", c.SmartYield.BaseURL))
	}
	if c.SmartYield.Timeout.Duration <= 0 {
		errs = append(errs, "smartyield: timeout must be > 0")
	}
	if c.SmartYield.RateLimit < 0 {
		errs = append(errs, "smartyield: rate_limit must be >= 0")
	}
	if c.SmartYield.RateLimit > 0 && c.SmartYield.Burst < 1 {
		errs = append(errs, "smartyield: burst must be >= 1 when rate_limit is set")
	}
	if c.SmartYield.PageSize < 1 || c.SmartYield.PageSize > 100 {
		errs = append(errs, fmt.Sprintf("smartyield: page_size must be 1-100, got %d", c.SmartYield.PageSize))
	}

	if c.RunsIndexer() {
		if !isHTTPURL(c.Subgraph.URL) {
			errs = append(errs, "subgraph: url is required when the indexer runs")
		}
		if c.Indexer.Interval.Duration <= 0 {
			errs = append(errs, "indexer: interval must be > 0")
		}
		if c.Indexer.BatchSize < 1 || c.Indexer.BatchSize > 1000 {
			errs = append(errs, fmt.Sprintf("indexer: batch_size must be 1-1000, got %d", c.Indexer.BatchSize))
		}
		if c.Indexer.StartFrom < 0 {
			errs = append(errs, "indexer: start_from must be >= 0")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.PageTTL.Duration < 0 {
		errs = append(errs, "redis: page_ttl must be >= 0")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Registry.RefreshInterval.Duration <= 0 {
		errs = append(errs, "registry: refresh_interval must be > 0")
	}

	// Server
	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration < time.Second {
			errs = append(errs, "server: rate_window must be at least 1s when rate_limit is set")
		}
		for _, p := range c.Server.TrustedProxies {
			if !validProxy(p) {
				errs = append(errs, fmt.Sprintf("server: trusted_proxies entry %q is not a CIDR or IP address", p))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
