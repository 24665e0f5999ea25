// Package config defines the top-level configuration for the macropool
// server and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MACROPOOL_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Market   MarketConfig   `toml:"market"`
	Oracle   OracleConfig   `toml:"oracle"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for settlement report archiving.
// Archiving is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters. AdminKeyHash is the hex pbkdf2
// digest of the admin API key; admin endpoints are disabled when empty.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	RateLimit    int      `toml:"rate_limit"` // requests per second per client IP; 0 disables
	AdminKeyHash string   `toml:"admin_key_hash"`
	AdminKeySalt string   `toml:"admin_key_salt"`
}

// MarketConfig holds the betting policy: the platform fee shared by odds
// display and settlement, stake bounds, the per-event exposure cap, and the
// settlement sweep cadence.
type MarketConfig struct {
	FeeRate          float64  `toml:"fee_rate"`
	MinStake         float64  `toml:"min_stake"`
	MaxStake         float64  `toml:"max_stake"`
	MaxEventExposure float64  `toml:"max_event_exposure"`
	PlaceRatePerSec  int      `toml:"place_rate_per_sec"`
	SweepInterval    Duration `toml:"sweep_interval"`
}

// OracleConfig holds the external data source endpoints. Empty URLs disable
// the corresponding source.
type OracleConfig struct {
	MacroURL string   `toml:"macro_url"`
	PriceURL string   `toml:"price_url"`
	Timeout  Duration `toml:"timeout"`
}

// NotifyConfig holds optional settlement notification webhooks.
type NotifyConfig struct {
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
	DiscordWebhook string `toml:"discord_webhook"`
}

// Duration wraps time.Duration so TOML values may be written as "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Validate checks cross-field consistency and value ranges. It returns a
// joined description of every problem found.
func (c *Config) Validate() error {
	var problems []string

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		problems = append(problems, "postgres: either dsn or host/database/user must be set")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis: addr must be set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}
	if c.Market.FeeRate < 0 || c.Market.FeeRate >= 1 {
		problems = append(problems, fmt.Sprintf("market: fee_rate %v outside [0, 1)", c.Market.FeeRate))
	}
	if c.Market.MinStake <= 0 || c.Market.MaxStake < c.Market.MinStake {
		problems = append(problems, "market: stake bounds must satisfy 0 < min_stake <= max_stake")
	}
	if c.Market.MaxEventExposure < c.Market.MaxStake {
		problems = append(problems, "market: max_event_exposure must be at least max_stake")
	}
	if c.Market.SweepInterval.Std() < time.Second {
		problems = append(problems, "market: sweep_interval must be at least 1s")
	}
	if (c.Server.AdminKeyHash == "") != (c.Server.AdminKeySalt == "") {
		problems = append(problems, "server: admin_key_hash and admin_key_salt must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
