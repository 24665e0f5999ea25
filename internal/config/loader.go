package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MACROPOOL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. A missing file is not an
// error: defaults plus environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MACROPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MACROPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MACROPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MACROPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MACROPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MACROPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MACROPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MACROPOOL_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "MACROPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MACROPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MACROPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MACROPOOL_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "MACROPOOL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MACROPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MACROPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "MACROPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MACROPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MACROPOOL_S3_SECRET_KEY")

	// ── Server ──
	setInt(&cfg.Server.Port, "MACROPOOL_SERVER_PORT")
	setStr(&cfg.Server.AdminKeyHash, "MACROPOOL_SERVER_ADMIN_KEY_HASH")
	setStr(&cfg.Server.AdminKeySalt, "MACROPOOL_SERVER_ADMIN_KEY_SALT")

	// ── Oracle ──
	setStr(&cfg.Oracle.MacroURL, "MACROPOOL_ORACLE_MACRO_URL")
	setStr(&cfg.Oracle.PriceURL, "MACROPOOL_ORACLE_PRICE_URL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MACROPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MACROPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "MACROPOOL_NOTIFY_DISCORD_WEBHOOK")

	// ── Misc ──
	setStr(&cfg.LogLevel, "MACROPOOL_LOG_LEVEL")
}

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
