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
// built-in defaults, applies JOURNAL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known JOURNAL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Apex ──
	setBool(&cfg.Apex.Enabled, "JOURNAL_APEX_ENABLED")
	setStr(&cfg.Apex.BaseURL, "JOURNAL_APEX_BASE_URL")
	setStr(&cfg.Apex.AccountID, "JOURNAL_APEX_ACCOUNT_ID")
	setStr(&cfg.Apex.ApiKey, "JOURNAL_APEX_API_KEY")
	setStr(&cfg.Apex.ApiSecret, "JOURNAL_APEX_API_SECRET")
	setStr(&cfg.Apex.ApiPassphrase, "JOURNAL_APEX_API_PASSPHRASE")
	setStr(&cfg.Apex.EncryptedSecretPath, "JOURNAL_APEX_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Apex.SecretPassword, "JOURNAL_APEX_SECRET_PASSWORD")

	// ── Hyperliquid ──
	setBool(&cfg.Hyperliquid.Enabled, "JOURNAL_HYPERLIQUID_ENABLED")
	setStr(&cfg.Hyperliquid.BaseURL, "JOURNAL_HYPERLIQUID_BASE_URL")
	setStr(&cfg.Hyperliquid.WsURL, "JOURNAL_HYPERLIQUID_WS_URL")
	setStr(&cfg.Hyperliquid.WalletAddress, "JOURNAL_HYPERLIQUID_WALLET_ADDRESS")
	setStr(&cfg.Hyperliquid.AccountID, "JOURNAL_HYPERLIQUID_ACCOUNT_ID")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "JOURNAL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "JOURNAL_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "JOURNAL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "JOURNAL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "JOURNAL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "JOURNAL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "JOURNAL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "JOURNAL_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "JOURNAL_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "JOURNAL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "JOURNAL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "JOURNAL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "JOURNAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "JOURNAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "JOURNAL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "JOURNAL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "JOURNAL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "JOURNAL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "JOURNAL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "JOURNAL_S3_REGION")
	setStr(&cfg.S3.Bucket, "JOURNAL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "JOURNAL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "JOURNAL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "JOURNAL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "JOURNAL_S3_FORCE_PATH_STYLE")

	// ── Pricing ──
	setStr(&cfg.Pricing.Interval, "JOURNAL_PRICING_INTERVAL")
	setInt(&cfg.Pricing.MaxBarsPerRequest, "JOURNAL_PRICING_MAX_BARS_PER_REQUEST")
	setDuration(&cfg.Pricing.CacheTTL, "JOURNAL_PRICING_CACHE_TTL")
	setInt(&cfg.Pricing.PadBars, "JOURNAL_PRICING_PAD_BARS")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "JOURNAL_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.SyncInterval, "JOURNAL_PIPELINE_SYNC_INTERVAL")
	setBool(&cfg.Pipeline.SyncOnce, "JOURNAL_PIPELINE_SYNC_ONCE")
	setDuration(&cfg.Pipeline.SyncOverlap, "JOURNAL_PIPELINE_SYNC_OVERLAP")
	setInt(&cfg.Pipeline.BackfillDays, "JOURNAL_PIPELINE_BACKFILL_DAYS")
	setInt(&cfg.Pipeline.PageLimit, "JOURNAL_PIPELINE_PAGE_LIMIT")
	setInt(&cfg.Pipeline.ExcursionWorkers, "JOURNAL_PIPELINE_EXCURSION_WORKERS")
	setInt(&cfg.Pipeline.SeriesMaxPoints, "JOURNAL_PIPELINE_SERIES_MAX_POINTS")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "JOURNAL_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "JOURNAL_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "JOURNAL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "JOURNAL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "JOURNAL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "JOURNAL_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "JOURNAL_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "JOURNAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "JOURNAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "JOURNAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "JOURNAL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "JOURNAL_MODE")
	setStr(&cfg.LogLevel, "JOURNAL_LOG_LEVEL")
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
