// Package config defines the top-level configuration for the trade journal
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by JOURNAL_* environment variables.
type Config struct {
	Apex        ApexConfig        `toml:"apex"`
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Pricing     PricingConfig     `toml:"pricing"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ApexConfig holds ApeX Omni API credentials and endpoints. The secret may be
// given inline or as an encrypted key file plus password.
type ApexConfig struct {
	Enabled             bool   `toml:"enabled"`
	BaseURL             string `toml:"base_url"`
	AccountID           string `toml:"account_id"`
	ApiKey              string `toml:"api_key"`
	ApiSecret           string `toml:"api_secret"`
	ApiPassphrase       string `toml:"api_passphrase"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// HyperliquidConfig holds Hyperliquid endpoints and the wallet whose history
// is journaled. Reads are unauthenticated, so no secret is needed.
type HyperliquidConfig struct {
	Enabled       bool   `toml:"enabled"`
	BaseURL       string `toml:"base_url"`
	WsURL         string `toml:"ws_url"`
	WalletAddress string `toml:"wallet_address"`
	AccountID     string `toml:"account_id"`
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

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PricingConfig controls price-bar fetching for the excursion calculator.
type PricingConfig struct {
	Interval          string   `toml:"interval"`
	MaxBarsPerRequest int      `toml:"max_bars_per_request"`
	CacheTTL          duration `toml:"cache_ttl"`
	PadBars           int      `toml:"pad_bars"`
}

// PipelineConfig holds sync and archival parameters.
type PipelineConfig struct {
	Enabled              bool     `toml:"enabled"`
	SyncInterval         duration `toml:"sync_interval"`
	SyncOnce             bool     `toml:"sync_once"`
	SyncOverlap          duration `toml:"sync_overlap"`
	BackfillDays         int      `toml:"backfill_days"`
	PageLimit            int      `toml:"page_limit"`
	ExcursionWorkers     int      `toml:"excursion_workers"`
	SeriesMaxPoints      int      `toml:"series_max_points"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
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
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Apex: ApexConfig{
			Enabled: false,
			BaseURL: "https://omni.apex.exchange",
		},
		Hyperliquid: HyperliquidConfig{
			Enabled: false,
			BaseURL: "https://api.hyperliquid.xyz",
			WsURL:   "wss://api.hyperliquid.xyz/ws",
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "journal",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "journal-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Pricing: PricingConfig{
			Interval:          "1m",
			MaxBarsPerRequest: 1000,
			CacheTTL:          duration{15 * time.Minute},
			PadBars:           1,
		},
		Pipeline: PipelineConfig{
			Enabled:              true,
			SyncInterval:         duration{5 * time.Minute},
			SyncOverlap:          duration{5 * time.Minute},
			BackfillDays:         90,
			PageLimit:            100,
			ExcursionWorkers:     4,
			SeriesMaxPoints:      500,
			ArchiveRetentionDays: 180,
			ArchiveCron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 240,
		},
		Notify: NotifyConfig{
			Events: []string{"trades_updated", "unmatched_funding", "coverage_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":   true,
	"serve":  true,
	"report": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, serve, report, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// At least one venue must be enabled for modes that ingest data.
	needsVenue := c.Mode == "sync" || c.Mode == "full"
	if needsVenue && !c.Apex.Enabled && !c.Hyperliquid.Enabled {
		errs = append(errs, "venues: at least one of apex or hyperliquid must be enabled for mode "+c.Mode)
	}

	// Apex
	if c.Apex.Enabled {
		if c.Apex.BaseURL == "" {
			errs = append(errs, "apex: base_url must not be empty")
		}
		if c.Apex.ApiKey == "" {
			errs = append(errs, "apex: api_key must not be empty when enabled")
		}
		if c.Apex.ApiSecret == "" && c.Apex.EncryptedSecretPath == "" {
			errs = append(errs, "apex: either api_secret or encrypted_secret_path must be set")
		}
		if c.Apex.EncryptedSecretPath != "" && c.Apex.SecretPassword == "" {
			errs = append(errs, "apex: secret_password is required when encrypted_secret_path is set")
		}
	}

	// Hyperliquid
	if c.Hyperliquid.Enabled {
		if c.Hyperliquid.BaseURL == "" {
			errs = append(errs, "hyperliquid: base_url must not be empty")
		}
		if c.Hyperliquid.WalletAddress == "" {
			errs = append(errs, "hyperliquid: wallet_address must not be empty when enabled")
		} else if !common.IsHexAddress(c.Hyperliquid.WalletAddress) {
			// A malformed address would otherwise be coerced to some other
			// address downstream and sync an empty history.
			errs = append(errs, fmt.Sprintf("hyperliquid: wallet_address %q is not a valid hex address", c.Hyperliquid.WalletAddress))
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

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Pricing
	if c.Pricing.Interval == "" {
		errs = append(errs, "pricing: interval must not be empty")
	}
	if c.Pricing.MaxBarsPerRequest < 1 {
		errs = append(errs, "pricing: max_bars_per_request must be >= 1")
	}

	// Pipeline
	if c.Pipeline.Enabled {
		if c.Pipeline.SyncInterval.Duration <= 0 {
			errs = append(errs, "pipeline: sync_interval must be > 0 when enabled")
		}
		if c.Pipeline.ExcursionWorkers < 1 {
			errs = append(errs, "pipeline: excursion_workers must be >= 1")
		}
		if c.Pipeline.PageLimit < 1 {
			errs = append(errs, "pipeline: page_limit must be >= 1")
		}
		if strings.TrimSpace(c.Pipeline.ArchiveCron) == "" {
			errs = append(errs, "pipeline: archive_cron must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
