package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/perptools/journal/internal/blob/s3"
	"github.com/perptools/journal/internal/cache/redis"
	"github.com/perptools/journal/internal/config"
	"github.com/perptools/journal/internal/crypto"
	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/notify"
	"github.com/perptools/journal/internal/platform/apex"
	"github.com/perptools/journal/internal/platform/hyperliquid"
	"github.com/perptools/journal/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	FillStore        domain.FillStore
	OrderStore       domain.OrderStore
	FundingStore     domain.FundingStore
	TradeStore       domain.TradeStore
	EquityStore      domain.EquityStore
	LiquidationStore domain.LiquidationStore
	PriceBarStore    domain.PriceBarStore
	AuditStore       domain.AuditStore

	// Caches
	PriceBarCache domain.PriceBarCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Venue clients, nil when the venue is disabled.
	ApexClient        *apex.Client
	HyperliquidClient *hyperliquid.Client

	// Configured account scopes, one per enabled venue.
	Scopes []domain.AccountScope

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that archive to object storage.
func needsS3(mode string) bool {
	switch mode {
	case "sync", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.FillStore = postgres.NewFillStore(pool)
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.FundingStore = postgres.NewFundingStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.EquityStore = postgres.NewEquityStore(pool)
	deps.LiquidationStore = postgres.NewLiquidationStore(pool)
	deps.PriceBarStore = postgres.NewPriceBarStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceBarCache = redis.NewPriceBarCache(redisClient, cfg.Pricing.CacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.FillStore,
			deps.OrderStore,
			deps.FundingStore,
			deps.AuditStore,
		)
	}

	// --- Venue clients ---
	if cfg.Apex.Enabled {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Apex.ApiSecret,
			EncryptedSecretPath: cfg.Apex.EncryptedSecretPath,
			SecretPassword:      cfg.Apex.SecretPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: apex secret: %w", err)
		}
		auth := &crypto.HMACAuth{
			Key:        cfg.Apex.ApiKey,
			Secret:     secret,
			Passphrase: cfg.Apex.ApiPassphrase,
		}
		deps.ApexClient = apex.NewClient(cfg.Apex.BaseURL, auth, cfg.Apex.AccountID)
		deps.Scopes = append(deps.Scopes, domain.AccountScope{
			Source:    apex.Source,
			AccountID: cfg.Apex.AccountID,
		})
	}
	if cfg.Hyperliquid.Enabled {
		deps.HyperliquidClient = hyperliquid.NewClient(
			cfg.Hyperliquid.BaseURL,
			cfg.Hyperliquid.WalletAddress,
			cfg.Hyperliquid.AccountID,
		)
		deps.Scopes = append(deps.Scopes, domain.AccountScope{
			Source:    hyperliquid.Source,
			AccountID: cfg.Hyperliquid.AccountID,
		})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
