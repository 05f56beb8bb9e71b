package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/polyseer/polyseer/internal/blob/s3"
	"github.com/polyseer/polyseer/internal/cache/redis"
	"github.com/polyseer/polyseer/internal/config"
	"github.com/polyseer/polyseer/internal/crypto"
	"github.com/polyseer/polyseer/internal/domain"
	"github.com/polyseer/polyseer/internal/exchange"
	"github.com/polyseer/polyseer/internal/filter"
	"github.com/polyseer/polyseer/internal/notify"
	"github.com/polyseer/polyseer/internal/oracle"
	"github.com/polyseer/polyseer/internal/platform/chain"
	"github.com/polyseer/polyseer/internal/platform/clob"
	"github.com/polyseer/polyseer/internal/platform/gamma"
	"github.com/polyseer/polyseer/internal/store/postgres"
	"github.com/polyseer/polyseer/internal/trader"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
// Optional members (stores, caches, archiver) are nil when the corresponding
// backend is not configured; the pipeline skips those side effects.
type Dependencies struct {
	Catalog  *gamma.Client
	Oracle   *oracle.Client
	Filter   trader.Relevance
	Exchange *exchange.Client

	// Stores (nil without Postgres)
	RunStore   domain.RunStore
	OrderStore domain.OrderStore
	AuditStore domain.AuditStore

	// Caches (nil without Redis)
	MarketCache domain.MarketCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage (nil without S3)
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsWallet returns true for modes that sign transactions or orders.
func needsWallet(mode string) bool {
	return mode == "trade" || mode == "approve"
}

// needsOracle returns true for modes that call the forecasting API.
func needsOracle(mode string) bool {
	return mode == "trade" || mode == "scan"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Catalog ---
	deps.Catalog = gamma.NewClient(cfg.Polymarket.GammaHost, logger)

	// --- Oracle and relevance filter ---
	if needsOracle(cfg.Mode) {
		deps.Oracle = oracle.NewClient(oracle.Config{
			BaseURL:        cfg.Oracle.BaseURL,
			APIKey:         cfg.Oracle.APIKey,
			ChatModel:      cfg.Oracle.ChatModel,
			EmbeddingModel: cfg.Oracle.EmbeddingModel,
			Temperature:    cfg.Oracle.Temperature,
		}, logger)
		switch cfg.Filter.Strategy {
		case "llm":
			deps.Filter = filter.NewLLMFilter(deps.Oracle, logger)
		default:
			deps.Filter = filter.NewEmbeddingFilter(deps.Oracle, cfg.Filter.IndexDir, logger)
		}
	}

	// --- PostgreSQL (optional) ---
	if cfg.Postgres.Enabled() {
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
		deps.RunStore = postgres.NewRunStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis (optional) ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
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

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 blob storage (optional) ---
	if cfg.S3.Enabled() {
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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
	}

	// --- Signing and exchange (only for modes that trade or approve) ---
	if needsWallet(cfg.Mode) {
		ex, err := wireExchange(ctx, cfg, deps, redisClient, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Exchange = ex
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

// wireExchange builds the signer, the on-chain client, the CLOB client, and
// the exchange orchestrator on top of them.
func wireExchange(ctx context.Context, cfg *config.Config, deps *Dependencies, redisClient *redis.Client, logger *slog.Logger) (*exchange.Client, error) {
	privateKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: load wallet key: %w", err)
	}

	signer, err := crypto.NewSigner(privateKey, cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("wire: signer: %w", err)
	}

	chainClient, err := chain.Dial(ctx, cfg.Polymarket.RPCHost, privateKey, int64(cfg.Polymarket.ChainID), logger)
	if err != nil {
		return nil, fmt.Errorf("wire: chain: %w", err)
	}

	clobClient := clob.NewClient(cfg.Polymarket.ClobHost, signer, nil, logger)
	if deps.RateLimiter != nil {
		clobClient.WithRateLimiter(deps.RateLimiter)
	}

	// Order nonces survive restarts when Redis is available.
	var nonce domain.NonceSource = exchange.WallClockNonce{}
	if redisClient != nil {
		nonce = redis.NewCounterNonce(redisClient, signer.Address().Hex())
	}

	return exchange.NewClient(chainClient, clobClient, signer, nonce, exchange.Config{
		Contracts: exchange.ContractsFromConfig(
			cfg.Polymarket.Exchange,
			cfg.Polymarket.NegRisk,
			cfg.Polymarket.USDC,
			cfg.Polymarket.CTF,
		),
		PrimaryOutcomeIndex: cfg.Polymarket.PrimaryOutcomeIndex,
		FeeRateBps:          cfg.Polymarket.FeeRateBps,
	}, logger), nil
}
