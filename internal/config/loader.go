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
// built-in defaults, applies POLYSEER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known POLYSEER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYSEER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYSEER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYSEER_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYSEER_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "POLYSEER_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.RPCHost, "POLYSEER_POLYMARKET_RPC_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYSEER_POLYMARKET_CHAIN_ID")
	setStr(&cfg.Polymarket.Exchange, "POLYSEER_POLYMARKET_EXCHANGE_ADDRESS")
	setStr(&cfg.Polymarket.NegRisk, "POLYSEER_POLYMARKET_NEG_RISK_EXCHANGE_ADDRESS")
	setStr(&cfg.Polymarket.USDC, "POLYSEER_POLYMARKET_USDC_ADDRESS")
	setStr(&cfg.Polymarket.CTF, "POLYSEER_POLYMARKET_CTF_ADDRESS")
	setStr(&cfg.Polymarket.FeeRateBps, "POLYSEER_POLYMARKET_FEE_RATE_BPS")
	setInt(&cfg.Polymarket.PrimaryOutcomeIndex, "POLYSEER_POLYMARKET_PRIMARY_OUTCOME_INDEX")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "POLYSEER_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "POLYSEER_ORACLE_API_KEY")
	setStr(&cfg.Oracle.APIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.Oracle.ChatModel, "POLYSEER_ORACLE_CHAT_MODEL")
	setStr(&cfg.Oracle.EmbeddingModel, "POLYSEER_ORACLE_EMBEDDING_MODEL")
	setFloat64(&cfg.Oracle.Temperature, "POLYSEER_ORACLE_TEMPERATURE")

	// ── Filter ──
	setStr(&cfg.Filter.Strategy, "POLYSEER_FILTER_STRATEGY")
	setStr(&cfg.Filter.IndexDir, "POLYSEER_FILTER_INDEX_DIR")

	// ── Trader ──
	setStr(&cfg.Trader.Query, "POLYSEER_TRADER_QUERY")
	setInt(&cfg.Trader.EventTopK, "POLYSEER_TRADER_EVENT_TOP_K")
	setInt(&cfg.Trader.MarketTopK, "POLYSEER_TRADER_MARKET_TOP_K")
	setInt(&cfg.Trader.MaxAttempts, "POLYSEER_TRADER_MAX_ATTEMPTS")
	setDuration(&cfg.Trader.RetryBackoff, "POLYSEER_TRADER_RETRY_BACKOFF")
	setDuration(&cfg.Trader.LockTTL, "POLYSEER_TRADER_LOCK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYSEER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYSEER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYSEER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYSEER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYSEER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYSEER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYSEER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYSEER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYSEER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYSEER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYSEER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSEER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSEER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYSEER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYSEER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYSEER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYSEER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSEER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSEER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYSEER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSEER_S3_SECRET_KEY")
	setStr(&cfg.S3.Prefix, "POLYSEER_S3_PREFIX")
	setBool(&cfg.S3.UseSSL, "POLYSEER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYSEER_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYSEER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYSEER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSEER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYSEER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYSEER_MODE")
	setStr(&cfg.LogLevel, "POLYSEER_LOG_LEVEL")
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
