// Package config defines the top-level configuration for the polyseer agent
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYSEER_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Oracle     OracleConfig     `toml:"oracle"`
	Filter     FilterConfig     `toml:"filter"`
	Trader     TraderConfig     `toml:"trader"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters, and the
// contract addresses the approvals flow targets. Addresses left empty fall
// back to the Polygon mainnet deployments the exchange package ships.
type PolymarketConfig struct {
	GammaHost  string `toml:"gamma_host"`
	ClobHost   string `toml:"clob_host"`
	RPCHost    string `toml:"rpc_host"`
	ChainID    int    `toml:"chain_id"`
	Exchange   string `toml:"exchange_address"`
	NegRisk    string `toml:"neg_risk_exchange_address"`
	USDC       string `toml:"usdc_address"`
	CTF        string `toml:"ctf_address"`
	FeeRateBps string `toml:"fee_rate_bps"`
	// PrimaryOutcomeIndex selects which outcome token of the chosen market is
	// traded. Polymarket binary markets list outcomes as [Yes, No]; index 1
	// targets the second outcome.
	PrimaryOutcomeIndex int `toml:"primary_outcome_index"`
}

// OracleConfig holds the OpenAI-compatible forecasting API parameters.
type OracleConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	ChatModel      string  `toml:"chat_model"`
	EmbeddingModel string  `toml:"embedding_model"`
	Temperature    float64 `toml:"temperature"`
}

// FilterConfig holds the relevance filter parameters. Strategy selects the
// implementation: "embedding" ranks by cosine similarity over an embedding
// index, "llm" asks the chat model to narrow the candidates directly.
type FilterConfig struct {
	Strategy string `toml:"strategy"`
	IndexDir string `toml:"index_dir"`
}

// TraderConfig holds the trade pipeline parameters.
type TraderConfig struct {
	Query        string   `toml:"query"`
	EventTopK    int      `toml:"event_top_k"`
	MarketTopK   int      `toml:"market_top_k"`
	MaxAttempts  int      `toml:"max_attempts"`
	RetryBackoff duration `toml:"retry_backoff"`
	LockTTL      duration `toml:"lock_ttl"`
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

// Enabled reports whether any connection target was configured. Postgres is
// optional; runs are only logged when a database is available.
func (c PostgresConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != "" || c.Host != ""
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

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// S3Config holds S3-compatible object storage parameters for run transcripts.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	Prefix         string `toml:"prefix"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Enabled reports whether an archive bucket was configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:           "https://gamma-api.polymarket.com",
			ClobHost:            "https://clob.polymarket.com",
			RPCHost:             "https://polygon-rpc.com",
			ChainID:             137,
			FeeRateBps:          "1",
			PrimaryOutcomeIndex: 1,
		},
		Oracle: OracleConfig{
			BaseURL:        "https://api.openai.com/v1",
			ChatModel:      "gpt-4o",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.7,
		},
		Filter: FilterConfig{
			Strategy: "embedding",
			IndexDir: "./local_db",
		},
		Trader: TraderConfig{
			Query:        "politics",
			EventTopK:    10,
			MarketTopK:   5,
			MaxAttempts:  3,
			RetryBackoff: duration{10 * time.Second},
			LockTTL:      duration{15 * time.Minute},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "polyseer",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Prefix:         "runs",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "run_failed", "error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"approve": true,
	"scan":    true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, approve, scan)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is required for anything that signs: trading and approvals.
	needsWallet := c.Mode == "trade" || c.Mode == "approve"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if needsWallet && c.Polymarket.RPCHost == "" {
		errs = append(errs, "polymarket: rpc_host must not be empty for mode "+c.Mode)
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.PrimaryOutcomeIndex < 0 {
		errs = append(errs, "polymarket: primary_outcome_index must be >= 0")
	}
	// Addresses are optional; empty falls back to the Polygon deployments.
	for _, addr := range []struct{ name, value string }{
		{"exchange_address", c.Polymarket.Exchange},
		{"neg_risk_exchange_address", c.Polymarket.NegRisk},
		{"usdc_address", c.Polymarket.USDC},
		{"ctf_address", c.Polymarket.CTF},
	} {
		if addr.value != "" && !strings.HasPrefix(addr.value, "0x") {
			errs = append(errs, fmt.Sprintf("polymarket: %s must be a 0x-prefixed address, got %q", addr.name, addr.value))
		}
	}

	// Oracle
	if c.Mode == "trade" || c.Mode == "scan" {
		if c.Oracle.BaseURL == "" {
			errs = append(errs, "oracle: base_url must not be empty")
		}
		if c.Oracle.APIKey == "" {
			errs = append(errs, "oracle: api_key is required for mode "+c.Mode)
		}
		if c.Trader.Query == "" {
			errs = append(errs, "trader: query must not be empty for mode "+c.Mode)
		}
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("oracle: temperature must be in [0, 2], got %g", c.Oracle.Temperature))
	}

	// Filter
	switch c.Filter.Strategy {
	case "embedding":
		if c.Filter.IndexDir == "" {
			errs = append(errs, "filter: index_dir must not be empty for the embedding strategy")
		}
	case "llm":
	default:
		errs = append(errs, fmt.Sprintf("filter: unknown strategy %q (valid: embedding, llm)", c.Filter.Strategy))
	}

	// Trader
	if c.Trader.EventTopK < 1 {
		errs = append(errs, "trader: event_top_k must be >= 1")
	}
	if c.Trader.MarketTopK < 1 {
		errs = append(errs, "trader: market_top_k must be >= 1")
	}
	if c.Trader.MaxAttempts < 1 {
		errs = append(errs, "trader: max_attempts must be >= 1")
	}
	if c.Trader.RetryBackoff.Duration < 0 {
		errs = append(errs, "trader: retry_backoff must not be negative")
	}

	// Postgres, only when configured.
	if c.Postgres.Enabled() && strings.TrimSpace(c.Postgres.DSN) == "" {
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

	// Redis, only when configured.
	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3, only when configured.
	if c.S3.Enabled() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when a bucket is set")
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			errs = append(errs, "s3: access_key and secret_key are required when a bucket is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
