// Package config defines the top-level configuration for the automation
// platform core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by environment variables (the
// deployment surface uses plain names such as DB_HOST and REDIS_HOST).
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Queue     QueueConfig     `toml:"queue"`
	Ingest    IngestConfig    `toml:"ingest"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Evaluator EvaluatorConfig `toml:"evaluator"`
	Executor  ExecutorConfig  `toml:"executor"`
	Oracle    OracleConfig    `toml:"oracle"`
	Signer    SignerConfig    `toml:"signer"`
	Vault     VaultConfig     `toml:"vault"`
	Chains    ChainsConfig    `toml:"chains"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis backs both the queue
// broker and the distributed lock.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// QueueConfig holds broker tuning shared by all queues.
type QueueConfig struct {
	StrategyConcurrency    int      `toml:"strategy_concurrency"`
	TransactionConcurrency int      `toml:"transaction_concurrency"`
	PollInterval           duration `toml:"poll_interval"`
	VisibilityTimeout      duration `toml:"visibility_timeout"`
	ReaperInterval         duration `toml:"reaper_interval"`
	RemoveOnComplete       int      `toml:"remove_on_complete"`
	DefaultMaxAttempts     int      `toml:"default_max_attempts"`
	DefaultBackoff         duration `toml:"default_backoff"`
}

// IngestConfig holds price-feed polling parameters.
type IngestConfig struct {
	Chains             []string `toml:"chains"`
	DexInterval        duration `toml:"dex_interval"`
	PerpInterval       duration `toml:"perp_interval"`
	DexScreenerURL     string   `toml:"dex_screener_url"`
	DexScreenerTimeout duration `toml:"dex_screener_timeout"`
	HyperliquidURL     string   `toml:"hyperliquid_url"`
	HyperliquidWSURL   string   `toml:"hyperliquid_ws_url"`
	HLSymbols          []string `toml:"hl_symbols"`
	SolMints           []string `toml:"sol_mints"`
	// Watch maps a chain to the token addresses sampled there. The solana
	// entry may also be supplied via SOL_INGEST_MINTS.
	Watch           map[string][]string `toml:"watch"`
	LiveFeedEnabled bool                `toml:"live_feed_enabled"`
	LiveMinInterval duration            `toml:"live_min_interval"`
}

// WatchLists resolves the per-chain token watch lists for the configured
// chains, folding the venue-specific lists into the map.
func (c IngestConfig) WatchLists() map[string][]string {
	watch := make(map[string][]string, len(c.Chains))
	for _, chain := range c.Chains {
		if addrs := c.Watch[chain]; len(addrs) > 0 {
			watch[chain] = addrs
		}
	}
	if len(c.SolMints) > 0 {
		for _, chain := range c.Chains {
			if chain == "solana" {
				watch[chain] = c.SolMints
			}
		}
	}
	return watch
}

// SchedulerConfig holds the evaluation-job scheduling cadence.
type SchedulerConfig struct {
	PollInterval duration `toml:"poll_interval"`
}

// EvaluatorConfig holds trigger evaluation and dispatch parameters.
type EvaluatorConfig struct {
	// ExecutorURL is the base URL of the executor's internal API.
	ExecutorURL        string   `toml:"executor_url"`
	ExecuteMaxRetries  int      `toml:"execute_max_retries"`
	ExecuteBackoff     duration `toml:"execute_backoff"`
	ExecuteHTTPTimeout duration `toml:"execute_http_timeout"`
	// TrendMaxAge filters trend samples older than this; zero disables the
	// filter.
	TrendMaxAge duration `toml:"trend_max_age"`
}

// ExecutorConfig holds execution coordination parameters.
type ExecutorConfig struct {
	LockTTL          duration `toml:"lock_ttl"`
	LockWait         duration `toml:"lock_wait"`
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerCooldown  duration `toml:"breaker_cooldown"`
	SignerRateLimit  int      `toml:"signer_rate_limit"`
	SignerRateWindow duration `toml:"signer_rate_window"`
}

// OracleConfig holds price-consensus parameters.
type OracleConfig struct {
	SourceTimeout     duration `toml:"source_timeout"`
	MaxDeviationPct   float64  `toml:"max_deviation_pct"`
	LocalMaxAge       duration `toml:"local_max_age"`
	MinSources        int      `toml:"min_sources"`
	MarketIndexURL    string   `toml:"market_index_url"`
	MarketIndexAPIKey string   `toml:"market_index_api_key"`
}

// SignerConfig holds the signer sub-service connection.
type SignerConfig struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token"`
	Timeout duration `toml:"timeout"`
}

// VaultConfig holds the key-store connection for private material. When Addr
// is empty, the encrypted file vault at FilePath is used instead.
type VaultConfig struct {
	Addr           string `toml:"addr"`
	Token          string `toml:"token"`
	Mount          string `toml:"mount"`
	FilePath       string `toml:"file_path"`
	FilePassphrase string `toml:"file_passphrase"`
}

// ChainsConfig holds per-chain on-chain access parameters for EVM reads.
type ChainsConfig struct {
	// RPCEndpoints maps chain name to JSON-RPC URL.
	RPCEndpoints map[string]string `toml:"rpc_endpoints"`
	// Spenders maps chain name to the router contract granted ERC-20
	// allowances during the preflight.
	Spenders map[string]string `toml:"spenders"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	BatchSize     int    `toml:"batch_size"`
}

// ServerConfig holds internal HTTP server parameters. ServiceToken guards
// the executor endpoint and is also what the evaluator attaches to outbound
// dispatch calls.
type ServerConfig struct {
	Port         int    `toml:"port"`
	ServiceToken string `toml:"service_token"`
	// RateLimit caps execute calls per client per RateWindow; 0 leaves the
	// endpoint unthrottled.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
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
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "copil",
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
		Queue: QueueConfig{
			StrategyConcurrency:    5,
			TransactionConcurrency: 3,
			PollInterval:           duration{500 * time.Millisecond},
			VisibilityTimeout:      duration{60 * time.Second},
			ReaperInterval:         duration{15 * time.Second},
			RemoveOnComplete:       100,
			DefaultMaxAttempts:     3,
			DefaultBackoff:         duration{time.Second},
		},
		Ingest: IngestConfig{
			Chains:             []string{"base"},
			DexInterval:        duration{60 * time.Second},
			PerpInterval:       duration{60 * time.Second},
			DexScreenerURL:     "https://api.dexscreener.com",
			DexScreenerTimeout: duration{8 * time.Second},
			HyperliquidURL:     "https://api.hyperliquid.xyz",
			HyperliquidWSURL:   "wss://api.hyperliquid.xyz/ws",
			HLSymbols:          []string{"BTC", "ETH"},
			Watch:              map[string][]string{},
			LiveFeedEnabled:    false,
			LiveMinInterval:    duration{5 * time.Second},
		},
		Scheduler: SchedulerConfig{
			PollInterval: duration{60 * time.Second},
		},
		Evaluator: EvaluatorConfig{
			ExecutorURL:        "http://localhost:8080",
			ExecuteMaxRetries:  3,
			ExecuteBackoff:     duration{500 * time.Millisecond},
			ExecuteHTTPTimeout: duration{12 * time.Second},
			TrendMaxAge:        duration{0},
		},
		Executor: ExecutorConfig{
			LockTTL:          duration{30 * time.Second},
			LockWait:         duration{10 * time.Second},
			BreakerThreshold: 5,
			BreakerCooldown:  duration{30 * time.Second},
			SignerRateLimit:  30,
			SignerRateWindow: duration{time.Minute},
		},
		Oracle: OracleConfig{
			SourceTimeout:   duration{5 * time.Second},
			MaxDeviationPct: 20,
			LocalMaxAge:     duration{5 * time.Minute},
			MinSources:      2,
			MarketIndexURL:  "https://api.coingecko.com/api/v3",
		},
		Signer: SignerConfig{
			Timeout: duration{30 * time.Second},
		},
		Vault: VaultConfig{
			Mount: "session-keys",
		},
		Chains: ChainsConfig{
			RPCEndpoints: map[string]string{},
			Spenders:     map[string]string{},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "copil-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 * * *",
			BatchSize:     5000,
		},
		Server: ServerConfig{
			Port:       8080,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"execution_failed", "breaker_open", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest":   true,
	"schedule": true,
	"evaluate": true,
	"execute":  true,
	"archive":  true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, schedule, evaluate, execute, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Queue
	if c.Queue.StrategyConcurrency < 1 {
		errs = append(errs, "queue: strategy_concurrency must be >= 1")
	}
	if c.Queue.TransactionConcurrency < 1 {
		errs = append(errs, "queue: transaction_concurrency must be >= 1")
	}
	if c.Queue.PollInterval.Duration <= 0 {
		errs = append(errs, "queue: poll_interval must be positive")
	}
	if c.Queue.VisibilityTimeout.Duration <= 0 {
		errs = append(errs, "queue: visibility_timeout must be positive")
	}
	if c.Queue.RemoveOnComplete < 1 {
		errs = append(errs, "queue: remove_on_complete must be >= 1")
	}

	// Ingest
	if mode == "ingest" || mode == "full" {
		if len(c.Ingest.Chains) == 0 {
			errs = append(errs, "ingest: chains must not be empty for mode "+c.Mode)
		}
		if c.Ingest.DexInterval.Duration <= 0 || c.Ingest.PerpInterval.Duration <= 0 {
			errs = append(errs, "ingest: dex_interval and perp_interval must be positive")
		}
		if c.Ingest.DexScreenerURL == "" {
			errs = append(errs, "ingest: dex_screener_url must not be empty")
		}
	}

	// Scheduler
	if c.Scheduler.PollInterval.Duration <= 0 {
		errs = append(errs, "scheduler: poll_interval must be positive")
	}

	// Evaluator
	if mode == "evaluate" || mode == "full" {
		if c.Evaluator.ExecutorURL == "" {
			errs = append(errs, "evaluator: executor_url must not be empty for mode "+c.Mode)
		}
	}
	if c.Evaluator.ExecuteMaxRetries < 1 {
		errs = append(errs, "evaluator: execute_max_retries must be >= 1")
	}
	if c.Evaluator.ExecuteBackoff.Duration <= 0 {
		errs = append(errs, "evaluator: execute_backoff must be positive")
	}

	// Executor
	if c.Executor.LockTTL.Duration <= 0 {
		errs = append(errs, "executor: lock_ttl must be positive")
	}
	if c.Executor.BreakerThreshold < 1 {
		errs = append(errs, "executor: breaker_threshold must be >= 1")
	}
	if mode == "execute" || mode == "full" {
		if c.Signer.URL == "" {
			errs = append(errs, "signer: url must not be empty for mode "+c.Mode)
		}
		if c.Vault.Addr == "" && c.Vault.FilePath == "" {
			errs = append(errs, "vault: either addr or file_path must be set for mode "+c.Mode)
		}
		if c.Vault.FilePath != "" && c.Vault.Addr == "" && c.Vault.FilePassphrase == "" {
			errs = append(errs, "vault: file_passphrase is required when the file vault is used")
		}
		if c.Server.ServiceToken == "" {
			errs = append(errs, "server: service_token must not be empty for mode "+c.Mode)
		}
	}

	// Oracle
	if c.Oracle.MinSources < 2 {
		errs = append(errs, "oracle: min_sources must be >= 2")
	}
	if c.Oracle.MaxDeviationPct <= 0 {
		errs = append(errs, "oracle: max_deviation_pct must be > 0")
	}
	if c.Oracle.SourceTimeout.Duration <= 0 {
		errs = append(errs, "oracle: source_timeout must be positive")
	}

	// Archive
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron != "" {
			if fields := strings.Fields(c.Archive.Cron); len(fields) != 5 {
				errs = append(errs, fmt.Sprintf("archive: cron %q must have 5 fields", c.Archive.Cron))
			}
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
