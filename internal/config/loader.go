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
// built-in defaults, applies environment variable overrides, and returns the
// final Config. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// The file is optional: deployments that configure everything through
	// the environment run without one.
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads the deployment environment variables and overwrites
// the corresponding Config fields when a variable is set (i.e. not empty).
// The names match the platform's deployment surface, so operators can inject
// connection details and secrets without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "DB_DSN")
	setStr(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setStr(&cfg.Database.Database, "DB_NAME")
	setStr(&cfg.Database.User, "DB_USER")
	setStr(&cfg.Database.Password, "DB_PASSWORD")
	setStr(&cfg.Database.SSLMode, "DB_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "DB_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "DB_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "DB_RUN_MIGRATIONS")

	// ── Redis (queue broker + lock store) ──
	// REDIS_HOST/REDIS_PORT are the canonical pair; REDIS_ADDR wins when set.
	if host := os.Getenv("REDIS_HOST"); host != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		cfg.Redis.Addr = host + ":" + port
	}
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── Ingest ──
	setStringSlice(&cfg.Ingest.Chains, "INGEST_CHAINS")
	setStringSlice(&cfg.Ingest.HLSymbols, "HL_INGEST_SYMBOLS")
	setStringSlice(&cfg.Ingest.SolMints, "SOL_INGEST_MINTS")
	setStr(&cfg.Ingest.DexScreenerURL, "DEX_SCREENER_URL")
	setDurationMs(&cfg.Ingest.DexScreenerTimeout, "DEX_SCREENER_TIMEOUT_MS")
	setStr(&cfg.Ingest.HyperliquidURL, "HYPERLIQUID_URL")
	setStr(&cfg.Ingest.HyperliquidWSURL, "HYPERLIQUID_WS_URL")
	setBool(&cfg.Ingest.LiveFeedEnabled, "HL_LIVE_FEED_ENABLED")

	// ── Evaluator ──
	setStr(&cfg.Evaluator.ExecutorURL, "API_SERVICE_URL")
	setInt(&cfg.Evaluator.ExecuteMaxRetries, "EVALUATOR_EXECUTE_MAX_RETRIES")
	setDurationMs(&cfg.Evaluator.ExecuteBackoff, "EVALUATOR_EXECUTE_BACKOFF_MS")
	setDuration(&cfg.Evaluator.TrendMaxAge, "EVALUATOR_TREND_MAX_AGE")

	// ── Executor ──
	setInt(&cfg.Executor.BreakerThreshold, "CIRCUIT_BREAKER_THRESHOLD")
	setDurationMs(&cfg.Executor.LockTTL, "EXECUTOR_LOCK_TTL_MS")
	setDurationMs(&cfg.Executor.LockWait, "EXECUTOR_LOCK_WAIT_MS")

	// ── Oracle ──
	setDurationMs(&cfg.Oracle.SourceTimeout, "ORACLE_SOURCE_TIMEOUT_MS")
	setFloat64(&cfg.Oracle.MaxDeviationPct, "ORACLE_MAX_DEVIATION_PCT")
	setStr(&cfg.Oracle.MarketIndexURL, "MARKET_INDEX_URL")
	setStr(&cfg.Oracle.MarketIndexAPIKey, "MARKET_INDEX_API_KEY")

	// ── Signer sub-service ──
	setStr(&cfg.Signer.URL, "SIGNER_SERVICE_URL")
	setStr(&cfg.Signer.Token, "SIGNER_SERVICE_TOKEN")

	// ── Vault (session-key material) ──
	setStr(&cfg.Vault.Addr, "VAULT_ADDR")
	setStr(&cfg.Vault.Token, "VAULT_TOKEN")
	setStr(&cfg.Vault.Mount, "VAULT_MOUNT")
	setStr(&cfg.Vault.FilePath, "VAULT_FILE_PATH")
	setStr(&cfg.Vault.FilePassphrase, "VAULT_FILE_PASSPHRASE")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.ServiceToken, "INTERNAL_API_TOKEN")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDurationMs(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW_MS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPIL_MODE")
	setStr(&cfg.LogLevel, "COPIL_LOG_LEVEL")
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

// setDurationMs reads a bare-millisecond variable (the deployment surface
// expresses timeouts as integer milliseconds).
func setDurationMs(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			dst.Duration = time.Duration(n) * time.Millisecond
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
