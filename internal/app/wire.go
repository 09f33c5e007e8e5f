package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/copilfi/copil-sub001/internal/blob/s3"
	"github.com/copilfi/copil-sub001/internal/cache/redis"
	"github.com/copilfi/copil-sub001/internal/chain"
	"github.com/copilfi/copil-sub001/internal/config"
	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/notify"
	"github.com/copilfi/copil-sub001/internal/observability"
	"github.com/copilfi/copil-sub001/internal/queue/redisq"
	"github.com/copilfi/copil-sub001/internal/signer"
	"github.com/copilfi/copil-sub001/internal/store/postgres"
	"github.com/copilfi/copil-sub001/internal/vault"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Users       domain.UserStore
	Wallets     domain.WalletStore
	SessionKeys domain.SessionKeyStore
	Strategies  domain.StrategyStore
	Prices      domain.PriceStore
	TxLogs      domain.TransactionLogStore

	// Infrastructure handles, kept for health checks and teardown.
	PG    *postgres.Client
	Redis *redis.Client
	S3    *s3blob.Client

	// Coordination
	Broker      *redisq.Broker
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Execution collaborators (execute and full modes)
	Vault   domain.Vault
	Signer  domain.Signer
	Readers map[string]domain.ChainReader

	// Cold storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Observability
	Metrics *observability.Metrics
}

// needsRedis returns true for modes that coordinate through the broker, the
// distributed lock, or the rate limiter.
func needsRedis(mode string) bool {
	switch mode {
	case "schedule", "evaluate", "execute", "full":
		return true
	default:
		return false
	}
}

// needsExecution returns true for modes that run the execution service and
// therefore need the vault, the signer, and chain readers.
func needsExecution(mode string) bool {
	switch mode {
	case "execute", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that move aged rows to object storage.
func needsS3(mode string, archiveEnabled bool) bool {
	switch mode {
	case "archive":
		return true
	case "full":
		return archiveEnabled
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: observability.NewMetrics(""),
	}

	// --- PostgreSQL (every mode persists something) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PG = pgClient
	deps.Users = postgres.NewUserStore(pool)
	deps.Wallets = postgres.NewWalletStore(pool)
	deps.SessionKeys = postgres.NewSessionKeyStore(pool)
	deps.Strategies = postgres.NewStrategyStore(pool)
	deps.Prices = postgres.NewPriceStore(pool)
	deps.TxLogs = postgres.NewTransactionLogStore(pool)

	// --- Redis: queue broker, distributed lock, rate limiter ---
	if needsRedis(mode) {
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

		deps.Redis = redisClient
		deps.Broker = redisq.NewBroker(redisClient.Underlying(), redisq.Config{
			DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
			DefaultBackoff:     cfg.Queue.DefaultBackoff.Duration,
			VisibilityTimeout:  cfg.Queue.VisibilityTimeout.Duration,
			RemoveOnComplete:   cfg.Queue.RemoveOnComplete,
		})
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- Execution collaborators: vault, signer, chain readers ---
	if needsExecution(mode) {
		if cfg.Vault.Addr != "" {
			deps.Vault = vault.NewClient(cfg.Vault.Addr, cfg.Vault.Token, cfg.Vault.Mount, 0)
		} else {
			fv, err := vault.NewFileVault(cfg.Vault.FilePath, cfg.Vault.FilePassphrase)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: file vault: %w", err)
			}
			deps.Vault = fv
		}

		deps.Signer = signer.New(cfg.Signer.URL, cfg.Signer.Token, cfg.Signer.Timeout.Duration)

		deps.Readers = make(map[string]domain.ChainReader, len(cfg.Chains.RPCEndpoints))
		for name, rpcURL := range cfg.Chains.RPCEndpoints {
			reader, err := chain.NewEVMReader(name, rpcURL)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: chain reader %s: %w", name, err)
			}
			closers = append(closers, reader.Close)
			deps.Readers[name] = reader
		}
	}

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(mode, cfg.Archive.Enabled) {
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

		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Prices,
			deps.TxLogs,
			cfg.Archive.BatchSize,
		)
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, deps.Metrics, logger)

	return deps, cleanup, nil
}
