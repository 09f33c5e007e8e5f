package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/copilfi/copil-sub001/internal/archive"
	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/evaluator"
	"github.com/copilfi/copil-sub001/internal/executor"
	"github.com/copilfi/copil-sub001/internal/feed/dexscreener"
	"github.com/copilfi/copil-sub001/internal/feed/hyperliquid"
	"github.com/copilfi/copil-sub001/internal/feed/marketindex"
	"github.com/copilfi/copil-sub001/internal/ingestor"
	"github.com/copilfi/copil-sub001/internal/oracle"
	"github.com/copilfi/copil-sub001/internal/queue/redisq"
	"github.com/copilfi/copil-sub001/internal/scheduler"
	"github.com/copilfi/copil-sub001/internal/server"
	"github.com/copilfi/copil-sub001/internal/server/handler"
)

// IngestMode runs the price feed loops: periodic DEX and perp pulls plus the
// optional live stream, persisting samples for the evaluator and the oracle.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode",
		slog.Any("chains", a.cfg.Ingest.Chains),
	)

	g, ctx := errgroup.WithContext(ctx)

	ing := a.newIngestor(deps)
	g.Go(func() error {
		return ing.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, nil)

	return g.Wait()
}

// ScheduleMode runs the scheduler loop that turns active strategies into
// evaluation jobs on the strategy queue.
func (a *App) ScheduleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting schedule mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := a.newScheduler(deps)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, nil)

	return g.Wait()
}

// EvaluateMode consumes the strategy queue, testing triggers and dispatching
// satisfied strategies to the executor's internal API over HTTP.
func (a *App) EvaluateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting evaluate mode",
		slog.String("executor_url", a.cfg.Evaluator.ExecutorURL),
	)

	g, ctx := errgroup.WithContext(ctx)

	dispatch := evaluator.NewClient(
		a.cfg.Evaluator.ExecutorURL,
		a.cfg.Server.ServiceToken,
		a.cfg.Evaluator.ExecuteHTTPTimeout.Duration,
	)
	eval := a.newEvaluator(deps, dispatch)
	a.startWorker(ctx, g, deps, domain.QueueStrategy, a.cfg.Queue.StrategyConcurrency, eval.Handle)

	a.startHTTPServer(ctx, g, deps, nil)

	return g.Wait()
}

// ExecuteMode runs the execution service behind the internal API and a
// transaction-queue worker for jobs enqueued by other services.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting execute mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildExecution(deps)
	a.startWorker(ctx, g, deps, domain.QueueTransaction, a.cfg.Queue.TransactionConcurrency, svc.HandleJob)

	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// ArchiveMode runs scheduled cold-storage passes that move aged rows to
// object storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.String("cron", a.cfg.Archive.Cron),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	g, ctx := errgroup.WithContext(ctx)

	arch := a.newArchiver(deps)
	g.Go(func() error {
		return arch.RunCron(ctx)
	})

	a.startHTTPServer(ctx, g, deps, nil)

	return g.Wait()
}

// FullMode runs every subsystem in one process: feeds, scheduler, evaluator,
// executor, and (when enabled) the archiver. The evaluator dispatches to the
// in-process execution service instead of over HTTP.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildExecution(deps)
	eval := a.newEvaluator(deps, inProcessExecutor{svc: svc})

	ing := a.newIngestor(deps)
	g.Go(func() error {
		return ing.Run(ctx)
	})

	sched := a.newScheduler(deps)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	a.startWorker(ctx, g, deps, domain.QueueStrategy, a.cfg.Queue.StrategyConcurrency, eval.Handle)
	a.startWorker(ctx, g, deps, domain.QueueTransaction, a.cfg.Queue.TransactionConcurrency, svc.HandleJob)

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		arch := a.newArchiver(deps)
		g.Go(func() error {
			return arch.RunCron(ctx)
		})
	}

	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// inProcessExecutor adapts the execution service to the evaluator's dispatch
// contract so full mode skips the HTTP hop. Vetoes settle as failed rows and
// return nil, matching what the HTTP client reports for them.
type inProcessExecutor struct {
	svc *executor.Service
}

func (e inProcessExecutor) Execute(ctx context.Context, req domain.ExecuteRequest) error {
	_, err := e.svc.Execute(ctx, req)
	return err
}

func (a *App) newIngestor(deps *Dependencies) *ingestor.Ingestor {
	ic := a.cfg.Ingest
	return ingestor.New(ingestor.Config{
		DexInterval:     ic.DexInterval.Duration,
		PerpInterval:    ic.PerpInterval.Duration,
		Watch:           ic.WatchLists(),
		PerpSymbols:     ic.HLSymbols,
		EnableLiveFeed:  ic.LiveFeedEnabled,
		LiveWSURL:       ic.HyperliquidWSURL,
		LiveMinInterval: ic.LiveMinInterval.Duration,
	},
		dexscreener.New(ic.DexScreenerURL, ic.DexScreenerTimeout.Duration),
		hyperliquid.New(ic.HyperliquidURL, ic.DexScreenerTimeout.Duration),
		deps.Prices,
		deps.Metrics,
		a.logger,
	)
}

func (a *App) newScheduler(deps *Dependencies) *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{
		PollInterval: a.cfg.Scheduler.PollInterval.Duration,
	}, deps.Strategies, deps.Broker, deps.Metrics, a.logger)
}

func (a *App) newEvaluator(deps *Dependencies, dispatch evaluator.ExecutorClient) *evaluator.Evaluator {
	return evaluator.New(evaluator.Config{
		MaxRetries:  a.cfg.Evaluator.ExecuteMaxRetries,
		Backoff:     a.cfg.Evaluator.ExecuteBackoff.Duration,
		TrendMaxAge: a.cfg.Evaluator.TrendMaxAge.Duration,
	}, deps.Strategies, deps.Prices, deps.TxLogs, deps.Broker, dispatch, deps.Metrics, a.logger)
}

// buildExecution assembles the oracle validator and the execution service
// with its collaborators from Wire.
func (a *App) buildExecution(deps *Dependencies) *executor.Service {
	svc := executor.New(executor.Config{
		LockTTL:          a.cfg.Executor.LockTTL.Duration,
		LockWait:         a.cfg.Executor.LockWait.Duration,
		BreakerThreshold: a.cfg.Executor.BreakerThreshold,
		BreakerCooldown:  a.cfg.Executor.BreakerCooldown.Duration,
		RateLimit:        a.cfg.Executor.SignerRateLimit,
		RateWindow:       a.cfg.Executor.SignerRateWindow.Duration,
		Spenders:         a.cfg.Chains.Spenders,
	}, deps.TxLogs, deps.SessionKeys, deps.LockManager, a.newOracleValidator(deps), deps.Signer, deps.Metrics, a.logger)

	svc.SetVault(deps.Vault)
	svc.SetRateLimiter(deps.RateLimiter)
	svc.SetNotifier(deps.Notifier)
	for _, reader := range deps.Readers {
		svc.AddChainReader(reader)
	}
	return svc
}

// newOracleValidator builds the consensus validator over the three price
// sources: the DEX aggregator, the market index, and our own recent samples.
func (a *App) newOracleValidator(deps *Dependencies) *oracle.Validator {
	oc := a.cfg.Oracle
	sources := []domain.PriceSource{
		oracle.NewDexAggregatorSource(dexscreener.New(
			a.cfg.Ingest.DexScreenerURL,
			a.cfg.Ingest.DexScreenerTimeout.Duration,
		)),
		oracle.NewMarketIndexSource(marketindex.New(
			oc.MarketIndexURL,
			oc.MarketIndexAPIKey,
			oc.SourceTimeout.Duration,
		)),
		oracle.NewLocalStoreSource(deps.Prices, oc.LocalMaxAge.Duration),
	}
	return oracle.NewValidator(sources, oracle.Config{
		SourceTimeout:   oc.SourceTimeout.Duration,
		MaxDeviationPct: oc.MaxDeviationPct,
		MinSources:      oc.MinSources,
	}, a.logger)
}

func (a *App) newArchiver(deps *Dependencies) *archive.Archiver {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	return archive.New(archive.Config{
		PriceRetention: retention,
		TxLogRetention: retention,
		Schedule:       a.cfg.Archive.Cron,
	}, deps.Archiver, deps.Metrics, a.logger)
}

// startWorker adds one queue consumer pool to the errgroup.
func (a *App) startWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies, queue string, concurrency int, h redisq.Handler) {
	w := redisq.NewWorker(deps.Broker, redisq.WorkerConfig{
		Queue:          queue,
		Concurrency:    concurrency,
		PollInterval:   a.cfg.Queue.PollInterval.Duration,
		ReaperInterval: a.cfg.Queue.ReaperInterval.Duration,
	}, h, a.logger)
	g.Go(func() error {
		return w.Run(ctx)
	})
}

// startHTTPServer adds the internal HTTP server to the errgroup: health and
// metrics in every mode, the execute endpoint only when an execution service
// is supplied. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, exec *executor.Service) {
	health := handler.NewHealthHandler(a.logger)
	health.AddCheck("postgres", deps.PG.Ping)
	if deps.Redis != nil {
		health.AddCheck("redis", deps.Redis.Ping)
	}
	if deps.Vault != nil {
		health.AddCheck("vault", deps.Vault.Ping)
	}
	if deps.S3 != nil {
		health.AddCheck("s3", deps.S3.Health)
	}

	handlers := server.Handlers{Health: health}
	if exec != nil {
		handlers.Execute = handler.NewExecuteHandler(exec, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		ServiceToken: a.cfg.Server.ServiceToken,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.Metrics, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
