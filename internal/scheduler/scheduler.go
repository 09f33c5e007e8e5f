// Package scheduler turns active strategies into evaluation jobs on the
// strategy queue, honouring each strategy's optional cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/copilfi/copil-sub001/internal/cron"
	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/observability"
)

// EvalJobID returns the stable job id for a strategy's evaluation. The broker
// treats an enqueue whose id already exists in a non-terminal state as a
// no-op, so one strategy never has two outstanding evaluations.
func EvalJobID(strategyID int64) string {
	return fmt.Sprintf("eval:%d", strategyID)
}

// Config controls the scheduler cadence.
type Config struct {
	// PollInterval is the tick period.
	PollInterval time.Duration
	// PageSize bounds each ListActive page.
	PageSize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	return c
}

// Scheduler enqueues EvaluateStrategy jobs for every strategy due in the
// current tick window. It never evaluates or executes anything itself, and it
// never assumes the enqueued job runs exactly once.
type Scheduler struct {
	cfg        Config
	strategies domain.StrategyStore
	queue      domain.Queue
	metrics    *observability.Metrics
	logger     *slog.Logger

	// now is the clock; tests pin it.
	now func() time.Time
}

// New creates a Scheduler.
func New(cfg Config, strategies domain.StrategyStore, queue domain.Queue, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		strategies: strategies,
		queue:      queue,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "scheduler")),
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled. Tick failures are logged and the next
// tick proceeds.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting",
		slog.Duration("poll_interval", s.cfg.PollInterval),
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	lastTick := s.now()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			tickAt := s.now()
			if err := s.Tick(ctx, lastTick, tickAt); err != nil {
				s.logger.ErrorContext(ctx, "scheduler tick failed", slog.String("error", err.Error()))
			}
			lastTick = tickAt
		}
	}
}

// Tick enqueues every active strategy due in the window (from, to]. A single
// strategy failing to enqueue does not block the rest.
func (s *Scheduler) Tick(ctx context.Context, from, to time.Time) error {
	enqueued := 0
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := s.strategies.ListActive(ctx, domain.ListOpts{Limit: s.cfg.PageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("scheduler: list active strategies: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, strategy := range page {
			if !s.isDue(ctx, strategy, from, to) {
				continue
			}
			if err := s.enqueue(ctx, strategy); err != nil {
				s.logger.ErrorContext(ctx, "enqueue evaluation failed",
					slog.Int64("strategy_id", strategy.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			enqueued++
		}

		if len(page) < s.cfg.PageSize {
			break
		}
		offset += s.cfg.PageSize
	}

	s.metrics.SchedulerTicks.Inc()
	s.logger.DebugContext(ctx, "tick complete",
		slog.Int("enqueued", enqueued),
		slog.Time("window_from", from),
		slog.Time("window_to", to),
	)
	return nil
}

// isDue decides whether the strategy's cadence boundary fell inside the tick
// window. No schedule means every tick. A malformed schedule skips the
// strategy rather than over-firing it; the warning names the expression so
// the owner can fix it.
func (s *Scheduler) isDue(ctx context.Context, strategy domain.Strategy, from, to time.Time) bool {
	if strategy.Schedule == "" {
		return true
	}

	schedule, err := cron.Parse(strategy.Schedule)
	if err != nil {
		s.logger.WarnContext(ctx, "strategy has malformed schedule, skipping",
			slog.Int64("strategy_id", strategy.ID),
			slog.String("schedule", strategy.Schedule),
			slog.String("error", err.Error()),
		)
		return false
	}
	return schedule.DueBetween(from, to)
}

func (s *Scheduler) enqueue(ctx context.Context, strategy domain.Strategy) error {
	payload := domain.EvaluateStrategyJob{StrategyID: strategy.ID}

	job, err := s.queue.Enqueue(ctx, domain.QueueStrategy, domain.JobEvaluateStrategy, payload, domain.EnqueueOpts{
		JobID: EvalJobID(strategy.ID),
	})
	if err != nil {
		return err
	}

	s.metrics.StrategiesEnqueued.Inc()
	s.logger.DebugContext(ctx, "evaluation enqueued",
		slog.Int64("strategy_id", strategy.ID),
		slog.String("job_id", job.ID),
		slog.String("job_state", string(job.State)),
	)
	return nil
}
