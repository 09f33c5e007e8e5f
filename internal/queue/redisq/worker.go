package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// Handler processes one claimed job. Returning nil acknowledges the job;
// returning an error schedules a retry (or buries the job once attempts are
// exhausted). Handlers run concurrently and must be idempotent: the broker
// redelivers jobs whose worker died mid-flight.
type Handler func(ctx context.Context, job domain.Job) error

// WorkerConfig tunes one consumer pool.
type WorkerConfig struct {
	Queue          string
	Concurrency    int
	PollInterval   time.Duration
	ReaperInterval time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 15 * time.Second
	}
	return c
}

// Worker runs a pool of consumers against one queue, plus a reaper loop that
// reclaims jobs from dead workers.
type Worker struct {
	broker  *Broker
	cfg     WorkerConfig
	handler Handler
	logger  *slog.Logger
}

// NewWorker creates a Worker. The handler is shared by all pool goroutines.
func NewWorker(broker *Broker, cfg WorkerConfig, handler Handler, logger *slog.Logger) *Worker {
	return &Worker{
		broker:  broker,
		cfg:     cfg.withDefaults(),
		handler: handler,
		logger:  logger.With(slog.String("component", "queue-worker"), slog.String("queue", cfg.Queue)),
	}
}

// Run blocks until ctx is cancelled, consuming jobs with cfg.Concurrency
// goroutines.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker: starting",
		slog.Int("concurrency", w.cfg.Concurrency),
		slog.Duration("poll_interval", w.cfg.PollInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			return w.consume(ctx)
		})
	}

	g.Go(func() error {
		return w.reapLoop(ctx)
	})

	err := g.Wait()
	w.logger.Info("worker: stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, ok, err := w.broker.Dequeue(ctx, w.cfg.Queue)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("worker: dequeue failed", slog.String("error", err.Error()))
			ok = false
		}

		if !ok {
			timer := time.NewTimer(w.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job domain.Job) {
	start := time.Now()
	err := w.invoke(ctx, job)

	if err == nil {
		if ackErr := w.broker.Complete(ctx, w.cfg.Queue, job.ID); ackErr != nil {
			w.logger.Error("worker: ack failed",
				slog.String("job_id", job.ID),
				slog.String("error", ackErr.Error()),
			)
		}
		w.logger.InfoContext(ctx, "worker: job completed",
			slog.String("job_id", job.ID),
			slog.String("job_name", job.Name),
			slog.Int("attempt", job.Attempts),
			slog.Duration("took", time.Since(start)),
		)
		return
	}

	w.logger.Warn("worker: job failed",
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
		slog.Int("attempt", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.String("error", err.Error()),
	)
	if failErr := w.broker.Fail(ctx, job, err); failErr != nil {
		w.logger.Error("worker: fail record failed",
			slog.String("job_id", job.ID),
			slog.String("error", failErr.Error()),
		)
	}
}

// invoke shields the pool from handler panics; a panicking job counts as a
// failed attempt.
func (w *Worker) invoke(ctx context.Context, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := w.broker.Reap(ctx, w.cfg.Queue)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("worker: reap failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				w.logger.Warn("worker: reclaimed stalled jobs", slog.Int64("count", n))
			}
		}
	}
}
