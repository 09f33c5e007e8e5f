// Package archive runs scheduled cold-storage runs: aged rows move from
// Postgres to object storage on a cron schedule, one retention window per
// dataset.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/copilfi/copil-sub001/internal/cron"
	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/observability"
)

// Config holds the retention windows and the run schedule. A retention of
// zero disables archiving for that dataset.
type Config struct {
	PriceRetention time.Duration
	TxLogRetention time.Duration
	Schedule       string
}

// Archiver drives domain.Archiver runs on a schedule.
type Archiver struct {
	cfg     Config
	blob    domain.Archiver
	metrics *observability.Metrics
	logger  *slog.Logger

	now func() time.Time
}

// New creates an Archiver.
func New(cfg Config, blob domain.Archiver, metrics *observability.Metrics, logger *slog.Logger) *Archiver {
	return &Archiver{
		cfg:     cfg,
		blob:    blob,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes one archive pass. Datasets run independently so a failure in
// one does not hold back the other; their errors are joined and returned
// after both had their turn.
func (a *Archiver) Run(ctx context.Context) error {
	datasets := []struct {
		name      string
		retention time.Duration
		archive   func(context.Context, time.Time) (int64, error)
	}{
		{"price_samples", a.cfg.PriceRetention, a.blob.ArchivePriceSamples},
		{"transaction_logs", a.cfg.TxLogRetention, a.blob.ArchiveTransactionLogs},
	}

	var errs []error
	for _, ds := range datasets {
		if ds.retention <= 0 {
			continue
		}
		cutoff := a.now().UTC().Add(-ds.retention)

		count, err := ds.archive(ctx, cutoff)
		if count > 0 {
			// Counted even when the run failed: pages uploaded before the
			// failure are archived for good.
			a.metrics.RowsArchived.WithLabelValues(ds.name).Add(float64(count))
		}
		if err != nil {
			a.metrics.ArchiveRuns.WithLabelValues(ds.name, "error").Inc()
			a.logger.ErrorContext(ctx, "archive dataset failed",
				slog.String("dataset", ds.name),
				slog.Int64("rows", count),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("archive %s: %w", ds.name, err))
			continue
		}

		a.metrics.ArchiveRuns.WithLabelValues(ds.name, "ok").Inc()
		a.logger.InfoContext(ctx, "archived dataset",
			slog.String("dataset", ds.name),
			slog.Int64("rows", count),
			slog.Time("cutoff", cutoff),
		)
	}
	return errors.Join(errs...)
}

// RunCron blocks, executing Run whenever the configured schedule fires,
// until the context is cancelled. Failed runs are logged and the loop keeps
// going; whatever rows they left behind are picked up by the next run.
func (a *Archiver) RunCron(ctx context.Context) error {
	schedule, err := cron.Parse(a.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("archive schedule %q: %w", a.cfg.Schedule, err)
	}
	a.logger.InfoContext(ctx, "archiver started",
		slog.String("schedule", schedule.String()),
		slog.Duration("price_retention", a.cfg.PriceRetention),
		slog.Duration("txlog_retention", a.cfg.TxLogRetention),
	)

	for {
		next, err := schedule.Next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("archive schedule %q: %w", a.cfg.Schedule, err)
		}

		timer := time.NewTimer(next.Sub(a.now().UTC()))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
