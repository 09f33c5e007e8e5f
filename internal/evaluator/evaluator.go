// Package evaluator consumes strategy-queue jobs, decides whether each
// strategy's trigger is satisfied, and dispatches satisfied strategies to the
// internal execution endpoint.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/observability"
)

// Dispatch defaults. Timeouts bound one executor call end to end; the retry
// knobs cover transient executor failures (lock contention, upstream blips).
const (
	DefaultDispatchTimeout = 12 * time.Second
	DefaultMaxRetries      = 3
	DefaultBackoff         = 500 * time.Millisecond
)

const executePath = "/transaction/execute/internal"

// ExecutorClient dispatches satisfied strategies for execution.
type ExecutorClient interface {
	Execute(ctx context.Context, req domain.ExecuteRequest) error
}

// Config tunes one evaluator instance.
type Config struct {
	// MaxRetries bounds dispatch attempts per job.
	MaxRetries int
	// Backoff is the base of the dispatch retry delay (base * 2^i).
	Backoff time.Duration
	// TrendMaxAge drops trend candidates older than this. Zero keeps every
	// sample the store returns.
	TrendMaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	return c
}

// Evaluator turns one strategy-queue job into at most one execution dispatch.
type Evaluator struct {
	cfg        Config
	strategies domain.StrategyStore
	prices     domain.PriceStore
	txlogs     domain.TransactionLogStore
	queue      domain.Queue
	executor   ExecutorClient
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New assembles an evaluator. The queue is only introspected (duplicate
// guard); this package never enqueues.
func New(
	cfg Config,
	strategies domain.StrategyStore,
	prices domain.PriceStore,
	txlogs domain.TransactionLogStore,
	queue domain.Queue,
	executor ExecutorClient,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		cfg:        cfg.withDefaults(),
		strategies: strategies,
		prices:     prices,
		txlogs:     txlogs,
		queue:      queue,
		executor:   executor,
		metrics:    metrics,
		logger:     logger.With("component", "evaluator"),
		now:        time.Now,
	}
}

// Handle is the worker handler for EvaluateStrategy jobs. It returns nil for
// every terminal outcome (not found, inactive, trigger not met, dispatch
// exhausted) so the broker does not redeliver; only infrastructure errors
// propagate for a broker-level retry.
func (e *Evaluator) Handle(ctx context.Context, job domain.Job) error {
	var payload domain.EvaluateStrategyJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		e.logger.ErrorContext(ctx, "malformed job payload", "jobId", job.ID, "error", err)
		e.metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return nil
	}

	corrID := observability.NewCorrelationID()
	ctx = observability.WithCorrelationID(ctx, corrID)
	log := e.logger.With("strategyId", payload.StrategyID, "jobId", job.ID, "correlationId", corrID)

	dup, err := e.duplicateInFlight(ctx, job, payload.StrategyID)
	if err != nil {
		log.WarnContext(ctx, "active job lookup failed, proceeding without guard", "error", err)
	} else if dup {
		log.InfoContext(ctx, "evaluation already in flight, skipping")
		e.metrics.EvaluationsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	strategy, err := e.strategies.GetByID(ctx, payload.StrategyID)
	if errors.Is(err, domain.ErrNotFound) {
		log.InfoContext(ctx, "strategy gone, dropping job")
		e.metrics.EvaluationsTotal.WithLabelValues("not_found").Inc()
		return nil
	}
	if err != nil {
		e.metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("evaluator: load strategy %d: %w", payload.StrategyID, err)
	}
	if !strategy.IsActive {
		log.InfoContext(ctx, "strategy inactive, dropping job")
		e.metrics.EvaluationsTotal.WithLabelValues("inactive").Inc()
		return nil
	}

	if strategy.Definition.IsLegacy() {
		return e.skipLegacy(ctx, log, strategy)
	}

	fired, err := e.triggered(ctx, strategy.Definition)
	if err != nil {
		e.metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, domain.ErrValidation) {
			log.ErrorContext(ctx, "trigger rejected", "error", err)
			return nil
		}
		return err
	}
	if !fired {
		log.DebugContext(ctx, "trigger not satisfied")
		e.metrics.EvaluationsTotal.WithLabelValues("not_triggered").Inc()
		return nil
	}

	if strategy.Definition.SessionKeyID == 0 {
		log.WarnContext(ctx, "trigger satisfied but strategy has no session key")
		e.metrics.EvaluationsTotal.WithLabelValues("no_session_key").Inc()
		return nil
	}

	req := domain.ExecuteRequest{
		UserID:         strategy.UserID,
		Intent:         strategy.Definition.Intent,
		SessionKeyID:   strategy.Definition.SessionKeyID,
		IdempotencyKey: fmt.Sprintf("strategy:%d:job:%s", strategy.ID, job.ID),
		StrategyID:     strategy.ID,
	}
	if err := e.dispatch(ctx, log, req); err != nil {
		return e.recordDispatchFailure(ctx, log, strategy, req, err)
	}
	log.InfoContext(ctx, "strategy dispatched for execution", "idempotencyKey", req.IdempotencyKey)
	e.metrics.EvaluationsTotal.WithLabelValues("dispatched").Inc()

	if !strategy.Definition.Repeat {
		if err := e.strategies.SetActive(ctx, strategy.ID, false); err != nil {
			return fmt.Errorf("evaluator: deactivate one-shot strategy %d: %w", strategy.ID, err)
		}
		log.InfoContext(ctx, "one-shot strategy deactivated")
	}
	return nil
}

// duplicateInFlight reports whether another worker currently holds a job for
// the same strategy. Overlap is possible when an evaluation outlives the
// scheduler's poll interval; the later job yields.
func (e *Evaluator) duplicateInFlight(ctx context.Context, job domain.Job, strategyID int64) (bool, error) {
	active, err := e.queue.ActiveJobs(ctx, domain.QueueStrategy)
	if err != nil {
		return false, err
	}
	for _, peer := range active {
		if peer.ID == job.ID {
			continue
		}
		var p domain.EvaluateStrategyJob
		if err := json.Unmarshal(peer.Payload, &p); err != nil {
			continue
		}
		if p.StrategyID == strategyID {
			return true, nil
		}
	}
	return false, nil
}

// skipLegacy records that a legacy flat-form strategy was seen but not run.
// Legacy definitions still parse for backwards compatibility; they are never
// executed.
func (e *Evaluator) skipLegacy(ctx context.Context, log *slog.Logger, strategy domain.Strategy) error {
	log.InfoContext(ctx, "legacy strategy definition, skipping execution")
	_, err := e.txlogs.Create(ctx, domain.TransactionLog{
		UserID:      strategy.UserID,
		StrategyID:  &strategy.ID,
		Description: "legacy strategy definition skipped",
		Chain:       strategy.Definition.Trigger.Chain,
		Status:      domain.TxSkipped,
		Details:     map[string]any{"reason": domain.LegacyIntentName},
	})
	if err != nil {
		return fmt.Errorf("evaluator: record legacy skip: %w", err)
	}
	e.metrics.EvaluationsTotal.WithLabelValues("skipped_legacy").Inc()
	return nil
}

// dispatch posts the execute request, retrying transient failures with
// exponential backoff. Terminal rejections (validation, permission, missing
// records) surface immediately; the last error wins otherwise.
func (e *Evaluator) dispatch(ctx context.Context, log *slog.Logger, req domain.ExecuteRequest) error {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.Backoff * time.Duration(1<<(attempt-1))
			e.metrics.DispatchRetries.Inc()
			log.WarnContext(ctx, "retrying dispatch", "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := sleepCtx(ctx, delay); err != nil {
				return lastErr
			}
		}
		lastErr = e.executor.Execute(ctx, req)
		if lastErr == nil {
			return nil
		}
		if !dispatchRetriable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// recordDispatchFailure writes the failed audit row once retries are spent.
// The strategy stays active; the next schedule tick gets a fresh job and a
// fresh idempotency key.
func (e *Evaluator) recordDispatchFailure(ctx context.Context, log *slog.Logger, strategy domain.Strategy, req domain.ExecuteRequest, dispatchErr error) error {
	log.ErrorContext(ctx, "dispatch failed, giving up", "error", dispatchErr)
	e.metrics.EvaluationsTotal.WithLabelValues("dispatch_failed").Inc()
	if _, err := e.txlogs.Create(ctx, domain.TransactionLog{
		UserID:      strategy.UserID,
		StrategyID:  &strategy.ID,
		Description: fmt.Sprintf("execution dispatch failed: %v", dispatchErr),
		Chain:       strategy.Definition.Trigger.Chain,
		Status:      domain.TxFailed,
		Details: map[string]any{
			domain.DetailsIdempotencyKey: req.IdempotencyKey,
			"stage":                      "dispatch",
		},
	}); err != nil {
		log.ErrorContext(ctx, "recording dispatch failure failed", "error", err)
	}
	return nil
}

// dispatchRetriable widens the domain retry set with Conflict: the executor
// answers 409 while another job holds the session-key lock, and that clears.
func dispatchRetriable(err error) bool {
	return domain.IsRetriable(err) || errors.Is(err, domain.ErrConflict)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client is the HTTP ExecutorClient used in production. It targets the API
// service's internal execute endpoint and authenticates with the shared
// service token.
type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

var _ ExecutorClient = (*Client)(nil)

// NewClient builds a dispatch client. A non-positive timeout falls back to
// DefaultDispatchTimeout.
func NewClient(baseURL, serviceToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Execute posts the request and maps the response status onto the domain
// error taxonomy so the retry loop can tell transient from terminal.
func (c *Client) Execute(ctx context.Context, req domain.ExecuteRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("evaluator: encode execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+executePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("evaluator: build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-service-token", c.serviceToken)
	if id := observability.CorrelationIDFrom(ctx); id != "" {
		httpReq.Header.Set(observability.HeaderCorrelationID, id)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("evaluator: dispatch execute: %v: %w", err, domain.ErrUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	reason := readReason(resp.Body)
	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("evaluator: executor busy: %s: %w", reason, domain.ErrConflict)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("evaluator: executor throttled: %s: %w", reason, domain.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("evaluator: executor rejected: %s: %w", reason, domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("evaluator: executor rejected: %s: %w", reason, domain.ErrPermissionDenied)
	case resp.StatusCode >= 500:
		return fmt.Errorf("evaluator: executor failed (status %d): %s: %w", resp.StatusCode, reason, domain.ErrUpstream)
	default:
		return fmt.Errorf("evaluator: executor rejected (status %d): %s: %w", resp.StatusCode, reason, domain.ErrValidation)
	}
}

// readReason extracts the error message from a non-2xx response, preferring
// the JSON envelope over the raw body.
func readReason(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return string(bytes.TrimSpace(raw))
}
