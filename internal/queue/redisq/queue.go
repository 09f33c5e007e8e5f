// Package redisq implements the shared job queues on Redis: list-backed
// waiting queues, a delayed zset for retries, and a visibility-timeout
// active set so jobs lost to worker crashes are redelivered. All state
// transitions run as Lua scripts, so concurrent producers and consumers
// never observe a half-moved job.
package redisq

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/copilfi/copil-sub001/internal/domain"
)

//go:embed scripts/enqueue.lua
var enqueueLua string

//go:embed scripts/dequeue.lua
var dequeueLua string

//go:embed scripts/complete.lua
var completeLua string

//go:embed scripts/fail.lua
var failLua string

//go:embed scripts/reap.lua
var reapLua string

// Config tunes per-queue behaviour. Zero values fall back to the defaults
// below.
type Config struct {
	// DefaultMaxAttempts bounds delivery attempts when the enqueue does not
	// override it.
	DefaultMaxAttempts int
	// DefaultBackoff is the base of the exponential retry delay.
	DefaultBackoff time.Duration
	// VisibilityTimeout is how long a worker may hold a job before the
	// reaper hands it to someone else.
	VisibilityTimeout time.Duration
	// RemoveOnComplete is how many completed jobs to keep for inspection.
	RemoveOnComplete int
}

const (
	defaultMaxAttempts       = 3
	defaultBackoff           = 5 * time.Second
	defaultVisibilityTimeout = 60 * time.Second
	defaultRemoveOnComplete  = 100
)

func (c Config) withDefaults() Config {
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = defaultMaxAttempts
	}
	if c.DefaultBackoff <= 0 {
		c.DefaultBackoff = defaultBackoff
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = defaultVisibilityTimeout
	}
	if c.RemoveOnComplete <= 0 {
		c.RemoveOnComplete = defaultRemoveOnComplete
	}
	return c
}

// Broker is the Redis-backed implementation of domain.Queue plus the
// consumer-side operations the Worker uses.
type Broker struct {
	rdb *redis.Client
	cfg Config

	enqueueSc  *redis.Script
	dequeueSc  *redis.Script
	completeSc *redis.Script
	failSc     *redis.Script
	reapSc     *redis.Script
}

// NewBroker creates a Broker on the given Redis client (the raw driver
// handle, via the cache client's Underlying).
func NewBroker(rdb *redis.Client, cfg Config) *Broker {
	return &Broker{
		rdb:        rdb,
		cfg:        cfg.withDefaults(),
		enqueueSc:  redis.NewScript(enqueueLua),
		dequeueSc:  redis.NewScript(dequeueLua),
		completeSc: redis.NewScript(completeLua),
		failSc:     redis.NewScript(failLua),
		reapSc:     redis.NewScript(reapLua),
	}
}

var _ domain.Queue = (*Broker)(nil)

func waitingKey(queue string) string   { return "queue:" + queue + ":waiting" }
func delayedKey(queue string) string   { return "queue:" + queue + ":delayed" }
func activeKey(queue string) string    { return "queue:" + queue + ":active" }
func completedKey(queue string) string { return "queue:" + queue + ":completed" }
func failedKey(queue string) string    { return "queue:" + queue + ":failed" }
func jobKeyPrefix(queue string) string { return "queue:" + queue + ":job:" }
func jobKey(queue, id string) string   { return jobKeyPrefix(queue) + id }

// Enqueue stores a job and makes it runnable (immediately, or after the
// delay). When opts.JobID names a job that is still waiting, delayed or
// active, nothing is stored and the existing job is returned.
func (b *Broker) Enqueue(ctx context.Context, queue, name string, payload any, opts domain.EnqueueOpts) (domain.Job, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return domain.Job{}, fmt.Errorf("redisq: encode payload for %s: %w", name, err)
	}

	id := opts.JobID
	if id == "" {
		id = uuid.New().String()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = b.cfg.DefaultMaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = b.cfg.DefaultBackoff
	}

	now := time.Now()
	stored, err := b.enqueueSc.Run(ctx, b.rdb,
		[]string{jobKey(queue, id), waitingKey(queue), delayedKey(queue), completedKey(queue), failedKey(queue)},
		id, name, string(body),
		maxAttempts, backoff.Milliseconds(),
		now.UnixMilli(), opts.Delay.Milliseconds(),
	).Int64()
	if err != nil {
		return domain.Job{}, fmt.Errorf("redisq: enqueue %s on %s: %w", name, queue, err)
	}

	if stored == 0 {
		// Stable-id dedup hit: surface the live job.
		return b.getJob(ctx, queue, id)
	}

	job := domain.Job{
		ID:          id,
		Queue:       queue,
		Name:        name,
		Payload:     body,
		State:       domain.JobStateWaiting,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		EnqueuedAt:  now,
	}
	if opts.Delay > 0 {
		job.State = domain.JobStateDelayed
	}
	return job, nil
}

// Dequeue claims the next runnable job for visibility-timeout processing.
// It returns ok=false when the queue is empty.
func (b *Broker) Dequeue(ctx context.Context, queue string) (domain.Job, bool, error) {
	res, err := b.dequeueSc.Run(ctx, b.rdb,
		[]string{waitingKey(queue), delayedKey(queue), activeKey(queue)},
		time.Now().UnixMilli(), b.cfg.VisibilityTimeout.Milliseconds(), jobKeyPrefix(queue),
	).Result()
	if err == redis.Nil {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("redisq: dequeue %s: %w", queue, err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) == 0 {
		return domain.Job{}, false, nil
	}

	job, err := jobFromFlatFields(queue, fields)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("redisq: dequeue %s: %w", queue, err)
	}
	return job, true, nil
}

// Complete acknowledges a successfully processed job.
func (b *Broker) Complete(ctx context.Context, queue, id string) error {
	err := b.completeSc.Run(ctx, b.rdb,
		[]string{activeKey(queue), completedKey(queue)},
		id, time.Now().UnixMilli(), b.cfg.RemoveOnComplete, jobKeyPrefix(queue),
	).Err()
	if err != nil {
		return fmt.Errorf("redisq: complete %s on %s: %w", id, queue, err)
	}
	return nil
}

// Fail records a failed attempt. While attempts remain the job is parked in
// the delayed set with exponential backoff; afterwards it is buried in the
// failed list, which is never trimmed.
func (b *Broker) Fail(ctx context.Context, job domain.Job, cause error) error {
	delay := retryDelay(job.Backoff, job.Attempts)

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	err := b.failSc.Run(ctx, b.rdb,
		[]string{activeKey(job.Queue), delayedKey(job.Queue), failedKey(job.Queue)},
		job.ID, time.Now().UnixMilli(), delay.Milliseconds(), msg, jobKeyPrefix(job.Queue),
	).Err()
	if err != nil {
		return fmt.Errorf("redisq: fail %s on %s: %w", job.ID, job.Queue, err)
	}
	return nil
}

// Reap returns jobs whose visibility deadline lapsed to the waiting list and
// reports how many were reclaimed.
func (b *Broker) Reap(ctx context.Context, queue string) (int64, error) {
	n, err := b.reapSc.Run(ctx, b.rdb,
		[]string{activeKey(queue), waitingKey(queue)},
		time.Now().UnixMilli(), jobKeyPrefix(queue),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redisq: reap %s: %w", queue, err)
	}
	return n, nil
}

// ActiveJobs lists jobs currently claimed by workers, newest claim first.
func (b *Broker) ActiveJobs(ctx context.Context, queue string) ([]domain.Job, error) {
	ids, err := b.rdb.ZRevRange(ctx, activeKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisq: list active %s: %w", queue, err)
	}

	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.getJob(ctx, queue, id)
		if err != nil {
			// The job may have completed between ZREVRANGE and HGETALL.
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Counts returns the queue depth per state.
func (b *Broker) Counts(ctx context.Context, queue string) (map[domain.JobState]int64, error) {
	pipe := b.rdb.Pipeline()
	waiting := pipe.LLen(ctx, waitingKey(queue))
	delayed := pipe.ZCard(ctx, delayedKey(queue))
	active := pipe.ZCard(ctx, activeKey(queue))
	completed := pipe.LLen(ctx, completedKey(queue))
	failed := pipe.LLen(ctx, failedKey(queue))

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisq: counts %s: %w", queue, err)
	}

	return map[domain.JobState]int64{
		domain.JobStateWaiting:   waiting.Val(),
		domain.JobStateDelayed:   delayed.Val(),
		domain.JobStateActive:    active.Val(),
		domain.JobStateCompleted: completed.Val(),
		domain.JobStateFailed:    failed.Val(),
	}, nil
}

func (b *Broker) getJob(ctx context.Context, queue, id string) (domain.Job, error) {
	fields, err := b.rdb.HGetAll(ctx, jobKey(queue, id)).Result()
	if err != nil {
		return domain.Job{}, fmt.Errorf("redisq: get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return domain.Job{}, domain.ErrNotFound
	}
	return jobFromFields(queue, fields), nil
}

// retryDelay is base * 2^(attempt-1), clamped so the shift cannot overflow.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultBackoff
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}
	return base * time.Duration(1<<uint(shift))
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

func jobFromFlatFields(queue string, flat []interface{}) (domain.Job, error) {
	if len(flat)%2 != 0 {
		return domain.Job{}, fmt.Errorf("odd hash reply length %d", len(flat))
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, kok := flat[i].(string)
		v, vok := flat[i+1].(string)
		if !kok || !vok {
			return domain.Job{}, fmt.Errorf("non-string hash reply at %d", i)
		}
		fields[k] = v
	}
	return jobFromFields(queue, fields), nil
}

func jobFromFields(queue string, fields map[string]string) domain.Job {
	job := domain.Job{
		ID:        fields["id"],
		Queue:     queue,
		Name:      fields["name"],
		Payload:   []byte(fields["payload"]),
		State:     domain.JobState(fields["state"]),
		LastError: fields["last_error"],
	}
	job.Attempts, _ = strconv.Atoi(fields["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])

	if ms, err := strconv.ParseInt(fields["backoff_ms"], 10, 64); err == nil {
		job.Backoff = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.ParseInt(fields["enqueued_at"], 10, 64); err == nil {
		job.EnqueuedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["started_at"], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		job.StartedAt = &t
	}
	if ms, err := strconv.ParseInt(fields["finished_at"], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		job.FinishedAt = &t
	}
	return job
}
