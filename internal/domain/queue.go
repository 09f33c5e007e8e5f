package domain

import (
	"context"
	"time"
)

// Queue names. Default is reserved for future job kinds.
const (
	QueueStrategy    = "strategy-queue"
	QueueTransaction = "transaction-queue"
	QueueDefault     = "default"
)

// Job names carried on the queues.
const (
	JobEvaluateStrategy = "EvaluateStrategy"
	JobExecuteIntent    = "ExecuteIntent"
)

// EvaluateStrategyJob is the payload of strategy-queue jobs.
type EvaluateStrategyJob struct {
	StrategyID int64 `json:"strategyId"`
}

// JobState is the broker-side lifecycle state of a job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job is one unit of queued work. Payload is the JSON-encoded job body.
type Job struct {
	ID          string
	Queue       string
	Name        string
	Payload     []byte
	State       JobState
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	LastError   string
}

// EnqueueOpts tunes a single enqueue. Zero values fall back to per-queue
// defaults.
type EnqueueOpts struct {
	// JobID pins a stable id. Enqueueing an id that already exists in a
	// non-terminal state is a no-op and returns the existing job.
	JobID string
	// Delay holds the job in the delayed set before it becomes runnable.
	Delay time.Duration
	// MaxAttempts bounds delivery attempts (failures requeue with backoff).
	MaxAttempts int
	// Backoff is the base of the exponential retry delay (base * 2^attempt).
	Backoff time.Duration
}

// Queue is the broker contract shared by producers and introspecting
// consumers. Delivery is at-least-once; handlers must be idempotent.
type Queue interface {
	Enqueue(ctx context.Context, queue, name string, payload any, opts EnqueueOpts) (Job, error)
	// ActiveJobs lists jobs currently held by workers, newest first. The
	// evaluator's duplicate guard keys off this.
	ActiveJobs(ctx context.Context, queue string) ([]Job, error)
	// Counts returns the number of jobs per state for one queue.
	Counts(ctx context.Context, queue string) (map[JobState]int64, error)
}
