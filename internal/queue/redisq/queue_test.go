package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilfi/copil-sub001/internal/domain"
)

func TestBroker_EnqueueDequeueComplete(t *testing.T) {
	broker, cleanup := setupTestBroker(t, Config{})
	defer cleanup()

	ctx := context.Background()

	job, err := broker.Enqueue(ctx, domain.QueueStrategy, domain.JobEvaluateStrategy,
		domain.EvaluateStrategyJob{StrategyID: 42}, domain.EnqueueOpts{})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStateWaiting, job.State)

	counts, err := broker.Counts(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.JobStateWaiting])

	claimed, ok, err := broker.Dequeue(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, domain.JobStateActive, claimed.State)
	assert.Equal(t, 1, claimed.Attempts)

	var payload domain.EvaluateStrategyJob
	require.NoError(t, json.Unmarshal(claimed.Payload, &payload))
	assert.Equal(t, int64(42), payload.StrategyID)

	// Claimed jobs are visible to the duplicate guard.
	active, err := broker.ActiveJobs(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, job.ID, active[0].ID)

	require.NoError(t, broker.Complete(ctx, domain.QueueStrategy, claimed.ID))

	counts, err = broker.Counts(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[domain.JobStateWaiting])
	assert.Equal(t, int64(0), counts[domain.JobStateActive])
	assert.Equal(t, int64(1), counts[domain.JobStateCompleted])

	// Empty queue dequeues cleanly.
	_, ok, err = broker.Dequeue(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBroker_StableIDDedup(t *testing.T) {
	broker, cleanup := setupTestBroker(t, Config{})
	defer cleanup()

	ctx := context.Background()
	opts := domain.EnqueueOpts{JobID: "eval:7"}

	first, err := broker.Enqueue(ctx, domain.QueueStrategy, domain.JobEvaluateStrategy,
		domain.EvaluateStrategyJob{StrategyID: 7}, opts)
	require.NoError(t, err)

	// Same id while the job is live: no second copy.
	second, err := broker.Enqueue(ctx, domain.QueueStrategy, domain.JobEvaluateStrategy,
		domain.EvaluateStrategyJob{StrategyID: 7}, opts)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	counts, err := broker.Counts(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.JobStateWaiting])

	// Dedup also holds while the job is active.
	claimed, ok, err := broker.Dequeue(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = broker.Enqueue(ctx, domain.QueueStrategy, domain.JobEvaluateStrategy,
		domain.EvaluateStrategyJob{StrategyID: 7}, opts)
	require.NoError(t, err)
	counts, err = broker.Counts(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[domain.JobStateWaiting])

	// After completion the id is reusable.
	require.NoError(t, broker.Complete(ctx, domain.QueueStrategy, claimed.ID))

	reused, err := broker.Enqueue(ctx, domain.QueueStrategy, domain.JobEvaluateStrategy,
		domain.EvaluateStrategyJob{StrategyID: 7}, opts)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateWaiting, reused.State)

	counts, err = broker.Counts(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.JobStateWaiting])
	assert.Equal(t, int64(0), counts[domain.JobStateCompleted], "re-enqueue retires the completed record")
}

func TestBroker_DelayedPromotion(t *testing.T) {
	broker, cleanup := setupTestBroker(t, Config{})
	defer cleanup()

	ctx := context.Background()

	_, err := broker.Enqueue(ctx, domain.QueueDefault, "Delayed", nil,
		domain.EnqueueOpts{Delay: 300 * time.Millisecond})
	require.NoError(t, err)

	_, ok, err := broker.Dequeue(ctx, domain.QueueDefault)
	require.NoError(t, err)
	assert.False(t, ok, "delayed job must not be claimable early")

	time.Sleep(400 * time.Millisecond)

	claimed, ok, err := broker.Dequeue(ctx, domain.QueueDefault)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Delayed", claimed.Name)
}

func TestBroker_FailRetriesThenBuries(t *testing.T) {
	broker, cleanup := setupTestBroker(t, Config{})
	defer cleanup()

	ctx := context.Background()

	_, err := broker.Enqueue(ctx, domain.QueueTransaction, domain.JobExecuteIntent, nil,
		domain.EnqueueOpts{MaxAttempts: 2, Backoff: 100 * time.Millisecond})
	require.NoError(t, err)

	// First attempt fails: the job parks in the delayed set.
	job, ok, err := broker.Dequeue(ctx, domain.QueueTransaction)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, broker.Fail(ctx, job, errors.New("upstream unavailable")))

	counts, err := broker.Counts(ctx, domain.QueueTransaction)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.JobStateDelayed])

	// After the backoff the job is redelivered carrying the attempt count
	// and last error.
	time.Sleep(250 * time.Millisecond)

	job, ok, err = broker.Dequeue(ctx, domain.QueueTransaction)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, job.Attempts)
	assert.Contains(t, job.LastError, "upstream unavailable")

	// Final attempt fails: the job is buried, not retried.
	require.NoError(t, broker.Fail(ctx, job, errors.New("still down")))

	counts, err = broker.Counts(ctx, domain.QueueTransaction)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[domain.JobStateDelayed])
	assert.Equal(t, int64(1), counts[domain.JobStateFailed])
}

func TestBroker_ReapReclaimsStalledJobs(t *testing.T) {
	broker, cleanup := setupTestBroker(t, Config{VisibilityTimeout: 200 * time.Millisecond})
	defer cleanup()

	ctx := context.Background()

	enqueued, err := broker.Enqueue(ctx, domain.QueueStrategy, domain.JobEvaluateStrategy,
		domain.EvaluateStrategyJob{StrategyID: 9}, domain.EnqueueOpts{})
	require.NoError(t, err)

	_, ok, err := broker.Dequeue(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	require.True(t, ok)

	// Worker "dies": no ack. Before the deadline nothing is reclaimed.
	n, err := broker.Reap(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(300 * time.Millisecond)

	n, err = broker.Reap(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	redelivered, ok, err := broker.Dequeue(ctx, domain.QueueStrategy)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, enqueued.ID, redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempts, "redelivery counts as a new attempt")
}

func TestBroker_CompletedRingEviction(t *testing.T) {
	broker, cleanup := setupTestBroker(t, Config{RemoveOnComplete: 2})
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := broker.Enqueue(ctx, domain.QueueDefault, "Job", nil,
			domain.EnqueueOpts{JobID: fmt.Sprintf("ring:%d", i)})
		require.NoError(t, err)

		job, ok, err := broker.Dequeue(ctx, domain.QueueDefault)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, broker.Complete(ctx, domain.QueueDefault, job.ID))
	}

	counts, err := broker.Counts(ctx, domain.QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.JobStateCompleted])

	// The evicted job's record is gone entirely.
	_, err = broker.getJob(ctx, domain.QueueDefault, "ring:0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
