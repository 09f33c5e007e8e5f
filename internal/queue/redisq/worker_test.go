package redisq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilfi/copil-sub001/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_ProcessesJobs(t *testing.T) {
	broker, cleanup := setupTestBroker(t, Config{})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan struct{})

	const jobs = 5
	handler := func(ctx context.Context, job domain.Job) error {
		mu.Lock()
		seen[job.ID] = true
		complete := len(seen) == jobs
		mu.Unlock()
		if complete {
			close(done)
		}
		return nil
	}

	worker := NewWorker(broker, WorkerConfig{
		Queue:        domain.QueueStrategy,
		Concurrency:  3,
		PollInterval: 20 * time.Millisecond,
	}, handler, discardLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = worker.Run(ctx)
	}()

	for i := 0; i < jobs; i++ {
		_, err := broker.Enqueue(ctx, domain.QueueStrategy, domain.JobEvaluateStrategy,
			domain.EvaluateStrategyJob{StrategyID: int64(i)},
			domain.EnqueueOpts{JobID: fmt.Sprintf("eval:%d", i)})
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not process all jobs in time")
	}

	cancel()
	wg.Wait()

	// Every job must be acknowledged.
	deadline := time.Now().Add(2 * time.Second)
	for {
		counts, err := broker.Counts(context.Background(), domain.QueueStrategy)
		require.NoError(t, err)
		if counts[domain.JobStateCompleted] == int64(jobs) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d completed jobs, got %v", jobs, counts)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestWorker_RetriesFailedJob(t *testing.T) {
	broker, cleanup := setupTestBroker(t, Config{})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	done := make(chan struct{})

	handler := func(ctx context.Context, job domain.Job) error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}

	worker := NewWorker(broker, WorkerConfig{
		Queue:        domain.QueueTransaction,
		Concurrency:  1,
		PollInterval: 20 * time.Millisecond,
	}, handler, discardLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = worker.Run(ctx)
	}()

	_, err := broker.Enqueue(ctx, domain.QueueTransaction, domain.JobExecuteIntent, nil,
		domain.EnqueueOpts{MaxAttempts: 3, Backoff: 50 * time.Millisecond})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("job was not retried to success in time")
	}

	cancel()
	wg.Wait()

	assert.Equal(t, int32(2), attempts.Load())
}

func TestWorker_PanicCountsAsFailure(t *testing.T) {
	broker, cleanup := setupTestBroker(t, Config{})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := func(ctx context.Context, job domain.Job) error {
		panic("boom")
	}

	worker := NewWorker(broker, WorkerConfig{
		Queue:        domain.QueueDefault,
		Concurrency:  1,
		PollInterval: 20 * time.Millisecond,
	}, handler, discardLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = worker.Run(ctx)
	}()

	_, err := broker.Enqueue(ctx, domain.QueueDefault, "Panics", nil,
		domain.EnqueueOpts{MaxAttempts: 1, Backoff: 10 * time.Millisecond})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		counts, err := broker.Counts(context.Background(), domain.QueueDefault)
		require.NoError(t, err)
		if counts[domain.JobStateFailed] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected a buried job, got %v", counts)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	wg.Wait()
}
