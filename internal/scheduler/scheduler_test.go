package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/observability"
)

type fakeStrategyStore struct {
	strategies []domain.Strategy
	err        error
}

func (f *fakeStrategyStore) Create(ctx context.Context, s domain.Strategy) (domain.Strategy, error) {
	return s, nil
}

func (f *fakeStrategyStore) GetByID(ctx context.Context, id int64) (domain.Strategy, error) {
	return domain.Strategy{}, domain.ErrNotFound
}

func (f *fakeStrategyStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Strategy, error) {
	if f.err != nil {
		return nil, f.err
	}
	if opts.Offset >= len(f.strategies) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(f.strategies) {
		end = len(f.strategies)
	}
	return f.strategies[opts.Offset:end], nil
}

func (f *fakeStrategyStore) SetActive(ctx context.Context, id int64, active bool) error { return nil }
func (f *fakeStrategyStore) CountActive(ctx context.Context) (int64, error)             { return 0, nil }

type enqueueCall struct {
	queue string
	name  string
	jobID string
}

type fakeQueue struct {
	calls   []enqueueCall
	failIDs map[string]bool
}

func (f *fakeQueue) Enqueue(ctx context.Context, queue, name string, payload any, opts domain.EnqueueOpts) (domain.Job, error) {
	if f.failIDs[opts.JobID] {
		return domain.Job{}, errors.New("broker unavailable")
	}
	f.calls = append(f.calls, enqueueCall{queue: queue, name: name, jobID: opts.JobID})
	return domain.Job{ID: opts.JobID, Queue: queue, Name: name, State: domain.JobStateWaiting}, nil
}

func (f *fakeQueue) ActiveJobs(ctx context.Context, queue string) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeQueue) Counts(ctx context.Context, queue string) (map[domain.JobState]int64, error) {
	return nil, nil
}

func newTestScheduler(cfg Config, store domain.StrategyStore, queue domain.Queue) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, store, queue, observability.NewMetrics("test"), logger)
}

func strategy(id int64, schedule string) domain.Strategy {
	return domain.Strategy{ID: id, UserID: 1, Name: "s", Schedule: schedule, IsActive: true}
}

func TestTick_EnqueuesDefaultCadenceStrategies(t *testing.T) {
	store := &fakeStrategyStore{strategies: []domain.Strategy{strategy(1, ""), strategy(2, "")}}
	queue := &fakeQueue{}
	s := newTestScheduler(Config{}, store, queue)

	now := time.Date(2026, 3, 10, 15, 0, 30, 0, time.UTC)
	if err := s.Tick(context.Background(), now.Add(-time.Minute), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(queue.calls) != 2 {
		t.Fatalf("enqueued %d jobs, want 2", len(queue.calls))
	}
	for i, want := range []string{"eval:1", "eval:2"} {
		call := queue.calls[i]
		if call.jobID != want {
			t.Errorf("job id = %s, want %s", call.jobID, want)
		}
		if call.queue != domain.QueueStrategy || call.name != domain.JobEvaluateStrategy {
			t.Errorf("call = %+v", call)
		}
	}
}

func TestTick_CronBoundaryInsideWindow(t *testing.T) {
	store := &fakeStrategyStore{strategies: []domain.Strategy{strategy(7, "*/15 * * * *")}}

	cases := []struct {
		name string
		from time.Time
		to   time.Time
		due  bool
	}{
		{
			name: "boundary inside window",
			from: time.Date(2026, 3, 10, 14, 59, 30, 0, time.UTC),
			to:   time.Date(2026, 3, 10, 15, 0, 30, 0, time.UTC),
			due:  true,
		},
		{
			name: "no boundary inside window",
			from: time.Date(2026, 3, 10, 15, 1, 30, 0, time.UTC),
			to:   time.Date(2026, 3, 10, 15, 2, 30, 0, time.UTC),
			due:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			queue := &fakeQueue{}
			s := newTestScheduler(Config{}, store, queue)

			if err := s.Tick(context.Background(), tc.from, tc.to); err != nil {
				t.Fatalf("Tick: %v", err)
			}
			if got := len(queue.calls) == 1; got != tc.due {
				t.Errorf("enqueued = %v, want due = %v", got, tc.due)
			}
		})
	}
}

func TestTick_PagesThroughAllStrategies(t *testing.T) {
	store := &fakeStrategyStore{strategies: []domain.Strategy{
		strategy(1, ""), strategy(2, ""), strategy(3, ""), strategy(4, ""), strategy(5, ""),
	}}
	queue := &fakeQueue{}
	s := newTestScheduler(Config{PageSize: 2}, store, queue)

	now := time.Now()
	if err := s.Tick(context.Background(), now.Add(-time.Minute), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(queue.calls) != 5 {
		t.Errorf("enqueued %d jobs, want 5", len(queue.calls))
	}
}

func TestTick_MalformedScheduleSkipped(t *testing.T) {
	store := &fakeStrategyStore{strategies: []domain.Strategy{
		strategy(1, "not a cron"),
		strategy(2, ""),
	}}
	queue := &fakeQueue{}
	s := newTestScheduler(Config{}, store, queue)

	now := time.Now()
	if err := s.Tick(context.Background(), now.Add(-time.Minute), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(queue.calls) != 1 || queue.calls[0].jobID != "eval:2" {
		t.Errorf("calls = %+v, want only the healthy strategy", queue.calls)
	}
}

func TestTick_EnqueueFailureDoesNotBlockSiblings(t *testing.T) {
	store := &fakeStrategyStore{strategies: []domain.Strategy{
		strategy(1, ""), strategy(2, ""), strategy(3, ""),
	}}
	queue := &fakeQueue{failIDs: map[string]bool{"eval:2": true}}
	s := newTestScheduler(Config{}, store, queue)

	now := time.Now()
	if err := s.Tick(context.Background(), now.Add(-time.Minute), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(queue.calls) != 2 {
		t.Errorf("enqueued %d jobs, want the 2 healthy ones", len(queue.calls))
	}
}

func TestEvalJobID(t *testing.T) {
	if got := EvalJobID(42); got != "eval:42" {
		t.Errorf("EvalJobID(42) = %s", got)
	}
}
