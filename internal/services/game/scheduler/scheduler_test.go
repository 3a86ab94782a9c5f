package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/greenfelt/croupier/internal/services/game/storage"
	"github.com/greenfelt/croupier/internal/services/game/storage/memory"
)

func newTestRunner(t *testing.T, opts Options) (*Runner, *memory.Store, *time.Time) {
	t.Helper()
	store := memory.New(nil)
	runner := New(store, opts)
	now := time.Now().UTC()
	runner.now = func() time.Time { return now }
	return runner, store, &now
}

func putJob(t *testing.T, store *memory.Store, kind storage.JobKind, fireAt time.Time) storage.Job {
	t.Helper()
	job := storage.Job{TableID: "tbl-1", Generation: 1, Kind: kind, Key: "k", FireAt: fireAt}
	if err := store.PutJob(context.Background(), job); err != nil {
		t.Fatalf("PutJob() error = %v", err)
	}
	return job
}

func TestTickRunsDueJobOnce(t *testing.T) {
	runner, store, now := newTestRunner(t, Options{})
	var runs atomic.Int64
	runner.Register(storage.JobDeal, func(ctx context.Context, job storage.Job) error {
		runs.Add(1)
		return nil
	})
	putJob(t, store, storage.JobDeal, now.Add(-time.Second))

	if err := runner.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", runs.Load())
	}

	// A completed job never fires again.
	if err := runner.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("handler ran %d times after completion, want 1", runs.Load())
	}
}

func TestTickSkipsFutureJobs(t *testing.T) {
	runner, store, now := newTestRunner(t, Options{})
	var runs atomic.Int64
	runner.Register(storage.JobDeal, func(ctx context.Context, job storage.Job) error {
		runs.Add(1)
		return nil
	})
	putJob(t, store, storage.JobDeal, now.Add(time.Minute))

	if err := runner.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if runs.Load() != 0 {
		t.Fatalf("handler ran %d times before fire time, want 0", runs.Load())
	}
}

func TestFailingJobRetriesThenDies(t *testing.T) {
	runner, store, now := newTestRunner(t, Options{MaxAttempts: 2, RetryBase: time.Millisecond})
	var runs atomic.Int64
	runner.Register(storage.JobDealer, func(ctx context.Context, job storage.Job) error {
		runs.Add(1)
		return errors.New("deck unavailable")
	})
	putJob(t, store, storage.JobDealer, now.Add(-time.Second))

	if err := runner.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", runs.Load())
	}

	// Advance past the retry delay; second failure hits MaxAttempts.
	*now = now.Add(time.Minute)
	if err := runner.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if runs.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", runs.Load())
	}

	*now = now.Add(time.Hour)
	if err := runner.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if runs.Load() != 2 {
		t.Fatalf("dead job ran again, total %d", runs.Load())
	}
}

func TestUnregisteredKindIsParked(t *testing.T) {
	runner, store, now := newTestRunner(t, Options{})
	putJob(t, store, storage.JobSpin, now.Add(-time.Second))

	if err := runner.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	// The job is dead, not retried forever.
	jobs, err := store.ClaimDueJobs(context.Background(), now.Add(time.Hour), 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueJobs() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("parked job still claimable: %+v", jobs)
	}
}

func TestRetryDelayDoubles(t *testing.T) {
	runner := New(memory.New(nil), Options{RetryBase: time.Second, RetryCap: 10 * time.Second})
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := runner.retryDelay(tc.attempts); got != tc.want {
			t.Fatalf("retryDelay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}
