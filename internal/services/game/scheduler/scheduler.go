// Package scheduler drives time-delayed phase transitions. It polls the
// durable job table, leases due jobs, and dispatches them to registered
// handlers. Handlers re-read authoritative state and no-op on stale
// generations, so a job firing twice or firing late is harmless.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/greenfelt/croupier/internal/services/game/storage"
)

// Handler executes one claimed job.
type Handler func(ctx context.Context, job storage.Job) error

// Options tune the poll loop.
type Options struct {
	// PollInterval is the sleep between empty polls. Default 500ms.
	PollInterval time.Duration
	// Lease is how long a claim holds before another poller may steal the
	// job. Default 30s.
	Lease time.Duration
	// BatchSize caps jobs claimed per poll. Default 10.
	BatchSize int
	// MaxAttempts parks a job as dead after this many failed runs.
	// Default 5.
	MaxAttempts int
	// RetryBase is the first retry delay; it doubles per attempt up to
	// RetryCap. Defaults 1s and 30s.
	RetryBase time.Duration
	RetryCap  time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 30 * time.Second
	}
	return o
}

// Runner polls the job store and runs handlers.
type Runner struct {
	jobs     storage.JobStore
	opts     Options
	handlers map[storage.JobKind]Handler
	now      func() time.Time
	tracer   trace.Tracer
}

// New returns a Runner over jobs.
func New(jobs storage.JobStore, opts Options) *Runner {
	return &Runner{
		jobs:     jobs,
		opts:     opts.withDefaults(),
		handlers: make(map[storage.JobKind]Handler),
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   otel.Tracer("croupier/scheduler"),
	}
}

// Register binds kind to handler. Registrations must happen before Run.
func (r *Runner) Register(kind storage.JobKind, handler Handler) {
	r.handlers[kind] = handler
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.tick(ctx); err != nil {
			log.Printf("scheduler: poll: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick claims one batch of due jobs and runs them to completion, retry, or
// death.
func (r *Runner) tick(ctx context.Context) error {
	now := r.now()
	claimed, err := r.jobs.ClaimDueJobs(ctx, now, r.opts.BatchSize, r.opts.Lease)
	if err != nil {
		return fmt.Errorf("claim due jobs: %w", err)
	}

	for _, job := range claimed {
		r.dispatch(ctx, job)
	}
	return nil
}

func (r *Runner) dispatch(ctx context.Context, job storage.Job) {
	ctx, span := r.tracer.Start(ctx, "scheduler.Dispatch", trace.WithAttributes(
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("job.table_id", job.TableID),
	))
	defer span.End()

	handler, ok := r.handlers[job.Kind]
	if !ok {
		log.Printf("scheduler: no handler for kind %s, parking job table=%s key=%s", job.Kind, job.TableID, job.Key)
		if err := r.jobs.FailJob(ctx, job, "no handler registered"); err != nil {
			log.Printf("scheduler: fail job: %v", err)
		}
		return
	}

	if err := handler(ctx, job); err != nil {
		if job.Attempts >= r.opts.MaxAttempts {
			log.Printf("scheduler: job dead after %d attempts table=%s kind=%s key=%s: %v",
				job.Attempts, job.TableID, job.Kind, job.Key, err)
			if failErr := r.jobs.FailJob(ctx, job, err.Error()); failErr != nil {
				log.Printf("scheduler: fail job: %v", failErr)
			}
			return
		}
		retryAt := r.now().Add(r.retryDelay(job.Attempts))
		log.Printf("scheduler: job retry at %s table=%s kind=%s key=%s: %v",
			retryAt.Format(time.RFC3339), job.TableID, job.Kind, job.Key, err)
		if retryErr := r.jobs.RetryJob(ctx, job, retryAt, err.Error()); retryErr != nil {
			log.Printf("scheduler: retry job: %v", retryErr)
		}
		return
	}

	if err := r.jobs.CompleteJob(ctx, job); err != nil {
		log.Printf("scheduler: complete job: %v", err)
	}
}

func (r *Runner) retryDelay(attempts int) time.Duration {
	delay := r.opts.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= r.opts.RetryCap {
			return r.opts.RetryCap
		}
	}
	return delay
}
