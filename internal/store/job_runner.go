// Package store provides the JobRunner for executing durable jobs.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// JobHandler is a function that executes a job's work. It receives the job's
// payload JSON and returns an error if the execution failed.
type JobHandler func(ctx context.Context, payload string) error

// NextFunc computes the next occurrence of a cron expression strictly after
// the reference time. Wired to schedule.Next in production.
type NextFunc func(expr string, after time.Time) (time.Time, error)

// Runner defaults.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultLeaseDuration  = 2 * time.Minute
	DefaultConcurrency    = 10
	DefaultHandlerTimeout = time.Minute
	// retryBaseBackoff is doubled per attempt: 30s, 60s, 120s, ...
	retryBaseBackoff = 30 * time.Second
)

// RunnerOption configures a JobRunner.
type RunnerOption func(*JobRunner)

// WithPollInterval sets how often the runner polls for due jobs.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *JobRunner) { r.pollInterval = d }
}

// WithLeaseDuration sets how long a claimed job stays locked before a
// crashed worker's claim expires.
func WithLeaseDuration(d time.Duration) RunnerOption {
	return func(r *JobRunner) { r.leaseDuration = d }
}

// WithConcurrency bounds how many handlers may run in parallel.
func WithConcurrency(n int) RunnerOption {
	return func(r *JobRunner) { r.concurrency = n }
}

// WithHandlerTimeout bounds a single handler invocation.
func WithHandlerTimeout(d time.Duration) RunnerOption {
	return func(r *JobRunner) { r.handlerTimeout = d }
}

// JobRunner periodically claims due jobs from the store and dispatches them
// to registered handlers on their own goroutines, bounded by the configured
// concurrency. Handler failures and panics never reach the polling loop.
type JobRunner struct {
	repo           JobRepo
	next           NextFunc
	handlers       map[string]JobHandler
	mu             sync.RWMutex
	pollInterval   time.Duration
	leaseDuration  time.Duration
	handlerTimeout time.Duration
	concurrency    int
	workerID       string
	inflight       atomic.Int64
	wg             sync.WaitGroup
}

// NewJobRunner creates a new JobRunner.
func NewJobRunner(repo JobRepo, next NextFunc, opts ...RunnerOption) *JobRunner {
	r := &JobRunner{
		repo:           repo,
		next:           next,
		handlers:       make(map[string]JobHandler),
		pollInterval:   DefaultPollInterval,
		leaseDuration:  DefaultLeaseDuration,
		handlerTimeout: DefaultHandlerTimeout,
		concurrency:    DefaultConcurrency,
		workerID:       uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterHandler registers a handler for a given job name.
func (r *JobRunner) RegisterHandler(name string, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
	slog.Debug("JobRunner.RegisterHandler", "name", name)
}

// ScheduleRecurring validates the cron expression and upserts a recurring
// job under (name, key). The expression is checked here so a malformed
// schedule is rejected synchronously and never enters the store.
func (r *JobRunner) ScheduleRecurring(name, key, expr, payloadJSON string) (string, error) {
	first, err := r.next(expr, time.Now())
	if err != nil {
		return "", err
	}
	id, err := r.repo.UpsertJob(name, key, first, expr, payloadJSON)
	if err != nil {
		return "", fmt.Errorf("schedule recurring job %s failed: %w", name, err)
	}
	slog.Info("JobRunner.ScheduleRecurring", "name", name, "expr", expr, "firstRun", first, "id", id)
	return id, nil
}

// Run starts the polling loop. It blocks until the context is cancelled,
// then waits for in-flight handlers to finish.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: starting job runner",
		"pollInterval", r.pollInterval, "concurrency", r.concurrency, "workerID", r.workerID)

	// Crash recovery: leases abandoned by a previous process become
	// claimable immediately instead of after one lease period.
	if n, err := r.repo.ReapExpiredLeases(time.Now()); err != nil {
		slog.Error("JobRunner.Run: startup lease reap failed", "error", err)
	} else if n > 0 {
		slog.Info("JobRunner.Run: reaped stale leases at startup", "count", n)
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopping, draining in-flight handlers")
			r.wg.Wait()
			slog.Info("JobRunner.Run: stopped")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *JobRunner) poll(ctx context.Context) {
	now := time.Now()

	if _, err := r.repo.ReapExpiredLeases(now); err != nil {
		slog.Error("JobRunner.poll: lease reap failed", "error", err)
	}

	free := r.concurrency - int(r.inflight.Load())
	if free <= 0 {
		slog.Debug("JobRunner.poll: at concurrency ceiling, skipping claim")
		return
	}

	jobs, err := r.repo.ClaimDueJobs(now, free, r.workerID, r.leaseDuration)
	if err != nil {
		slog.Error("JobRunner.poll: claim failed", "error", err)
		return
	}

	for _, job := range jobs {
		r.inflight.Add(1)
		r.wg.Add(1)
		go r.execute(ctx, job)
	}
}

func (r *JobRunner) execute(ctx context.Context, job Job) {
	defer r.wg.Done()
	defer r.inflight.Add(-1)

	r.mu.RLock()
	handler, ok := r.handlers[job.Name]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("JobRunner.execute: no handler for job", "name", job.Name, "id", job.ID)
		r.failJob(job, "no handler registered for job name: "+job.Name)
		return
	}

	slog.Debug("JobRunner.execute: executing job", "id", job.ID, "name", job.Name, "attempt", job.Attempts)
	err := r.invoke(ctx, handler, job)
	if err != nil {
		slog.Error("JobRunner.execute: job execution failed", "id", job.ID, "name", job.Name, "error", err)
		r.failJob(job, err.Error())
		return
	}

	if err := r.repo.CompleteJob(job.ID); err != nil {
		slog.Error("JobRunner.execute: complete job error", "id", job.ID, "error", err)
		return
	}
	slog.Debug("JobRunner.execute: job completed", "id", job.ID, "name", job.Name)

	if job.Recurrence != "" {
		r.reschedule(job)
	}
}

// invoke runs the handler with a timeout and converts panics into errors so
// a misbehaving handler cannot take down the runner.
func (r *JobRunner) invoke(ctx context.Context, handler JobHandler, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	hctx, cancel := context.WithTimeout(ctx, r.handlerTimeout)
	defer cancel()
	return handler(hctx, job.PayloadJSON)
}

func (r *JobRunner) failJob(job Job, errMsg string) {
	backoff := retryBaseBackoff << job.Attempts
	nextRun := time.Now().Add(backoff)
	if err := r.repo.FailJob(job.ID, errMsg, nextRun); err != nil {
		slog.Error("JobRunner.failJob: fail job error", "id", job.ID, "error", err)
	}
}

// reschedule enqueues the next occurrence of a recurring job under the same
// (name, key) after a successful run.
func (r *JobRunner) reschedule(job Job) {
	nextRun, err := r.next(job.Recurrence, time.Now())
	if err != nil {
		slog.Error("JobRunner.reschedule: invalid recurrence", "id", job.ID, "name", job.Name, "expr", job.Recurrence, "error", err)
		return
	}
	id, err := r.repo.UpsertJob(job.Name, job.Key, nextRun, job.Recurrence, job.PayloadJSON)
	if err != nil {
		slog.Error("JobRunner.reschedule: upsert next occurrence failed", "name", job.Name, "error", err)
		return
	}
	slog.Debug("JobRunner.reschedule: next occurrence enqueued", "name", job.Name, "runAt", nextRun, "id", id)
}
