// Package reconciler derives a job's aggregate status from its steps.
//
// Steps report asynchronously and out of order, so the reconciler never
// trusts event order: on every DONE it recomputes the job status from the
// full step snapshot and folds the result into the stored status with
// api.MergeStatus semantics. FAILED is absorbing.
//
// Every transition is a single conditional write in the store. There are no
// retries here; a store failure is returned to the caller, who retries the
// whole callback.
package reconciler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/petrijr/jobledger/internal/persistence"
	"github.com/petrijr/jobledger/pkg/api"
)

// Reconciler advances job statuses in response to step callbacks.
type Reconciler struct {
	jobs     persistence.JobStore
	observer api.Observer
	logger   *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithObserver sets the observer notified of status changes.
func WithObserver(o api.Observer) Option {
	return func(r *Reconciler) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reconciler over jobs.
func New(jobs persistence.JobStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		jobs:     jobs,
		observer: api.NoopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnStepStart moves the job from CREATED to RUNNING. It is a no-op for a
// job that is already RUNNING, DONE or FAILED, so retried start callbacks
// are safe.
func (r *Reconciler) OnStepStart(ctx context.Context, jobID string) (bool, error) {
	return r.merge(ctx, jobID, api.JobRunning)
}

// OnStepFail moves the job to FAILED unless it already is.
func (r *Reconciler) OnStepFail(ctx context.Context, jobID string) (bool, error) {
	return r.merge(ctx, jobID, api.JobFailed)
}

// OnStepDone recomputes the job status after a step reported DONE:
//
//  1. a FAILED job is left alone;
//  2. any FAILED step fails the job;
//  3. a job with no steps is left alone;
//  4. all steps DONE moves the job to DONE, never over FAILED;
//  5. otherwise the job is at least RUNNING.
//
// A job with no row is a no-op, as it is for the other operations.
func (r *Reconciler) OnStepDone(ctx context.Context, jobID string) (bool, error) {
	job, err := r.jobs.GetJob(ctx, jobID)
	if errors.Is(err, api.ErrJobNotFound) {
		r.logger.WarnContext(ctx, "step done for unknown job", slog.String("job_id", jobID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status == api.JobFailed {
		return false, nil
	}

	counts, err := r.jobs.CountSteps(ctx, jobID)
	if err != nil {
		return false, err
	}
	signal, ok := counts.Signal()
	if !ok {
		r.logger.DebugContext(ctx, "step done before any step was recorded", slog.String("job_id", jobID))
		return false, nil
	}
	return r.merge(ctx, jobID, signal)
}

func (r *Reconciler) merge(ctx context.Context, jobID string, signal api.JobStatus) (bool, error) {
	changed, err := r.jobs.MergeJobStatus(ctx, jobID, signal)
	if err != nil {
		return false, err
	}
	if changed {
		r.observer.OnJobStatusChanged(ctx, jobID, signal)
	}
	return changed, nil
}
