package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the ledger for logging and metrics.
//
// Implementations should be fast and non-blocking; callbacks run on the
// request path of the worker that reported the event.
type Observer interface {
	// OnJobCreated is called once after a job row has been written.
	OnJobCreated(ctx context.Context, job *Job)

	// OnJobStatusChanged is called when a conditional status write actually
	// changed the stored job status. to is the signal that was merged in.
	OnJobStatusChanged(ctx context.Context, jobID string, to JobStatus)

	// OnStepRecorded is called after a step callback was persisted.
	// found is false when the callback referred to a step with no row.
	OnStepRecorded(ctx context.Context, jobID, stepID string, status StepStatus, found bool)

	// OnTaskCancelled is called after a cancel request; cancelled reports
	// whether the task actually changed state.
	OnTaskCancelled(ctx context.Context, taskID string, cancelled bool)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnJobCreated(ctx context.Context, job *Job)                         {}
func (NoopObserver) OnJobStatusChanged(ctx context.Context, jobID string, to JobStatus) {}
func (NoopObserver) OnTaskCancelled(ctx context.Context, taskID string, cancelled bool) {}
func (NoopObserver) OnStepRecorded(ctx context.Context, jobID, stepID string, status StepStatus, found bool) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnJobCreated(ctx context.Context, job *Job) {
	for _, o := range c.observers {
		o.OnJobCreated(ctx, job)
	}
}

func (c *CompositeObserver) OnJobStatusChanged(ctx context.Context, jobID string, to JobStatus) {
	for _, o := range c.observers {
		o.OnJobStatusChanged(ctx, jobID, to)
	}
}

func (c *CompositeObserver) OnStepRecorded(ctx context.Context, jobID, stepID string, status StepStatus, found bool) {
	for _, o := range c.observers {
		o.OnStepRecorded(ctx, jobID, stepID, status, found)
	}
}

func (c *CompositeObserver) OnTaskCancelled(ctx context.Context, taskID string, cancelled bool) {
	for _, o := range c.observers {
		o.OnTaskCancelled(ctx, taskID, cancelled)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs job / step / task
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnJobCreated(ctx context.Context, job *Job) {
	o.Logger.InfoContext(ctx, "job_created",
		slog.String("job_id", job.ID),
		slog.String("owner", job.Owner),
	)
}

func (o *LoggingObserver) OnJobStatusChanged(ctx context.Context, jobID string, to JobStatus) {
	level := slog.LevelInfo
	if to == JobFailed {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "job_status_changed",
		slog.String("job_id", jobID),
		slog.String("status", string(to)),
	)
}

func (o *LoggingObserver) OnStepRecorded(ctx context.Context, jobID, stepID string, status StepStatus, found bool) {
	level := slog.LevelDebug
	if !found {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "step_recorded",
		slog.String("job_id", jobID),
		slog.String("step_id", stepID),
		slog.String("status", string(status)),
		slog.Bool("found", found),
	)
}

func (o *LoggingObserver) OnTaskCancelled(ctx context.Context, taskID string, cancelled bool) {
	o.Logger.InfoContext(ctx, "task_cancel",
		slog.String("task_id", taskID),
		slog.Bool("cancelled", cancelled),
	)
}

// BasicMetrics collects simple counters. It implements Observer, and can be
// combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	jobsCreated    atomic.Int64
	jobsRunning    atomic.Int64
	jobsDone       atomic.Int64
	jobsFailed     atomic.Int64
	stepsStarted   atomic.Int64
	stepsDone      atomic.Int64
	stepsFailed    atomic.Int64
	stepsOrphaned  atomic.Int64
	tasksCancelled atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	JobsCreated int64
	JobsRunning int64
	JobsDone    int64
	JobsFailed  int64

	StepsStarted  int64
	StepsDone     int64
	StepsFailed   int64
	StepsOrphaned int64

	TasksCancelled int64
}

func (m *BasicMetrics) OnJobCreated(ctx context.Context, job *Job) {
	m.jobsCreated.Add(1)
}

func (m *BasicMetrics) OnJobStatusChanged(ctx context.Context, jobID string, to JobStatus) {
	switch to {
	case JobRunning:
		m.jobsRunning.Add(1)
	case JobDone:
		m.jobsDone.Add(1)
	case JobFailed:
		m.jobsFailed.Add(1)
	}
}

func (m *BasicMetrics) OnStepRecorded(ctx context.Context, jobID, stepID string, status StepStatus, found bool) {
	if !found {
		m.stepsOrphaned.Add(1)
		return
	}
	switch status {
	case StepRunning:
		m.stepsStarted.Add(1)
	case StepDone:
		m.stepsDone.Add(1)
	case StepFailed:
		m.stepsFailed.Add(1)
	}
}

func (m *BasicMetrics) OnTaskCancelled(ctx context.Context, taskID string, cancelled bool) {
	if cancelled {
		m.tasksCancelled.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		JobsCreated:    m.jobsCreated.Load(),
		JobsRunning:    m.jobsRunning.Load(),
		JobsDone:       m.jobsDone.Load(),
		JobsFailed:     m.jobsFailed.Load(),
		StepsStarted:   m.stepsStarted.Load(),
		StepsDone:      m.stepsDone.Load(),
		StepsFailed:    m.stepsFailed.Load(),
		StepsOrphaned:  m.stepsOrphaned.Load(),
		TasksCancelled: m.tasksCancelled.Load(),
	}
}
