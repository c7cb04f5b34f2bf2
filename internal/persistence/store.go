package persistence

import (
	"context"
	"errors"

	"github.com/petrijr/jobledger/pkg/api"
)

// ErrConflictOnInsert is returned by the insert half of an upsert when a
// concurrent caller created the row first. It never leaves this package:
// absorbConflict replays the write against the row that won.
var ErrConflictOnInsert = errors.New("jobledger: conflict on insert")

// JobStore handles storage of jobs and the step snapshot used to
// reconcile their status.
type JobStore interface {
	CreateJob(ctx context.Context, job *api.Job) error
	GetJob(ctx context.Context, jobID string) (*api.Job, error)
	// MergeJobStatus folds signal into the stored status with a single
	// conditional write whose predicate is api.AdvancedBy(signal). It
	// reports whether the stored status changed. A missing job is not an
	// error; nothing changes.
	MergeJobStatus(ctx context.Context, jobID string, signal api.JobStatus) (changed bool, err error)
	// CountSteps reads the job's step statuses in one snapshot.
	CountSteps(ctx context.Context, jobID string) (api.StepCounts, error)
}

// StepStore handles storage of step callbacks.
type StepStore interface {
	// RecordStepStart creates the step on first start and refreshes its
	// inputs on retries. started_at is written only while it is unset, and
	// a step that already reported DONE or FAILED keeps that status.
	RecordStepStart(ctx context.Context, start api.StepStart) error
	// MarkStepDone and MarkStepFailed report found=false when the step has
	// no row yet.
	MarkStepDone(ctx context.Context, jobID, stepID, outputHash string) (found bool, err error)
	MarkStepFailed(ctx context.Context, jobID, stepID, message string) (found bool, err error)
	ListSteps(ctx context.Context, jobID string) ([]*api.Step, error)
}

// ArtifactStore handles storage of registered job artifacts.
type ArtifactStore interface {
	// RecordArtifact inserts or refreshes an artifact; created_at is set
	// on first insert only.
	RecordArtifact(ctx context.Context, a api.Artifact) error
	ListArtifacts(ctx context.Context, jobID string) ([]*api.Artifact, error)
}

// AuditStore is an append-only history of state-changing actions.
type AuditStore interface {
	AppendAudit(ctx context.Context, e api.AuditEntry) error
	ListAudit(ctx context.Context, jobID string) ([]*api.AuditEntry, error)
}

// TaskStore handles storage of standalone workflow tasks.
type TaskStore interface {
	// RecordWorkflowTask inserts the task or overwrites every field of the
	// existing row (last write wins).
	RecordWorkflowTask(ctx context.Context, task *api.WorkflowTask) error
	GetWorkflowTask(ctx context.Context, taskID string) (*api.WorkflowTask, error)
	// CancelWorkflowTask moves a queued or running task to cancelled and
	// reports whether it did.
	CancelWorkflowTask(ctx context.Context, taskID string, updatedAtEpoch int64) (changed bool, err error)
	// ListWorkflowTasks returns a tenant's tasks, most recently updated
	// first. Callers clamp limit.
	ListWorkflowTasks(ctx context.Context, tenantID string, limit int) ([]*api.WorkflowTask, error)
}

// Store is implemented by every backend. Backends never close the
// connection they were built on; the caller owns its lifecycle.
type Store interface {
	JobStore
	StepStore
	ArtifactStore
	AuditStore
	TaskStore
}
