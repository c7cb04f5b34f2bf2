// Package tasks manages standalone workflow tasks reported by external
// runtimes. Tasks have no relation to jobs; their status is last write
// wins except for cancellation, which only succeeds from queued or running.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/petrijr/jobledger/internal/persistence"
	"github.com/petrijr/jobledger/pkg/api"
)

// UpsertRequest carries the fields of a task report. Zero values take the
// defaults documented on Manager.Upsert.
type UpsertRequest struct {
	TaskID    string
	TenantID  string
	Operator  string
	Status    api.TaskStatus
	CreatedAt int64
	UpdatedAt int64
	// Result is stored as JSON; see persistence.EncodePayload.
	Result any
	Error  string
	Source string
}

// CancelResult reports the outcome of a cancel request.
type CancelResult struct {
	// Cancelled is false when the task was already done, failed or
	// cancelled.
	Cancelled bool              `json:"cancelled"`
	Task      *api.WorkflowTask `json:"task"`
}

// Manager applies the task lifecycle rules on top of a TaskStore.
type Manager struct {
	store    persistence.TaskStore
	observer api.Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver sets the observer notified of cancellations.
func WithObserver(o api.Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager.
func NewManager(store persistence.TaskStore, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		observer: api.NoopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upsert inserts the task or overwrites every field of the existing one.
//
// Defaults: operator api.DefaultTaskOperator, status queued, source
// api.DefaultTaskSource, tenant api.DefaultTenant. When only one of
// CreatedAt and UpdatedAt is positive it fills the other; when neither is,
// both are the current time in epoch seconds.
func (m *Manager) Upsert(ctx context.Context, req UpsertRequest) (*api.WorkflowTask, error) {
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		return nil, fmt.Errorf("%w: task_id required", api.ErrInvalidRequest)
	}

	status := api.TaskStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if status == "" {
		status = api.TaskQueued
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown task status %q", api.ErrInvalidRequest, req.Status)
	}

	result, err := persistence.EncodePayload(req.Result)
	if err != nil {
		return nil, err
	}

	createdAt, updatedAt := req.CreatedAt, req.UpdatedAt
	if createdAt <= 0 {
		createdAt = updatedAt
		if createdAt <= 0 {
			createdAt = m.now().Unix()
		}
	}
	if updatedAt <= 0 {
		updatedAt = createdAt
	}

	task := &api.WorkflowTask{
		TaskID:         taskID,
		TenantID:       orDefault(req.TenantID, api.DefaultTenant),
		Operator:       orDefault(req.Operator, api.DefaultTaskOperator),
		Status:         status,
		CreatedAtEpoch: createdAt,
		UpdatedAtEpoch: updatedAt,
		Result:         result,
		Error:          req.Error,
		Source:         orDefault(req.Source, api.DefaultTaskSource),
	}
	if err := m.store.RecordWorkflowTask(ctx, task); err != nil {
		return nil, err
	}
	m.logger.DebugContext(ctx, "task_upsert",
		slog.String("task_id", task.TaskID),
		slog.String("tenant_id", task.TenantID),
		slog.String("status", string(task.Status)),
	)
	return task, nil
}

// Cancel moves a queued or running task to cancelled. The returned task is
// the stored row after the attempt. A missing task is ErrTaskNotFound.
func (m *Manager) Cancel(ctx context.Context, taskID string) (CancelResult, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return CancelResult{}, fmt.Errorf("%w: task_id required", api.ErrInvalidRequest)
	}

	changed, err := m.store.CancelWorkflowTask(ctx, taskID, m.now().Unix())
	if err != nil {
		return CancelResult{}, err
	}
	task, err := m.store.GetWorkflowTask(ctx, taskID)
	if err != nil {
		return CancelResult{}, err
	}
	m.observer.OnTaskCancelled(ctx, taskID, changed)
	return CancelResult{Cancelled: changed, Task: task}, nil
}

// Get returns the task or ErrTaskNotFound.
func (m *Manager) Get(ctx context.Context, taskID string) (*api.WorkflowTask, error) {
	return m.store.GetWorkflowTask(ctx, strings.TrimSpace(taskID))
}

// ListByTenant returns the tenant's most recently updated tasks. An empty
// tenant means api.DefaultTenant and limit is clamped into [1, 500].
func (m *Manager) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*api.WorkflowTask, error) {
	return m.store.ListWorkflowTasks(ctx, orDefault(tenantID, api.DefaultTenant), api.ClampTaskListLimit(limit))
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
