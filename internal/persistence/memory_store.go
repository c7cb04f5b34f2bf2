package persistence

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/petrijr/jobledger/pkg/api"
)

type stepKey struct{ jobID, stepID string }

type artifactKey struct{ jobID, artifactID string }

// InMemoryStore is a simple, goroutine-safe implementation of Store backed
// by maps. Every method holds the lock for its whole read-check-write, which
// gives it the same conditional-write semantics as the SQL backends.
type InMemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*api.Job
	steps     map[stepKey]*api.Step
	artifacts map[artifactKey]*api.Artifact
	audit     []api.AuditEntry
	tasks     map[string]*api.WorkflowTask
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs:      make(map[string]*api.Job),
		steps:     make(map[stepKey]*api.Step),
		artifacts: make(map[artifactKey]*api.Artifact),
		tasks:     make(map[string]*api.WorkflowTask),
	}
}

// Ensure InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateJob(ctx context.Context, job *api.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return api.ErrJobExists
	}
	cp := *job
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.jobs[job.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetJob(ctx context.Context, jobID string) (*api.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, api.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *InMemoryStore) MergeJobStatus(ctx context.Context, jobID string, signal api.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	next := api.MergeStatus(job.Status, signal)
	if next == job.Status {
		return false, nil
	}
	job.Status = next
	return true, nil
}

func (s *InMemoryStore) CountSteps(ctx context.Context, jobID string) (api.StepCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c api.StepCounts
	for k, st := range s.steps {
		if k.jobID != jobID {
			continue
		}
		c.Total++
		if st.Status == api.StepFailed {
			c.Failed++
		}
		if st.Status != api.StepDone {
			c.NotDone++
		}
	}
	return c, nil
}

func (s *InMemoryStore) RecordStepStart(ctx context.Context, start api.StepStart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := stepKey{start.JobID, start.StepID}
	st, ok := s.steps[k]
	if !ok {
		st = &api.Step{
			JobID:     start.JobID,
			StepID:    start.StepID,
			StartedAt: time.Now().UTC(),
		}
		s.steps[k] = st
	}
	if !st.Status.Terminal() {
		st.Status = api.StepRunning
	}
	st.InputURI = start.InputURI
	st.OutputURI = start.OutputURI
	st.RulesetVersion = api.NormalizeRulesetVersion(start.RulesetVersion)
	st.Params = slices.Clone(start.Params)
	return nil
}

func (s *InMemoryStore) MarkStepDone(ctx context.Context, jobID, stepID, outputHash string) (bool, error) {
	return s.finishStep(jobID, stepID, func(st *api.Step) {
		st.Status = api.StepDone
		st.OutputHash = outputHash
	})
}

func (s *InMemoryStore) MarkStepFailed(ctx context.Context, jobID, stepID, message string) (bool, error) {
	return s.finishStep(jobID, stepID, func(st *api.Step) {
		st.Status = api.StepFailed
		st.Error = message
	})
}

func (s *InMemoryStore) finishStep(jobID, stepID string, apply func(*api.Step)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.steps[stepKey{jobID, stepID}]
	if !ok {
		return false, nil
	}
	apply(st)
	st.EndedAt = time.Now().UTC()
	return true, nil
}

func (s *InMemoryStore) ListSteps(ctx context.Context, jobID string) ([]*api.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.Step
	for k, st := range s.steps {
		if k.jobID == jobID {
			cp := *st
			cp.Params = slices.Clone(st.Params)
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *api.Step) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.StepID, b.StepID))
	})
	return out, nil
}

func (s *InMemoryStore) RecordArtifact(ctx context.Context, a api.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := artifactKey{a.JobID, a.ArtifactID}
	if existing, ok := s.artifacts[k]; ok {
		existing.Kind = a.Kind
		existing.Path = a.Path
		existing.SHA256 = a.SHA256
		return nil
	}
	a.CreatedAt = time.Now().UTC()
	s.artifacts[k] = &a
	return nil
}

func (s *InMemoryStore) ListArtifacts(ctx context.Context, jobID string) ([]*api.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.Artifact
	for k, a := range s.artifacts {
		if k.jobID == jobID {
			cp := *a
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *api.Artifact) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ArtifactID, b.ArtifactID))
	})
	return out, nil
}

func (s *InMemoryStore) AppendAudit(ctx context.Context, e api.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = int64(len(s.audit) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *InMemoryStore) ListAudit(ctx context.Context, jobID string) ([]*api.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.AuditEntry
	for _, e := range s.audit {
		if e.JobID == jobID {
			cp := e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecordWorkflowTask(ctx context.Context, task *api.WorkflowTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *task
	cp.Result = slices.Clone(task.Result)
	s.tasks[task.TaskID] = &cp
	return nil
}

func (s *InMemoryStore) GetWorkflowTask(ctx context.Context, taskID string) (*api.WorkflowTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, api.ErrTaskNotFound
	}
	cp := *t
	cp.Result = slices.Clone(t.Result)
	return &cp, nil
}

func (s *InMemoryStore) CancelWorkflowTask(ctx context.Context, taskID string, updatedAtEpoch int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || !t.Status.Cancellable() {
		return false, nil
	}
	t.Status = api.TaskCancelled
	t.UpdatedAtEpoch = updatedAtEpoch
	return true, nil
}

func (s *InMemoryStore) ListWorkflowTasks(ctx context.Context, tenantID string, limit int) ([]*api.WorkflowTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.WorkflowTask
	for _, t := range s.tasks {
		if t.TenantID == tenantID {
			cp := *t
			cp.Result = slices.Clone(t.Result)
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *api.WorkflowTask) int {
		return cmp.Or(cmp.Compare(b.UpdatedAtEpoch, a.UpdatedAtEpoch), cmp.Compare(a.TaskID, b.TaskID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
