// Package jobs implements the job callback service: job creation, step
// start/done/fail callbacks, artifact registration and flow runs. Each
// operation persists its row, appends to the audit trail and lets the
// reconciler advance the job status.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petrijr/jobledger/internal/audit"
	"github.com/petrijr/jobledger/internal/flowclient"
	"github.com/petrijr/jobledger/internal/persistence"
	"github.com/petrijr/jobledger/internal/reconciler"
	"github.com/petrijr/jobledger/pkg/api"
)

const (
	// DefaultOwner is used for jobs created without an owner.
	DefaultOwner = "local"
	// DefaultActor is used for callbacks that do not name an actor.
	DefaultActor = "glue"
	// SystemActor is recorded for entries the service writes on its own.
	SystemActor = "base"
	// DefaultFailMessage is stored for fail callbacks without a message.
	DefaultFailMessage = "failed"
)

// FlowRunner runs flows on the external workflow engine.
type FlowRunner interface {
	RunFlow(ctx context.Context, req flowclient.RunRequest) (map[string]any, error)
	Health(ctx context.Context) (map[string]any, error)
}

// Workspace bootstraps per-job directories.
type Workspace interface {
	JobRoot(jobID string) string
	Ensure(jobID string) error
}

// CreatedJob is returned by CreateJob.
type CreatedJob struct {
	*api.Job
	JobRoot string `json:"job_root"`
}

// FlowRequest asks the service to run a flow for a job.
type FlowRequest struct {
	JobID          string
	Flow           string
	Actor          string
	RulesetVersion string
	Params         json.RawMessage
}

// Service is the job callback service.
type Service struct {
	store      persistence.Store
	reconciler *reconciler.Reconciler
	audit      *audit.Recorder
	workspace  Workspace
	flows      FlowRunner
	observer   api.Observer
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithObserver sets the observer for job, status and step events.
func WithObserver(o api.Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWorkspace sets where job directories are bootstrapped. Without one,
// no directories are created and JobRoot returns an empty string.
func WithWorkspace(w Workspace) Option {
	return func(s *Service) {
		s.workspace = w
	}
}

// WithFlowRunner sets the workflow engine client.
func WithFlowRunner(f FlowRunner) Option {
	return func(s *Service) {
		s.flows = f
	}
}

// NewService creates a Service over store.
func NewService(store persistence.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		observer: api.NoopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reconciler = reconciler.New(store,
		reconciler.WithObserver(s.observer),
		reconciler.WithLogger(s.logger),
	)
	s.audit = audit.New(store, audit.WithLogger(s.logger))
	return s
}

// Audit exposes the recorder for call sites outside the service.
func (s *Service) Audit() *audit.Recorder {
	return s.audit
}

// CreateJob creates a job in status CREATED, audits it and bootstraps its
// directories. A bootstrap failure is audited as JOB_DIRS_WARN and does not
// fail the call.
func (s *Service) CreateJob(ctx context.Context, owner string) (*CreatedJob, error) {
	owner = orDefault(owner, DefaultOwner)
	job := &api.Job{
		ID:     api.NewJobID(),
		Owner:  owner,
		Status: api.JobCreated,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, api.AuditEvent{
		JobID:  job.ID,
		Actor:  owner,
		Action: api.ActionJobCreate,
	}); err != nil {
		return nil, err
	}
	s.observer.OnJobCreated(ctx, job)
	s.ensureDirs(ctx, job.ID)

	stored, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &CreatedJob{Job: stored, JobRoot: s.JobRoot(job.ID)}, nil
}

// StartStep handles a step-start callback.
func (s *Service) StartStep(ctx context.Context, start api.StepStart, actor string) error {
	if err := requireIDs(start.JobID, "step id", start.StepID); err != nil {
		return err
	}
	params, err := persistence.EncodePayload(start.Params)
	if err != nil {
		return err
	}
	start.Params = params
	if _, err := s.reconciler.OnStepStart(ctx, start.JobID); err != nil {
		return err
	}
	if err := s.store.RecordStepStart(ctx, start); err != nil {
		return err
	}
	s.observer.OnStepRecorded(ctx, start.JobID, start.StepID, api.StepRunning, true)

	return s.audit.Record(ctx, api.AuditEvent{
		JobID:  start.JobID,
		Actor:  orDefault(actor, DefaultActor),
		Action: api.ActionStepStart,
		StepID: start.StepID,
		Detail: startDetail(start),
	})
}

// CompleteStep handles a step-done callback. detail is stored in the audit
// trail; when empty, a JSON document with the output hash is used.
func (s *Service) CompleteStep(ctx context.Context, jobID, stepID, actor, outputHash, detail string) error {
	if err := requireIDs(jobID, "step id", stepID); err != nil {
		return err
	}
	found, err := s.store.MarkStepDone(ctx, jobID, stepID, outputHash)
	if err != nil {
		return err
	}
	s.observer.OnStepRecorded(ctx, jobID, stepID, api.StepDone, found)

	if detail == "" {
		detail = jsonDetail(map[string]string{"output_hash": outputHash})
	}
	if err := s.audit.Record(ctx, api.AuditEvent{
		JobID:  jobID,
		Actor:  orDefault(actor, DefaultActor),
		Action: api.ActionStepDone,
		StepID: stepID,
		Detail: detail,
	}); err != nil {
		return err
	}
	_, err = s.reconciler.OnStepDone(ctx, jobID)
	return err
}

// FailStep handles a step-fail callback. An empty msg is stored as
// DefaultFailMessage.
func (s *Service) FailStep(ctx context.Context, jobID, stepID, actor, msg, detail string) error {
	if err := requireIDs(jobID, "step id", stepID); err != nil {
		return err
	}
	msg = orDefault(msg, DefaultFailMessage)
	found, err := s.store.MarkStepFailed(ctx, jobID, stepID, msg)
	if err != nil {
		return err
	}
	s.observer.OnStepRecorded(ctx, jobID, stepID, api.StepFailed, found)

	if detail == "" {
		detail = jsonDetail(map[string]string{"error": msg})
	}
	if err := s.audit.Record(ctx, api.AuditEvent{
		JobID:  jobID,
		Actor:  orDefault(actor, DefaultActor),
		Action: api.ActionStepFail,
		StepID: stepID,
		Detail: detail,
	}); err != nil {
		return err
	}
	_, err = s.reconciler.OnStepFail(ctx, jobID)
	return err
}

// RegisterArtifact records an artifact by path and audits it.
func (s *Service) RegisterArtifact(ctx context.Context, a api.Artifact, actor, detail string) error {
	if err := requireIDs(a.JobID, "artifact id", a.ArtifactID); err != nil {
		return err
	}
	if err := s.store.RecordArtifact(ctx, a); err != nil {
		return err
	}
	if detail == "" {
		detail = jsonDetail(a)
	}
	return s.audit.Record(ctx, api.AuditEvent{
		JobID:  a.JobID,
		Actor:  orDefault(actor, DefaultActor),
		Action: api.ActionArtifactRegister,
		Detail: detail,
	})
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*api.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

func (s *Service) ListSteps(ctx context.Context, jobID string) ([]*api.Step, error) {
	return s.store.ListSteps(ctx, jobID)
}

func (s *Service) ListArtifacts(ctx context.Context, jobID string) ([]*api.Artifact, error) {
	return s.store.ListArtifacts(ctx, jobID)
}

func (s *Service) ListAudit(ctx context.Context, jobID string) ([]*api.AuditEntry, error) {
	return s.store.ListAudit(ctx, jobID)
}

// JobRoot returns the directory of a job, or "" without a workspace.
func (s *Service) JobRoot(jobID string) string {
	if s.workspace == nil {
		return ""
	}
	return s.workspace.JobRoot(jobID)
}

// RunFlow bootstraps the job's directories and asks the workflow engine to
// run a flow. A failed call is audited as FLOW_RUN_FAIL with the flow name
// as step id and returned wrapped in api.ErrFlowRunFailed.
func (s *Service) RunFlow(ctx context.Context, req FlowRequest) (map[string]any, error) {
	if err := requireIDs(req.JobID, "flow", req.Flow); err != nil {
		return nil, err
	}
	if !api.IsJobID(req.JobID) {
		return nil, fmt.Errorf("%w: malformed job id %q", api.ErrInvalidRequest, req.JobID)
	}
	if s.flows == nil {
		return nil, fmt.Errorf("%w: no flow engine configured", api.ErrFlowRunFailed)
	}
	s.ensureDirs(ctx, req.JobID)

	resp, err := s.flows.RunFlow(ctx, flowclient.RunRequest{
		JobID:          req.JobID,
		Flow:           req.Flow,
		Actor:          orDefault(req.Actor, DefaultActor),
		RulesetVersion: api.NormalizeRulesetVersion(req.RulesetVersion),
		Params:         req.Params,
	})
	if err == nil {
		return resp, nil
	}

	s.logger.WarnContext(ctx, "flow run failed",
		slog.String("job_id", req.JobID),
		slog.String("flow", req.Flow),
		slog.Any("error", err),
	)
	if auditErr := s.audit.Record(ctx, api.AuditEvent{
		JobID:  req.JobID,
		Actor:  orDefault(req.Actor, SystemActor),
		Action: api.ActionFlowRunFail,
		StepID: req.Flow,
		Detail: err.Error(),
	}); auditErr != nil {
		return nil, errors.Join(fmt.Errorf("%w: %w", api.ErrFlowRunFailed, err), auditErr)
	}
	return nil, fmt.Errorf("%w: %w", api.ErrFlowRunFailed, err)
}

// FlowHealth probes the workflow engine. An unreachable engine is reported
// in the returned document as {"ok": false, "error": ...}, not as an error.
func (s *Service) FlowHealth(ctx context.Context) map[string]any {
	if s.flows == nil {
		return map[string]any{"ok": false, "error": "no flow engine configured"}
	}
	resp, err := s.flows.Health(ctx)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}
	}
	return resp
}

func (s *Service) ensureDirs(ctx context.Context, jobID string) {
	if s.workspace == nil {
		return
	}
	err := s.workspace.Ensure(jobID)
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "job directories not created",
		slog.String("job_id", jobID),
		slog.Any("error", err),
	)
	if auditErr := s.audit.Record(ctx, api.AuditEvent{
		JobID:  jobID,
		Actor:  SystemActor,
		Action: api.ActionJobDirsWarn,
		Detail: err.Error(),
	}); auditErr != nil {
		s.logger.ErrorContext(ctx, "audit JOB_DIRS_WARN", slog.String("job_id", jobID), slog.Any("error", auditErr))
	}
}

func requireIDs(jobID, name, value string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("%w: job id is required", api.ErrInvalidRequest)
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", api.ErrInvalidRequest, name)
	}
	return nil
}

// startDetail renders the start callback body for the audit trail.
func startDetail(start api.StepStart) string {
	body := struct {
		InputURI       string          `json:"input_uri,omitempty"`
		OutputURI      string          `json:"output_uri,omitempty"`
		RulesetVersion string          `json:"ruleset_version,omitempty"`
		Params         json.RawMessage `json:"params,omitempty"`
	}{start.InputURI, start.OutputURI, start.RulesetVersion, nil}
	if json.Valid(start.Params) {
		body.Params = start.Params
	}
	return jsonDetail(body)
}

func jsonDetail(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
