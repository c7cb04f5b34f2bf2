package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/jobledger/internal/flowclient"
	"github.com/petrijr/jobledger/internal/persistence"
	"github.com/petrijr/jobledger/internal/workspace"
	"github.com/petrijr/jobledger/pkg/api"
)

type fakeFlows struct {
	calls  []flowclient.RunRequest
	err    error
	health map[string]any
}

func (f *fakeFlows) RunFlow(ctx context.Context, req flowclient.RunRequest) (map[string]any, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"ok": true, "flow": req.Flow}, nil
}

func (f *fakeFlows) Health(ctx context.Context) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.health, nil
}

type harness struct {
	svc     *Service
	store   *persistence.InMemoryStore
	fs      afero.Fs
	flows   *fakeFlows
	metrics *api.BasicMetrics
}

func newHarness(t *testing.T, fs afero.Fs) *harness {
	t.Helper()
	h := &harness{
		store:   persistence.NewInMemoryStore(),
		fs:      fs,
		flows:   &fakeFlows{health: map[string]any{"ok": true}},
		metrics: &api.BasicMetrics{},
	}
	h.svc = NewService(h.store,
		WithWorkspace(workspace.New(fs, "/bus")),
		WithFlowRunner(h.flows),
		WithObserver(h.metrics),
	)
	return h
}

func actions(t *testing.T, h *harness, jobID string) []api.Action {
	t.Helper()
	entries, err := h.svc.ListAudit(context.Background(), jobID)
	require.NoError(t, err)
	out := make([]api.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestCreateJob(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()

	created, err := h.svc.CreateJob(ctx, "")
	require.NoError(t, err)

	assert.True(t, api.IsJobID(created.ID))
	assert.Equal(t, DefaultOwner, created.Owner)
	assert.Equal(t, api.JobCreated, created.Status)
	assert.Equal(t, filepath.Join("/bus", "jobs", created.ID), created.JobRoot)

	ok, err := afero.DirExists(h.fs, filepath.Join(created.JobRoot, "artifacts"))
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := h.svc.ListAudit(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, api.ActionJobCreate, entries[0].Action)
	assert.Equal(t, DefaultOwner, entries[0].Actor)
	assert.Equal(t, int64(1), h.metrics.Snapshot().JobsCreated)
}

func TestCreateJob_DirectoryFailureIsAWarning(t *testing.T) {
	h := newHarness(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))
	ctx := context.Background()

	created, err := h.svc.CreateJob(ctx, "alice")
	require.NoError(t, err)

	entries, err := h.svc.ListAudit(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, api.ActionJobDirsWarn, entries[1].Action)
	assert.Equal(t, SystemActor, entries[1].Actor)
	assert.NotEmpty(t, entries[1].Detail)
}

func TestStepLifecycle_DrivesJobStatus(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()

	created, err := h.svc.CreateJob(ctx, "alice")
	require.NoError(t, err)
	id := created.ID

	require.NoError(t, h.svc.StartStep(ctx, api.StepStart{
		JobID:  id,
		StepID: "extract",
		Params: json.RawMessage(`{"sheet":"A"}`),
	}, ""))
	require.NoError(t, h.svc.StartStep(ctx, api.StepStart{JobID: id, StepID: "clean"}, "worker"))

	job, err := h.svc.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.JobRunning, job.Status)

	require.NoError(t, h.svc.CompleteStep(ctx, id, "extract", "", "sha:1", ""))
	job, _ = h.svc.GetJob(ctx, id)
	assert.Equal(t, api.JobRunning, job.Status)

	require.NoError(t, h.svc.CompleteStep(ctx, id, "clean", "", "sha:2", ""))
	job, _ = h.svc.GetJob(ctx, id)
	assert.Equal(t, api.JobDone, job.Status)

	assert.Equal(t, []api.Action{
		api.ActionJobCreate,
		api.ActionStepStart,
		api.ActionStepStart,
		api.ActionStepDone,
		api.ActionStepDone,
	}, actions(t, h, id))

	entries, _ := h.svc.ListAudit(ctx, id)
	assert.Equal(t, DefaultActor, entries[1].Actor)
	assert.Equal(t, "worker", entries[2].Actor)
	assert.JSONEq(t, `{"params":{"sheet":"A"}}`, entries[1].Detail)
	assert.JSONEq(t, `{"output_hash":"sha:1"}`, entries[3].Detail)

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.StepsStarted)
	assert.Equal(t, int64(2), snap.StepsDone)
	assert.Equal(t, int64(1), snap.JobsRunning)
	assert.Equal(t, int64(1), snap.JobsDone)
}

func TestFailStep_FailsJobAndIsAbsorbing(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()

	created, err := h.svc.CreateJob(ctx, "alice")
	require.NoError(t, err)
	id := created.ID

	require.NoError(t, h.svc.StartStep(ctx, api.StepStart{JobID: id, StepID: "a"}, ""))
	require.NoError(t, h.svc.StartStep(ctx, api.StepStart{JobID: id, StepID: "b"}, ""))
	require.NoError(t, h.svc.FailStep(ctx, id, "a", "", "", ""))
	require.NoError(t, h.svc.CompleteStep(ctx, id, "b", "", "", ""))

	job, err := h.svc.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, api.JobFailed, job.Status)

	steps, err := h.svc.ListSteps(ctx, id)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, api.StepFailed, steps[0].Status)
	assert.Equal(t, DefaultFailMessage, steps[0].Error)

	entries, _ := h.svc.ListAudit(ctx, id)
	assert.JSONEq(t, `{"error":"failed"}`, entries[3].Detail)
}

func TestCompleteStep_UnknownStepIsCountedAsOrphan(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()

	created, err := h.svc.CreateJob(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, h.svc.CompleteStep(ctx, created.ID, "ghost", "", "", ""))

	job, _ := h.svc.GetJob(ctx, created.ID)
	assert.Equal(t, api.JobCreated, job.Status)
	assert.Equal(t, int64(1), h.metrics.Snapshot().StepsOrphaned)
}

func TestCallbacks_RejectMissingIDs(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()

	assert.ErrorIs(t, h.svc.StartStep(ctx, api.StepStart{JobID: "j"}, ""), api.ErrInvalidRequest)
	assert.ErrorIs(t, h.svc.CompleteStep(ctx, "", "s", "", "", ""), api.ErrInvalidRequest)
	assert.ErrorIs(t, h.svc.FailStep(ctx, " ", "s", "", "", ""), api.ErrInvalidRequest)
	assert.ErrorIs(t, h.svc.RegisterArtifact(ctx, api.Artifact{JobID: "j"}, "", ""), api.ErrInvalidRequest)
	_, err := h.svc.RunFlow(ctx, FlowRequest{JobID: "j"})
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestRegisterArtifact(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()

	created, err := h.svc.CreateJob(ctx, "alice")
	require.NoError(t, err)

	a := api.Artifact{JobID: created.ID, ArtifactID: "report", Kind: "xlsx", Path: "/bus/out.xlsx"}
	require.NoError(t, h.svc.RegisterArtifact(ctx, a, "", ""))
	a.SHA256 = "abc"
	require.NoError(t, h.svc.RegisterArtifact(ctx, a, "", ""))

	list, err := h.svc.ListArtifacts(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "abc", list[0].SHA256)

	entries, _ := h.svc.ListAudit(ctx, created.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, api.ActionArtifactRegister, entries[2].Action)
	assert.Empty(t, entries[2].StepID)
}

func TestRunFlow_Success(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()
	id := api.NewJobID()

	resp, err := h.svc.RunFlow(ctx, FlowRequest{JobID: id, Flow: "cleaning"})
	require.NoError(t, err)
	assert.Equal(t, "cleaning", resp["flow"])

	require.Len(t, h.flows.calls, 1)
	assert.Equal(t, DefaultActor, h.flows.calls[0].Actor)
	assert.Equal(t, api.DefaultRulesetVersion, h.flows.calls[0].RulesetVersion)

	ok, err := afero.DirExists(h.fs, filepath.Join("/bus", "jobs", id, "stage"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, actions(t, h, id))
}

func TestRunFlow_FailureIsAudited(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	h.flows.err = errors.New("connection refused")
	ctx := context.Background()
	id := api.NewJobID()

	_, err := h.svc.RunFlow(ctx, FlowRequest{JobID: id, Flow: "cleaning"})
	require.ErrorIs(t, err, api.ErrFlowRunFailed)
	assert.Contains(t, err.Error(), "connection refused")

	entries, err := h.svc.ListAudit(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, api.ActionFlowRunFail, entries[0].Action)
	assert.Equal(t, SystemActor, entries[0].Actor)
	assert.Equal(t, "cleaning", entries[0].StepID)
	assert.Equal(t, "connection refused", entries[0].Detail)
}

func TestRunFlow_RejectsMalformedJobID(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()

	for _, id := range []string{"../../etc/evil", "abc", api.NewJobID() + "/x"} {
		_, err := h.svc.RunFlow(ctx, FlowRequest{JobID: id, Flow: "cleaning"})
		assert.ErrorIs(t, err, api.ErrInvalidRequest, id)
	}
	assert.Empty(t, h.flows.calls)

	ok, err := afero.DirExists(h.fs, "/etc/evil")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartStep_RejectsMalformedParams(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()

	created, err := h.svc.CreateJob(ctx, "alice")
	require.NoError(t, err)

	err = h.svc.StartStep(ctx, api.StepStart{
		JobID:  created.ID,
		StepID: "clean",
		Params: json.RawMessage(`{bad`),
	}, "")
	require.ErrorIs(t, err, api.ErrInvalidRequest)

	steps, err := h.svc.ListSteps(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	job, err := h.svc.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, api.JobCreated, job.Status)

	_, err = json.Marshal(api.NewResult(steps, nil))
	assert.NoError(t, err)
}

func TestRunFlow_WithoutEngine(t *testing.T) {
	svc := NewService(persistence.NewInMemoryStore())

	_, err := svc.RunFlow(context.Background(), FlowRequest{JobID: api.NewJobID(), Flow: "f"})
	assert.ErrorIs(t, err, api.ErrFlowRunFailed)
	assert.Equal(t, false, svc.FlowHealth(context.Background())["ok"])
	assert.Empty(t, svc.JobRoot("j"))
}

func TestFlowHealth(t *testing.T) {
	h := newHarness(t, afero.NewMemMapFs())
	ctx := context.Background()

	assert.Equal(t, true, h.svc.FlowHealth(ctx)["ok"])

	h.flows.err = errors.New("down")
	health := h.svc.FlowHealth(ctx)
	assert.Equal(t, false, health["ok"])
	assert.Equal(t, "down", health["error"])
}
