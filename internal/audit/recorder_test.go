package audit

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/jobledger/internal/persistence"
	"github.com/petrijr/jobledger/pkg/api"
)

const jobID = "a1b2c3d4e5f60708a1b2c3d4e5f60708"

func TestResolvePositional(t *testing.T) {
	cases := []struct {
		name  string
		args  []string
		want  api.AuditEvent
		order Order
	}{
		{
			name:  "job id first",
			args:  []string{jobID, "alice", "STEP_START", "step1"},
			want:  api.AuditEvent{JobID: jobID, Actor: "alice", Action: api.ActionStepStart, StepID: "step1"},
			order: OrderJobFirst,
		},
		{
			name:  "actor first",
			args:  []string{"alice", "STEP_START", jobID, "step1"},
			want:  api.AuditEvent{JobID: jobID, Actor: "alice", Action: api.ActionStepStart, StepID: "step1"},
			order: OrderActorFirst,
		},
		{
			name:  "upper case hex",
			args:  []string{"A1B2C3D4E5F60708A1B2C3D4E5F60708", "bob", "STEP_DONE", ""},
			want:  api.AuditEvent{JobID: "A1B2C3D4E5F60708A1B2C3D4E5F60708", Actor: "bob", Action: api.ActionStepDone},
			order: OrderJobFirst,
		},
		{
			name:  "detail in fifth position",
			args:  []string{"glue", "STEP_FAIL", jobID, "s2", "disk full", "ignored"},
			want:  api.AuditEvent{JobID: jobID, Actor: "glue", Action: api.ActionStepFail, StepID: "s2", Detail: "disk full"},
			order: OrderActorFirst,
		},
		{
			name:  "neither position is a job id",
			args:  []string{"job-42", "alice", "STEP_START", "s1"},
			want:  api.AuditEvent{JobID: "job-42", Actor: "alice", Action: api.ActionStepStart, StepID: "s1"},
			order: OrderFallback,
		},
		{
			name:  "31 hex chars is not a job id",
			args:  []string{"alice", "STEP_START", jobID[:31], "s1"},
			want:  api.AuditEvent{JobID: "alice", Actor: "STEP_START", Action: api.Action(jobID[:31]), StepID: "s1"},
			order: OrderFallback,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, order, err := ResolvePositional(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.order, order)
		})
	}
}

func TestResolvePositional_TooFewArgs(t *testing.T) {
	_, _, err := ResolvePositional([]string{jobID, "alice", "STEP_START"})
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestRecordPositional_BothOrdersStoreSameJob(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewInMemoryStore()
	rec := New(store)

	require.NoError(t, rec.RecordPositional(ctx, jobID, "alice", "STEP_START", "step1"))
	require.NoError(t, rec.RecordPositional(ctx, "alice", "STEP_START", jobID, "step1"))

	entries, err := store.ListAudit(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, jobID, e.JobID)
		assert.Equal(t, "alice", e.Actor)
		assert.Equal(t, api.ActionStepStart, e.Action)
		assert.Equal(t, "step1", e.StepID)
	}
}

func TestRecordPositional_FallbackIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	store := persistence.NewInMemoryStore()
	rec := New(store, WithLogger(logger))

	require.NoError(t, rec.RecordPositional(context.Background(), "legacy-job", "alice", "STEP_START", "s1"))

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "job_id=legacy-job")

	entries, err := store.ListAudit(context.Background(), "legacy-job")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecord_RequiresJobAndAction(t *testing.T) {
	rec := New(persistence.NewInMemoryStore())

	err := rec.Record(context.Background(), api.AuditEvent{Actor: "alice", Action: api.ActionStepStart})
	assert.ErrorIs(t, err, api.ErrInvalidRequest)

	err = rec.Record(context.Background(), api.AuditEvent{JobID: jobID, Actor: "alice"})
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestOrderString(t *testing.T) {
	assert.Equal(t, "job_first", OrderJobFirst.String())
	assert.Equal(t, "actor_first", OrderActorFirst.String())
	assert.Equal(t, "fallback", OrderFallback.String())
	assert.Equal(t, "Order(9)", Order(9).String())
}
