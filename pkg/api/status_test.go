package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeStatus_FailedIsAbsorbing(t *testing.T) {
	for _, signal := range JobStatuses {
		assert.Equal(t, JobFailed, MergeStatus(JobFailed, signal), "signal %s", signal)
	}
}

func TestMergeStatus_IsJoin(t *testing.T) {
	for _, a := range JobStatuses {
		// idempotent
		assert.Equal(t, a, MergeStatus(a, a))
		for _, b := range JobStatuses {
			// commutative
			assert.Equal(t, MergeStatus(a, b), MergeStatus(b, a), "%s,%s", a, b)
			for _, c := range JobStatuses {
				// associative
				assert.Equal(t,
					MergeStatus(MergeStatus(a, b), c),
					MergeStatus(a, MergeStatus(b, c)),
					"%s,%s,%s", a, b, c)
			}
		}
	}
}

func TestMergeStatus_Transitions(t *testing.T) {
	assert.Equal(t, JobRunning, MergeStatus(JobCreated, JobRunning))
	assert.Equal(t, JobDone, MergeStatus(JobRunning, JobDone))
	assert.Equal(t, JobDone, MergeStatus(JobDone, JobRunning))
	assert.Equal(t, JobFailed, MergeStatus(JobDone, JobFailed))
	assert.Equal(t, JobRunning, MergeStatus(JobRunning, "bogus"))
}

func TestAdvancedBy(t *testing.T) {
	assert.Equal(t, []JobStatus{JobCreated}, AdvancedBy(JobRunning))
	assert.Equal(t, []JobStatus{JobCreated, JobRunning}, AdvancedBy(JobDone))
	assert.Equal(t, []JobStatus{JobCreated, JobRunning, JobDone}, AdvancedBy(JobFailed))
	assert.Empty(t, AdvancedBy(JobCreated))
}

func TestStepCounts_Signal(t *testing.T) {
	cases := []struct {
		name   string
		counts StepCounts
		want   JobStatus
		ok     bool
	}{
		{"no steps", StepCounts{}, "", false},
		{"any failed", StepCounts{Total: 3, Failed: 1, NotDone: 2}, JobFailed, true},
		{"all done", StepCounts{Total: 2}, JobDone, true},
		{"some pending", StepCounts{Total: 2, NotDone: 1}, JobRunning, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.counts.Signal()
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewJobID_HasJobIDShape(t *testing.T) {
	id := NewJobID()
	require.Len(t, id, 32)
	assert.True(t, IsJobID(id))
	assert.Equal(t, strings.ToLower(id), id)
	assert.NotEqual(t, id, NewJobID())
}

func TestIsJobID(t *testing.T) {
	assert.True(t, IsJobID("a1b2c3d4e5f60708a1b2c3d4e5f60708"))
	assert.True(t, IsJobID("A1B2C3D4E5F60708A1B2C3D4E5F60708"))
	assert.False(t, IsJobID("alice"))
	assert.False(t, IsJobID(""))
	assert.False(t, IsJobID("a1b2c3d4e5f60708a1b2c3d4e5f6070"))
	assert.False(t, IsJobID("g1b2c3d4e5f60708a1b2c3d4e5f60708"))
	assert.False(t, IsJobID("a1b2c3d4-e5f6-0708-a1b2-c3d4e5f6"))
}

func TestNormalizeRulesetVersion(t *testing.T) {
	assert.Equal(t, "v1", NormalizeRulesetVersion(""))
	assert.Equal(t, "v1", NormalizeRulesetVersion("   "))
	assert.Equal(t, "v2", NormalizeRulesetVersion(" v2 "))
	long := strings.Repeat("x", 40)
	assert.Equal(t, strings.Repeat("x", 32), NormalizeRulesetVersion(long))
}

func TestClampTaskListLimit(t *testing.T) {
	assert.Equal(t, 500, ClampTaskListLimit(10000))
	assert.Equal(t, 1, ClampTaskListLimit(0))
	assert.Equal(t, 1, ClampTaskListLimit(-5))
	assert.Equal(t, 42, ClampTaskListLimit(42))
}

func TestTaskStatus_Cancellable(t *testing.T) {
	assert.True(t, TaskQueued.Cancellable())
	assert.True(t, TaskRunning.Cancellable())
	assert.False(t, TaskDone.Cancellable())
	assert.False(t, TaskFailed.Cancellable())
	assert.False(t, TaskCancelled.Cancellable())
	assert.False(t, TaskStatus("paused").Valid())
}
