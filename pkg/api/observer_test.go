package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// testObserver is a simple Observer implementation used to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	created     int
	transitions []JobStatus
	steps       int
	cancels     int
}

func (o *testObserver) OnJobCreated(ctx context.Context, job *Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
}

func (o *testObserver) OnJobStatusChanged(ctx context.Context, jobID string, to JobStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, to)
}

func (o *testObserver) OnStepRecorded(ctx context.Context, jobID, stepID string, status StepStatus, found bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps++
}

func (o *testObserver) OnTaskCancelled(ctx context.Context, taskID string, cancelled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels++
}

func TestNewCompositeObserver_FiltersNil(t *testing.T) {
	assert.Equal(t, NoopObserver{}, NewCompositeObserver())
	assert.Equal(t, NoopObserver{}, NewCompositeObserver(nil, nil))

	single := &testObserver{}
	assert.Same(t, single, NewCompositeObserver(nil, single))
}

func TestCompositeObserver_FansOut(t *testing.T) {
	a, b := &testObserver{}, &testObserver{}
	obs := NewCompositeObserver(a, b)
	ctx := context.Background()

	obs.OnJobCreated(ctx, &Job{ID: "j"})
	obs.OnJobStatusChanged(ctx, "j", JobRunning)
	obs.OnStepRecorded(ctx, "j", "s", StepRunning, true)
	obs.OnTaskCancelled(ctx, "t", true)

	for _, o := range []*testObserver{a, b} {
		assert.Equal(t, 1, o.created)
		assert.Equal(t, []JobStatus{JobRunning}, o.transitions)
		assert.Equal(t, 1, o.steps)
		assert.Equal(t, 1, o.cancels)
	}
}

func TestLoggingObserver_WritesEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)
	ctx := context.Background()

	obs.OnJobCreated(ctx, &Job{ID: "job-1", Owner: "alice"})
	obs.OnJobStatusChanged(ctx, "job-1", JobFailed)
	obs.OnStepRecorded(ctx, "job-1", "step-1", StepDone, false)

	out := buf.String()
	assert.Contains(t, out, "job_created")
	assert.Contains(t, out, "owner=alice")
	assert.Contains(t, out, "level=WARN msg=job_status_changed")
	assert.Contains(t, out, "found=false")
}

func TestBasicMetrics_Snapshot(t *testing.T) {
	m := &BasicMetrics{}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			m.OnJobCreated(ctx, &Job{ID: id})
			m.OnStepRecorded(ctx, id, "s", StepRunning, true)
			m.OnStepRecorded(ctx, id, "s", StepDone, true)
			m.OnJobStatusChanged(ctx, id, JobDone)
		}(i)
	}
	wg.Wait()

	m.OnStepRecorded(ctx, "ghost", "s", StepDone, false)
	m.OnTaskCancelled(ctx, "t1", true)
	m.OnTaskCancelled(ctx, "t2", false)

	snap := m.Snapshot()
	assert.Equal(t, int64(10), snap.JobsCreated)
	assert.Equal(t, int64(10), snap.JobsDone)
	assert.Equal(t, int64(10), snap.StepsStarted)
	assert.Equal(t, int64(10), snap.StepsDone)
	assert.Equal(t, int64(1), snap.StepsOrphaned)
	assert.Equal(t, int64(1), snap.TasksCancelled)
}

func TestNewResult(t *testing.T) {
	ok := NewResult(map[string]string{"job_id": "x"}, nil)
	assert.True(t, ok.OK)
	assert.Empty(t, ok.Error)

	wrapped := fmt.Errorf("jobledger/sqlite: get job: %w", ErrJobNotFound)
	nf := NewResult(nil, wrapped)
	assert.False(t, nf.OK)
	assert.Equal(t, CodeJobNotFound, nf.Error)
	assert.False(t, nf.Retryable)

	unavailable := fmt.Errorf("jobledger/redis: merge: %w: %w", ErrStoreUnavailable, errors.New("dial tcp: refused"))
	assert.Equal(t, CodeStoreUnavailable, ErrorCode(unavailable))
	assert.True(t, Retryable(unavailable))
	assert.True(t, NewResult(nil, unavailable).Retryable)
	assert.False(t, Retryable(wrapped))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))
}
