package api

// JobStatus is the aggregate lifecycle state of a job.
type JobStatus string

const (
	JobCreated JobStatus = "CREATED"
	JobRunning JobStatus = "RUNNING"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
)

// StepStatus is the state reported for a single step of a job.
type StepStatus string

const (
	StepRunning StepStatus = "RUNNING"
	StepDone    StepStatus = "DONE"
	StepFailed  StepStatus = "FAILED"
)

// TaskStatus is the state of a standalone workflow task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskDone      TaskStatus = "done"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// jobStatusRank orders job statuses for merging:
// CREATED < RUNNING < DONE < FAILED.
var jobStatusRank = map[JobStatus]int{
	JobCreated: 0,
	JobRunning: 1,
	JobDone:    2,
	JobFailed:  3,
}

// JobStatuses lists every job status in merge order.
var JobStatuses = []JobStatus{JobCreated, JobRunning, JobDone, JobFailed}

// MergeStatus joins the current job status with a signal derived from the
// job's steps. The result is the larger of the two under
// CREATED < RUNNING < DONE < FAILED, so FAILED is absorbing and a late DONE
// can never heal a failed job. Unknown statuses are ignored.
func MergeStatus(current, signal JobStatus) JobStatus {
	cr, ok := jobStatusRank[current]
	if !ok {
		return signal
	}
	sr, ok := jobStatusRank[signal]
	if !ok {
		return current
	}
	if sr > cr {
		return signal
	}
	return current
}

// AdvancedBy returns the statuses that MergeStatus would change when the
// given signal arrives. Stores use it as the predicate of a single
// conditional write:
//
//	RUNNING => status IN ('CREATED')
//	DONE    => status IN ('CREATED', 'RUNNING')
//	FAILED  => status IN ('CREATED', 'RUNNING', 'DONE')
func AdvancedBy(signal JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range JobStatuses {
		if MergeStatus(s, signal) != s {
			out = append(out, s)
		}
	}
	return out
}

// Terminal reports whether the step has reported an outcome.
func (s StepStatus) Terminal() bool {
	return s == StepDone || s == StepFailed
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskQueued, TaskRunning, TaskDone, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a task in status s may still be cancelled.
func (s TaskStatus) Cancellable() bool {
	return s == TaskQueued || s == TaskRunning
}

// CancellableTaskStatuses are the statuses a cancel request may transition from.
var CancellableTaskStatuses = []TaskStatus{TaskQueued, TaskRunning}
