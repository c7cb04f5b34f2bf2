package api

import "time"

// Action tags a state-changing operation in the audit trail.
type Action string

const (
	ActionJobCreate        Action = "JOB_CREATE"
	ActionJobDirsWarn      Action = "JOB_DIRS_WARN"
	ActionStepStart        Action = "STEP_START"
	ActionStepDone         Action = "STEP_DONE"
	ActionStepFail         Action = "STEP_FAIL"
	ActionArtifactRegister Action = "ARTIFACT_REGISTER"
	ActionFlowRunFail      Action = "FLOW_RUN_FAIL"
)

// AuditEvent is what a call site hands to the audit recorder.
// StepID is optional; Detail is a small human-oriented note or a JSON
// document of the callback body. Keep it low-volume.
type AuditEvent struct {
	JobID  string
	Actor  string
	Action Action
	StepID string
	Detail string
}

// AuditEntry is an immutable, append-only audit trail record.
type AuditEntry struct {
	ID        int64     `json:"id,omitempty"`
	JobID     string    `json:"job_id"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	StepID    string    `json:"step_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
