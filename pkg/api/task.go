package api

import "encoding/json"

const (
	// DefaultTaskOperator is recorded when a task upsert names no operator.
	DefaultTaskOperator = "transform_rows_v2"
	// DefaultTaskSource is recorded when a task upsert names no source.
	DefaultTaskSource = "accel-rust"
	// DefaultTenant is used when no tenant is supplied.
	DefaultTenant = "default"

	MinTaskListLimit     = 1
	MaxTaskListLimit     = 500
	DefaultTaskListLimit = 100
)

// WorkflowTask is a standalone trackable unit reported by an external
// runtime. It has no relation to jobs or steps.
type WorkflowTask struct {
	TaskID         string          `json:"task_id"`
	TenantID       string          `json:"tenant_id"`
	Operator       string          `json:"operator"`
	Status         TaskStatus      `json:"status"`
	CreatedAtEpoch int64           `json:"created_at"`
	UpdatedAtEpoch int64           `json:"updated_at"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	Source         string          `json:"source"`
}

// ClampTaskListLimit bounds a list limit into [1, 500].
func ClampTaskListLimit(n int) int {
	return max(MinTaskListLimit, min(MaxTaskListLimit, n))
}
