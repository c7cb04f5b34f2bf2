package api

import "errors"

var (
	// ErrJobNotFound is returned when a job id has no row.
	ErrJobNotFound = errors.New("jobledger: job not found")

	// ErrJobExists is returned when a job id is already taken.
	ErrJobExists = errors.New("jobledger: job already exists")

	// ErrTaskNotFound is returned when a workflow task id has no row.
	ErrTaskNotFound = errors.New("jobledger: task not found")

	// ErrStoreUnavailable wraps every failure to reach or write the
	// persistence layer. Callbacks that see it may be retried as a whole.
	ErrStoreUnavailable = errors.New("jobledger: store unavailable")

	// ErrInvalidRequest is returned for inputs that fail validation.
	ErrInvalidRequest = errors.New("jobledger: invalid request")

	// ErrFlowRunFailed is returned when the external workflow engine
	// rejected or could not be reached for a flow run.
	ErrFlowRunFailed = errors.New("jobledger: flow run failed")
)

// Error codes reported in a Result.
const (
	CodeJobNotFound      = "job_not_found"
	CodeJobExists        = "job_exists"
	CodeTaskNotFound     = "task_not_found"
	CodeStoreUnavailable = "store_unavailable"
	CodeInvalidRequest   = "invalid_request"
	CodeFlowRunFailed    = "flow_run_failed"
	CodeInternal         = "internal_error"
)

// ErrorCode maps err onto a stable code for the boundary layer. It returns
// an empty string for a nil error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrJobNotFound):
		return CodeJobNotFound
	case errors.Is(err, ErrJobExists):
		return CodeJobExists
	case errors.Is(err, ErrTaskNotFound):
		return CodeTaskNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrFlowRunFailed):
		return CodeFlowRunFailed
	default:
		return CodeInternal
	}
}

// Retryable reports whether the caller may retry the whole operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Result is the structured outcome handed to the transport boundary, which
// maps it to its own status codes.
type Result struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// NewResult builds a Result from an operation's data and error.
func NewResult(data any, err error) Result {
	if err != nil {
		return Result{
			OK:        false,
			Error:     ErrorCode(err),
			Message:   err.Error(),
			Retryable: Retryable(err),
		}
	}
	return Result{OK: true, Data: data}
}
