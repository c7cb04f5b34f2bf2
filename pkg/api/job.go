package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRulesetVersion is used when a step start does not name a ruleset.
const DefaultRulesetVersion = "v1"

// maxRulesetVersionLen bounds the stored ruleset version.
const maxRulesetVersionLen = 32

// Job is a unit of work composed of one or more externally executed steps.
type Job struct {
	ID        string    `json:"job_id"`
	Owner     string    `json:"owner"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Step is an individually reported sub-unit of a job's work.
//
// StartedAt is set by the first start callback and never changes afterwards.
// EndedAt is zero until the step reports DONE or FAILED.
type Step struct {
	JobID          string          `json:"job_id"`
	StepID         string          `json:"step_id"`
	Status         StepStatus      `json:"status"`
	InputURI       string          `json:"input_uri"`
	OutputURI      string          `json:"output_uri"`
	RulesetVersion string          `json:"ruleset_version"`
	Params         json.RawMessage `json:"params,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at,omitzero"`
	OutputHash     string          `json:"output_hash,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// StepStart carries the fields of a step-start callback.
type StepStart struct {
	JobID          string
	StepID         string
	InputURI       string
	OutputURI      string
	RulesetVersion string
	Params         json.RawMessage
}

// StepCounts is a snapshot of a job's steps used for status recomputation.
type StepCounts struct {
	Total   int64
	Failed  int64
	NotDone int64
}

// Signal derives the job status implied by the step snapshot. The second
// return value is false when there are no steps, in which case nothing can
// be concluded.
func (c StepCounts) Signal() (JobStatus, bool) {
	switch {
	case c.Failed > 0:
		return JobFailed, true
	case c.Total == 0:
		return "", false
	case c.NotDone == 0:
		return JobDone, true
	default:
		return JobRunning, true
	}
}

// Artifact is a file produced by a job and registered by path.
type Artifact struct {
	JobID      string    `json:"job_id"`
	ArtifactID string    `json:"artifact_id"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	SHA256     string    `json:"sha256,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewJobID returns a fresh job identifier: 32 lowercase hex characters.
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsJobID reports whether s has the shape of a job identifier: exactly 32
// characters, every one a hexadecimal digit in either case.
func IsJobID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// NormalizeRulesetVersion trims v, substitutes DefaultRulesetVersion when it
// is empty and truncates it to 32 characters.
func NormalizeRulesetVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRulesetVersion
	}
	if r := []rune(v); len(r) > maxRulesetVersionLen {
		v = string(r[:maxRulesetVersionLen])
	}
	return v
}
