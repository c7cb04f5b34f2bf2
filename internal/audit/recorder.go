// Package audit appends entries to the job audit trail.
//
// Call sites in this module use the typed Record entry point. The
// positional entry point exists for untyped callers that still pass plain
// strings in either of the two historical argument orders:
//
//	(jobID, actor, action, stepID[, detail])
//	(actor, action, jobID, stepID[, detail])
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/jobledger/internal/persistence"
	"github.com/petrijr/jobledger/pkg/api"
)

// Order names the argument order a positional call was resolved as.
type Order int

const (
	// OrderJobFirst is (jobID, actor, action, stepID[, detail]).
	OrderJobFirst Order = iota
	// OrderActorFirst is (actor, action, jobID, stepID[, detail]).
	OrderActorFirst
	// OrderFallback means neither candidate position held a job id and the
	// call was read as OrderJobFirst.
	OrderFallback
)

func (o Order) String() string {
	switch o {
	case OrderJobFirst:
		return "job_first"
	case OrderActorFirst:
		return "actor_first"
	case OrderFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// Recorder writes audit entries through an AuditStore.
type Recorder struct {
	store  persistence.AuditStore
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets a custom logger for the recorder.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Recorder.
func New(store persistence.AuditStore, opts ...Option) *Recorder {
	r := &Recorder{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry for e. JobID and Action are required.
func (r *Recorder) Record(ctx context.Context, e api.AuditEvent) error {
	if e.JobID == "" || e.Action == "" {
		return fmt.Errorf("%w: audit event needs a job id and an action", api.ErrInvalidRequest)
	}
	return r.store.AppendAudit(ctx, api.AuditEntry{
		JobID:  e.JobID,
		Actor:  e.Actor,
		Action: e.Action,
		StepID: e.StepID,
		Detail: e.Detail,
	})
}

// RecordPositional resolves args with ResolvePositional and records the
// result. A fallback resolution is recorded as well but logged, since the
// entry may be attributed to the wrong job.
func (r *Recorder) RecordPositional(ctx context.Context, args ...string) error {
	e, order, err := ResolvePositional(args)
	if err != nil {
		return err
	}
	if order == OrderFallback {
		r.logger.WarnContext(ctx, "audit call has no job id at position 0 or 2; assuming position 0",
			slog.String("job_id", e.JobID),
			slog.String("action", string(e.Action)),
		)
	}
	return r.Record(ctx, e)
}

// ResolvePositional decides which argument holds the job id. Position 0 is
// checked first, then position 2, using api.IsJobID; when neither matches,
// position 0 is assumed. At least four arguments are required; a fifth is
// the detail and anything after it is ignored.
func ResolvePositional(args []string) (api.AuditEvent, Order, error) {
	if len(args) < 4 {
		return api.AuditEvent{}, 0, fmt.Errorf("%w: positional audit call needs at least 4 arguments, got %d",
			api.ErrInvalidRequest, len(args))
	}

	var detail string
	if len(args) > 4 {
		detail = args[4]
	}

	switch {
	case api.IsJobID(args[0]):
		return jobFirst(args, detail), OrderJobFirst, nil
	case api.IsJobID(args[2]):
		return api.AuditEvent{
			Actor:  args[0],
			Action: api.Action(args[1]),
			JobID:  args[2],
			StepID: args[3],
			Detail: detail,
		}, OrderActorFirst, nil
	default:
		return jobFirst(args, detail), OrderFallback, nil
	}
}

func jobFirst(args []string, detail string) api.AuditEvent {
	return api.AuditEvent{
		JobID:  args[0],
		Actor:  args[1],
		Action: api.Action(args[2]),
		StepID: args[3],
		Detail: detail,
	}
}
