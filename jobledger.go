package jobledger

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/jobledger/internal/config"
	"github.com/petrijr/jobledger/internal/jobs"
	"github.com/petrijr/jobledger/internal/persistence"
	"github.com/petrijr/jobledger/internal/tasks"
	"github.com/petrijr/jobledger/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Job                  = api.Job
	JobStatus            = api.JobStatus
	Step                 = api.Step
	StepStatus           = api.StepStatus
	StepStart            = api.StepStart
	Artifact             = api.Artifact
	AuditEvent           = api.AuditEvent
	AuditEntry           = api.AuditEntry
	Action               = api.Action
	WorkflowTask         = api.WorkflowTask
	TaskStatus           = api.TaskStatus
	Result               = api.Result
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Store         = persistence.Store
	Config        = config.Config
	ConfigOptions = config.Options
	FlowRequest   = jobs.FlowRequest
	CreatedJob    = jobs.CreatedJob
	TaskUpsert    = tasks.UpsertRequest
	CancelResult  = tasks.CancelResult
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewResult            = api.NewResult
	LoadConfig           = config.Load
)

// Re-export status values for convenience.

const (
	JobCreated = api.JobCreated
	JobRunning = api.JobRunning
	JobDone    = api.JobDone
	JobFailed  = api.JobFailed

	TaskQueued    = api.TaskQueued
	TaskRunning   = api.TaskRunning
	TaskDone      = api.TaskDone
	TaskFailed    = api.TaskFailed
	TaskCancelled = api.TaskCancelled

	DefaultTaskListLimit = api.DefaultTaskListLimit
)

// Re-export the errors callers classify with errors.Is.

var (
	ErrJobNotFound      = api.ErrJobNotFound
	ErrJobExists        = api.ErrJobExists
	ErrTaskNotFound     = api.ErrTaskNotFound
	ErrStoreUnavailable = api.ErrStoreUnavailable
	ErrInvalidRequest   = api.ErrInvalidRequest
	ErrFlowRunFailed    = api.ErrFlowRunFailed
)

// Store constructors.
// These wrap the internal/persistence package so external callers
// never need to import internal packages. None of them takes ownership of
// the connection it is given.

// NewInMemoryStore returns a Store backed by maps. Nothing survives the
// process.
func NewInMemoryStore() Store {
	return persistence.NewInMemoryStore()
}

// NewSQLiteStore returns a Store on a SQLite database opened with the
// modernc.org/sqlite driver ("sqlite"). The schema is created if missing.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (Store, error) {
	return persistence.NewSQLiteStore(ctx, db)
}

// NewPostgresStore returns a Store on PostgreSQL, typically opened with the
// pgx stdlib driver ("pgx"). The schema is created if missing.
func NewPostgresStore(ctx context.Context, db *sql.DB) (Store, error) {
	return persistence.NewPostgresStore(ctx, db)
}

// NewRedisStore returns a Store on Redis. Every key starts with prefix;
// an empty prefix selects "jobledger:".
func NewRedisStore(client *redis.Client, prefix string) Store {
	return persistence.NewRedisStore(client, prefix)
}

// NewMongoStore returns a Store on the named MongoDB database and creates
// its indexes. An empty name selects "jobledger".
func NewMongoStore(ctx context.Context, client *mongo.Client, database string) (Store, error) {
	return persistence.NewMongoStore(ctx, client, database)
}
