package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('CREATED', 'RUNNING', 'DONE', 'FAILED')),
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS steps (
		job_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('RUNNING', 'DONE', 'FAILED')),
		input_uri TEXT NOT NULL DEFAULT '',
		output_uri TEXT NOT NULL DEFAULT '',
		ruleset_version VARCHAR(32) NOT NULL DEFAULT 'v1',
		params TEXT,
		started_at BIGINT,
		ended_at BIGINT,
		output_hash TEXT,
		error TEXT,
		PRIMARY KEY (job_id, step_id)
	)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		job_id TEXT NOT NULL,
		artifact_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		path TEXT NOT NULL,
		sha256 TEXT,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (job_id, artifact_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		step_id TEXT,
		detail TEXT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_job ON audit_log (job_id, id)`,
	`CREATE TABLE IF NOT EXISTS workflow_tasks (
		task_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		operator TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('queued', 'running', 'done', 'failed', 'cancelled')),
		created_at_epoch BIGINT NOT NULL,
		updated_at_epoch BIGINT NOT NULL,
		result TEXT,
		error TEXT,
		source TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_tasks_tenant ON workflow_tasks (tenant_id, updated_at_epoch DESC)`,
}

// NewPostgresStore initializes the required schema in the given database
// and returns a Store backed by PostgreSQL.
//
// It expects an *sql.DB that uses the pgx driver. The caller is
// responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open("pgx", dsn).
func NewPostgresStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, sqlDialect{
		name:        "postgres",
		schema:      postgresSchema,
		numbered:    true,
		isDuplicate: isPostgresDuplicate,
	})
}

func isPostgresDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
