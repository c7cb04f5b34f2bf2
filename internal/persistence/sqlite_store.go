package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('CREATED', 'RUNNING', 'DONE', 'FAILED')),
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS steps (
		job_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('RUNNING', 'DONE', 'FAILED')),
		input_uri TEXT NOT NULL DEFAULT '',
		output_uri TEXT NOT NULL DEFAULT '',
		ruleset_version TEXT NOT NULL DEFAULT 'v1',
		params TEXT,
		started_at INTEGER,
		ended_at INTEGER,
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
		created_at INTEGER NOT NULL,
		PRIMARY KEY (job_id, artifact_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		step_id TEXT,
		detail TEXT,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_job ON audit_log (job_id, id)`,
	`CREATE TABLE IF NOT EXISTS workflow_tasks (
		task_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		operator TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('queued', 'running', 'done', 'failed', 'cancelled')),
		created_at_epoch INTEGER NOT NULL,
		updated_at_epoch INTEGER NOT NULL,
		result TEXT,
		error TEXT,
		source TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_tasks_tenant ON workflow_tasks (tenant_id, updated_at_epoch DESC)`,
}

// NewSQLiteStore initializes the required schema in the given database and
// returns a Store backed by it.
//
// It expects an *sql.DB that uses the "modernc.org/sqlite" driver. The
// caller is responsible for importing the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// In-memory databases must be limited to a single connection
// (db.SetMaxOpenConns(1)) or every connection sees its own empty database.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, sqlDialect{
		name:        "sqlite",
		schema:      sqliteSchema,
		isDuplicate: isSQLiteDuplicate,
	})
}

func isSQLiteDuplicate(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE")
		}
	}
	return false
}
