package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/jobledger/pkg/api"
)

// sqlDialect captures what differs between the database/sql backends.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlDialect struct {
	name        string
	schema      []string
	numbered    bool
	isDuplicate func(error) bool
}

// SQLStore is a Store backed by database/sql. It is shared by the SQLite
// and PostgreSQL backends; every conditional write is a single statement so
// the database decides races.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// Ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

func newSQLStore(ctx context.Context, db *sql.DB, d sqlDialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.fail("init schema", err)
		}
	}
	return nil
}

func (s *SQLStore) fail(op string, err error) error {
	return unavailable(s.dialect.name, op, err)
}

// rebind rewrites '?' placeholders into the dialect's form.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func payload(ns sql.NullString) []byte {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return []byte(ns.String)
}

func (s *SQLStore) CreateJob(ctx context.Context, job *api.Job) error {
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO jobs (job_id, owner, status, created_at)
		VALUES (?, ?, ?, ?)
	`, job.ID, job.Owner, string(job.Status), nanos(created))
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return api.ErrJobExists
		}
		return s.fail("create job", err)
	}
	return nil
}

func (s *SQLStore) GetJob(ctx context.Context, jobID string) (*api.Job, error) {
	var (
		job     api.Job
		status  string
		created sql.NullInt64
	)
	err := s.queryRow(ctx, `
		SELECT job_id, owner, status, created_at
		FROM jobs
		WHERE job_id = ?
	`, jobID).Scan(&job.ID, &job.Owner, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrJobNotFound
	}
	if err != nil {
		return nil, s.fail("get job", err)
	}
	job.Status = api.JobStatus(status)
	job.CreatedAt = fromNanos(created)
	return &job, nil
}

func (s *SQLStore) MergeJobStatus(ctx context.Context, jobID string, signal api.JobStatus) (bool, error) {
	from := api.AdvancedBy(signal)
	if len(from) == 0 {
		return false, nil
	}
	args := make([]any, 0, len(from)+2)
	args = append(args, string(signal), jobID)
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.exec(ctx, `
		UPDATE jobs
		SET status = ?
		WHERE job_id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...)
	if err != nil {
		return false, s.fail("merge job status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.fail("merge job status", err)
	}
	return n > 0, nil
}

func (s *SQLStore) CountSteps(ctx context.Context, jobID string) (api.StepCounts, error) {
	var c api.StepCounts
	err := s.queryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status <> 'DONE' THEN 1 ELSE 0 END), 0)
		FROM steps
		WHERE job_id = ?
	`, jobID).Scan(&c.Total, &c.Failed, &c.NotDone)
	if err != nil {
		return api.StepCounts{}, s.fail("count steps", err)
	}
	return c, nil
}

func (s *SQLStore) RecordStepStart(ctx context.Context, start api.StepStart) error {
	_, err := s.exec(ctx, `
		INSERT INTO steps (job_id, step_id, status, input_uri, output_uri, ruleset_version, params, started_at)
		VALUES (?, ?, 'RUNNING', ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, step_id) DO UPDATE SET
			status = CASE WHEN steps.status IN ('DONE', 'FAILED') THEN steps.status ELSE 'RUNNING' END,
			input_uri = excluded.input_uri,
			output_uri = excluded.output_uri,
			ruleset_version = excluded.ruleset_version,
			params = excluded.params,
			started_at = COALESCE(steps.started_at, excluded.started_at)
	`,
		start.JobID,
		start.StepID,
		start.InputURI,
		start.OutputURI,
		api.NormalizeRulesetVersion(start.RulesetVersion),
		nullablePayload(start.Params),
		nanos(time.Now()),
	)
	return s.fail("record step start", err)
}

func (s *SQLStore) MarkStepDone(ctx context.Context, jobID, stepID, outputHash string) (bool, error) {
	return s.finishStep(ctx, "mark step done", `
		UPDATE steps
		SET status = 'DONE', output_hash = ?, ended_at = ?
		WHERE job_id = ? AND step_id = ?
	`, nullString(outputHash), nanos(time.Now()), jobID, stepID)
}

func (s *SQLStore) MarkStepFailed(ctx context.Context, jobID, stepID, message string) (bool, error) {
	return s.finishStep(ctx, "mark step failed", `
		UPDATE steps
		SET status = 'FAILED', error = ?, ended_at = ?
		WHERE job_id = ? AND step_id = ?
	`, nullString(message), nanos(time.Now()), jobID, stepID)
}

func (s *SQLStore) finishStep(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, s.fail(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.fail(op, err)
	}
	return n > 0, nil
}

func (s *SQLStore) ListSteps(ctx context.Context, jobID string) ([]*api.Step, error) {
	rows, err := s.query(ctx, `
		SELECT job_id, step_id, status, input_uri, output_uri, ruleset_version,
		       params, started_at, ended_at, output_hash, error
		FROM steps
		WHERE job_id = ?
		ORDER BY started_at ASC, step_id ASC
	`, jobID)
	if err != nil {
		return nil, s.fail("list steps", err)
	}
	defer rows.Close()

	var out []*api.Step
	for rows.Next() {
		var (
			st                 api.Step
			status             string
			params, hash, msg  sql.NullString
			startedAt, endedAt sql.NullInt64
		)
		if err := rows.Scan(
			&st.JobID, &st.StepID, &status, &st.InputURI, &st.OutputURI, &st.RulesetVersion,
			&params, &startedAt, &endedAt, &hash, &msg,
		); err != nil {
			return nil, s.fail("list steps", err)
		}
		st.Status = api.StepStatus(status)
		st.Params = payload(params)
		st.StartedAt = fromNanos(startedAt)
		st.EndedAt = fromNanos(endedAt)
		st.OutputHash = hash.String
		st.Error = msg.String
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list steps", err)
	}
	return out, nil
}

func (s *SQLStore) RecordArtifact(ctx context.Context, a api.Artifact) error {
	_, err := s.exec(ctx, `
		INSERT INTO artifacts (job_id, artifact_id, kind, path, sha256, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, artifact_id) DO UPDATE SET
			kind = excluded.kind,
			path = excluded.path,
			sha256 = excluded.sha256
	`, a.JobID, a.ArtifactID, a.Kind, a.Path, nullString(a.SHA256), nanos(time.Now()))
	return s.fail("record artifact", err)
}

func (s *SQLStore) ListArtifacts(ctx context.Context, jobID string) ([]*api.Artifact, error) {
	rows, err := s.query(ctx, `
		SELECT job_id, artifact_id, kind, path, sha256, created_at
		FROM artifacts
		WHERE job_id = ?
		ORDER BY created_at DESC, artifact_id ASC
	`, jobID)
	if err != nil {
		return nil, s.fail("list artifacts", err)
	}
	defer rows.Close()

	var out []*api.Artifact
	for rows.Next() {
		var (
			a       api.Artifact
			sha     sql.NullString
			created sql.NullInt64
		)
		if err := rows.Scan(&a.JobID, &a.ArtifactID, &a.Kind, &a.Path, &sha, &created); err != nil {
			return nil, s.fail("list artifacts", err)
		}
		a.SHA256 = sha.String
		a.CreatedAt = fromNanos(created)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list artifacts", err)
	}
	return out, nil
}

func (s *SQLStore) AppendAudit(ctx context.Context, e api.AuditEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO audit_log (job_id, actor, action, step_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.JobID, e.Actor, string(e.Action), nullString(e.StepID), nullString(e.Detail), nanos(created))
	return s.fail("append audit", err)
}

func (s *SQLStore) ListAudit(ctx context.Context, jobID string) ([]*api.AuditEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, job_id, actor, action, step_id, detail, created_at
		FROM audit_log
		WHERE job_id = ?
		ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, s.fail("list audit", err)
	}
	defer rows.Close()

	var out []*api.AuditEntry
	for rows.Next() {
		var (
			e              api.AuditEntry
			stepID, detail sql.NullString
			created        sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Actor, &e.Action, &stepID, &detail, &created); err != nil {
			return nil, s.fail("list audit", err)
		}
		e.StepID = stepID.String
		e.Detail = detail.String
		e.CreatedAt = fromNanos(created)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list audit", err)
	}
	return out, nil
}

func (s *SQLStore) RecordWorkflowTask(ctx context.Context, t *api.WorkflowTask) error {
	_, err := s.exec(ctx, `
		INSERT INTO workflow_tasks (task_id, tenant_id, operator, status, created_at_epoch,
		                            updated_at_epoch, result, error, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			operator = excluded.operator,
			status = excluded.status,
			created_at_epoch = excluded.created_at_epoch,
			updated_at_epoch = excluded.updated_at_epoch,
			result = excluded.result,
			error = excluded.error,
			source = excluded.source
	`,
		t.TaskID,
		t.TenantID,
		t.Operator,
		string(t.Status),
		t.CreatedAtEpoch,
		t.UpdatedAtEpoch,
		nullablePayload(t.Result),
		nullString(t.Error),
		t.Source,
	)
	return s.fail("record workflow task", err)
}

const taskColumns = `task_id, tenant_id, operator, status, created_at_epoch, updated_at_epoch, result, error, source`

func scanTask(scan func(dest ...any) error) (*api.WorkflowTask, error) {
	var (
		t           api.WorkflowTask
		status      string
		result, msg sql.NullString
	)
	if err := scan(&t.TaskID, &t.TenantID, &t.Operator, &status, &t.CreatedAtEpoch,
		&t.UpdatedAtEpoch, &result, &msg, &t.Source); err != nil {
		return nil, err
	}
	t.Status = api.TaskStatus(status)
	t.Result = payload(result)
	t.Error = msg.String
	return &t, nil
}

func (s *SQLStore) GetWorkflowTask(ctx context.Context, taskID string) (*api.WorkflowTask, error) {
	row := s.queryRow(ctx, `SELECT `+taskColumns+` FROM workflow_tasks WHERE task_id = ?`, taskID)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrTaskNotFound
	}
	if err != nil {
		return nil, s.fail("get workflow task", err)
	}
	return t, nil
}

func (s *SQLStore) CancelWorkflowTask(ctx context.Context, taskID string, updatedAtEpoch int64) (bool, error) {
	from := api.CancellableTaskStatuses
	args := make([]any, 0, len(from)+3)
	args = append(args, string(api.TaskCancelled), updatedAtEpoch, taskID)
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.exec(ctx, `
		UPDATE workflow_tasks
		SET status = ?, updated_at_epoch = ?
		WHERE task_id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...)
	if err != nil {
		return false, s.fail("cancel workflow task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.fail("cancel workflow task", err)
	}
	return n > 0, nil
}

func (s *SQLStore) ListWorkflowTasks(ctx context.Context, tenantID string, limit int) ([]*api.WorkflowTask, error) {
	rows, err := s.query(ctx, `
		SELECT `+taskColumns+`
		FROM workflow_tasks
		WHERE tenant_id = ?
		ORDER BY updated_at_epoch DESC, task_id ASC
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, s.fail("list workflow tasks", err)
	}
	defer rows.Close()

	var out []*api.WorkflowTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, s.fail("list workflow tasks", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list workflow tasks", err)
	}
	return out, nil
}
