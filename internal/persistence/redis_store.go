package persistence

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/jobledger/pkg/api"
)

// RedisStore is a Store backed by Redis.
// It uses the following key structure:
//
//	<prefix>job:<id>                 => HASH of job fields
//	<prefix>job:<id>:steps           => SET of step IDs
//	<prefix>job:<id>:artifacts       => SET of artifact IDs
//	<prefix>job:<id>:audit           => LIST of JSON audit entries
//	<prefix>step:<job>:<step>        => HASH of step fields
//	<prefix>artifact:<job>:<id>      => HASH of artifact fields
//	<prefix>audit:seq                => audit entry id counter
//	<prefix>task:<id>                => HASH of workflow task fields
//	<prefix>tenant:<tenant>:tasks    => ZSET of task IDs scored by updated_at_epoch
//
// Every conditional write runs as a Lua script so that the read and the
// write happen atomically on the server. The scripts touch keys derived
// from their arguments, so the store targets a single Redis node.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "jobledger:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "jobledger:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyJob(id string) string {
	return s.prefix + "job:" + id
}

func (s *RedisStore) keyJobSteps(id string) string {
	return s.keyJob(id) + ":steps"
}

func (s *RedisStore) keyJobArtifacts(id string) string {
	return s.keyJob(id) + ":artifacts"
}

func (s *RedisStore) keyJobAudit(id string) string {
	return s.keyJob(id) + ":audit"
}

func (s *RedisStore) keyStepPrefix(jobID string) string {
	return s.prefix + "step:" + jobID + ":"
}

func (s *RedisStore) keyArtifact(jobID, id string) string {
	return s.prefix + "artifact:" + jobID + ":" + id
}

func (s *RedisStore) keyAuditSeq() string {
	return s.prefix + "audit:seq"
}

func (s *RedisStore) keyTask(id string) string {
	return s.prefix + "task:" + id
}

func (s *RedisStore) keyTenantPrefix() string {
	return s.prefix + "tenant:"
}

func (s *RedisStore) keyTenant(id string) string {
	return s.keyTenantPrefix() + id + ":tasks"
}

func (s *RedisStore) fail(op string, err error) error {
	return unavailable("redis", op, err)
}

var createJobScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'job_id', ARGV[1], 'owner', ARGV[2], 'status', ARGV[3], 'created_at', ARGV[4])
return 1
`)

// ARGV[1] is the signal, ARGV[2:] the statuses it advances.
var mergeJobStatusScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return 0
end
for i = 2, #ARGV do
  if cur == ARGV[i] then
    redis.call('HSET', KEYS[1], 'status', ARGV[1])
    return 1
  end
end
return 0
`)

var countStepsScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local total, failed, notDone = 0, 0, 0
for _, id in ipairs(ids) do
  local st = redis.call('HGET', ARGV[1] .. id, 'status')
  if st then
    total = total + 1
    if st == 'FAILED' then failed = failed + 1 end
    if st ~= 'DONE' then notDone = notDone + 1 end
  end
end
return {total, failed, notDone}
`)

var recordStepStartScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
local status = 'RUNNING'
if cur == 'DONE' or cur == 'FAILED' then
  status = cur
end
redis.call('HSET', KEYS[1],
  'job_id', ARGV[1], 'step_id', ARGV[2], 'status', status,
  'input_uri', ARGV[3], 'output_uri', ARGV[4],
  'ruleset_version', ARGV[5], 'params', ARGV[6])
redis.call('HSETNX', KEYS[1], 'started_at', ARGV[7])
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

// ARGV: status, detail field, detail value, ended_at.
var finishStepScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], ARGV[2], ARGV[3], 'ended_at', ARGV[4])
return 1
`)

var recordArtifactScript = redis.NewScript(`
redis.call('HSET', KEYS[1],
  'job_id', ARGV[1], 'artifact_id', ARGV[2], 'kind', ARGV[3],
  'path', ARGV[4], 'sha256', ARGV[5])
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[6])
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

var appendAuditScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local entry = cjson.decode(ARGV[1])
entry['id'] = id
redis.call('RPUSH', KEYS[2], cjson.encode(entry))
return id
`)

// ARGV[10] is the tenant key prefix, used to move the task between tenant
// indexes when its tenant changes.
var recordTaskScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[1], 'tenant_id')
if old and old ~= ARGV[2] then
  redis.call('ZREM', ARGV[10] .. old .. ':tasks', ARGV[1])
end
redis.call('HSET', KEYS[1],
  'task_id', ARGV[1], 'tenant_id', ARGV[2], 'operator', ARGV[3], 'status', ARGV[4],
  'created_at_epoch', ARGV[5], 'updated_at_epoch', ARGV[6],
  'result', ARGV[7], 'error', ARGV[8], 'source', ARGV[9])
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[1])
return 1
`)

var cancelTaskScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if st ~= 'queued' and st ~= 'running' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'cancelled', 'updated_at_epoch', ARGV[1])
local tenant = redis.call('HGET', KEYS[1], 'tenant_id')
redis.call('ZADD', ARGV[2] .. tenant .. ':tasks', ARGV[1], ARGV[3])
return 1
`)

func formatNanos(t time.Time) string {
	return strconv.FormatInt(nanos(t), 10)
}

func parseNanos(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func rawOrNil(v string) json.RawMessage {
	if v == "" {
		return nil
	}
	return json.RawMessage(v)
}

func (s *RedisStore) CreateJob(ctx context.Context, job *api.Job) error {
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	ok, err := createJobScript.Run(ctx, s.client,
		[]string{s.keyJob(job.ID)},
		job.ID, job.Owner, string(job.Status), formatNanos(created),
	).Int()
	if err != nil {
		return s.fail("create job", err)
	}
	if ok == 0 {
		return api.ErrJobExists
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*api.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.keyJob(jobID)).Result()
	if err != nil {
		return nil, s.fail("get job", err)
	}
	if len(fields) == 0 {
		return nil, api.ErrJobNotFound
	}
	return &api.Job{
		ID:        fields["job_id"],
		Owner:     fields["owner"],
		Status:    api.JobStatus(fields["status"]),
		CreatedAt: parseNanos(fields["created_at"]),
	}, nil
}

func (s *RedisStore) MergeJobStatus(ctx context.Context, jobID string, signal api.JobStatus) (bool, error) {
	from := api.AdvancedBy(signal)
	if len(from) == 0 {
		return false, nil
	}
	args := make([]any, 0, len(from)+1)
	args = append(args, string(signal))
	for _, st := range from {
		args = append(args, string(st))
	}
	n, err := mergeJobStatusScript.Run(ctx, s.client, []string{s.keyJob(jobID)}, args...).Int()
	if err != nil {
		return false, s.fail("merge job status", err)
	}
	return n == 1, nil
}

func (s *RedisStore) CountSteps(ctx context.Context, jobID string) (api.StepCounts, error) {
	vals, err := countStepsScript.Run(ctx, s.client,
		[]string{s.keyJobSteps(jobID)},
		s.keyStepPrefix(jobID),
	).Int64Slice()
	if err != nil {
		return api.StepCounts{}, s.fail("count steps", err)
	}
	if len(vals) != 3 {
		return api.StepCounts{}, s.fail("count steps", errors.New("unexpected script reply"))
	}
	return api.StepCounts{Total: vals[0], Failed: vals[1], NotDone: vals[2]}, nil
}

func (s *RedisStore) RecordStepStart(ctx context.Context, start api.StepStart) error {
	err := recordStepStartScript.Run(ctx, s.client,
		[]string{s.keyStepPrefix(start.JobID) + start.StepID, s.keyJobSteps(start.JobID)},
		start.JobID,
		start.StepID,
		start.InputURI,
		start.OutputURI,
		api.NormalizeRulesetVersion(start.RulesetVersion),
		string(start.Params),
		formatNanos(time.Now()),
	).Err()
	return s.fail("record step start", err)
}

func (s *RedisStore) MarkStepDone(ctx context.Context, jobID, stepID, outputHash string) (bool, error) {
	return s.finishStep(ctx, "mark step done", jobID, stepID, api.StepDone, "output_hash", outputHash)
}

func (s *RedisStore) MarkStepFailed(ctx context.Context, jobID, stepID, message string) (bool, error) {
	return s.finishStep(ctx, "mark step failed", jobID, stepID, api.StepFailed, "error", message)
}

func (s *RedisStore) finishStep(ctx context.Context, op, jobID, stepID string, status api.StepStatus, field, value string) (bool, error) {
	n, err := finishStepScript.Run(ctx, s.client,
		[]string{s.keyStepPrefix(jobID) + stepID},
		string(status), field, value, formatNanos(time.Now()),
	).Int()
	if err != nil {
		return false, s.fail(op, err)
	}
	return n == 1, nil
}

// hashes loads every hash in keys with one round trip. Missing hashes are
// skipped.
func (s *RedisStore) hashes(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]map[string]string, 0, len(keys))
	for _, c := range cmds {
		m, err := c.Result()
		if err != nil {
			return nil, err
		}
		if len(m) > 0 {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *RedisStore) ListSteps(ctx context.Context, jobID string) ([]*api.Step, error) {
	ids, err := s.client.SMembers(ctx, s.keyJobSteps(jobID)).Result()
	if err != nil {
		return nil, s.fail("list steps", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyStepPrefix(jobID) + id
	}
	rows, err := s.hashes(ctx, keys)
	if err != nil {
		return nil, s.fail("list steps", err)
	}

	out := make([]*api.Step, 0, len(rows))
	for _, f := range rows {
		out = append(out, &api.Step{
			JobID:          f["job_id"],
			StepID:         f["step_id"],
			Status:         api.StepStatus(f["status"]),
			InputURI:       f["input_uri"],
			OutputURI:      f["output_uri"],
			RulesetVersion: f["ruleset_version"],
			Params:         rawOrNil(f["params"]),
			StartedAt:      parseNanos(f["started_at"]),
			EndedAt:        parseNanos(f["ended_at"]),
			OutputHash:     f["output_hash"],
			Error:          f["error"],
		})
	}
	slices.SortFunc(out, func(a, b *api.Step) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.StepID, b.StepID))
	})
	return out, nil
}

func (s *RedisStore) RecordArtifact(ctx context.Context, a api.Artifact) error {
	err := recordArtifactScript.Run(ctx, s.client,
		[]string{s.keyArtifact(a.JobID, a.ArtifactID), s.keyJobArtifacts(a.JobID)},
		a.JobID, a.ArtifactID, a.Kind, a.Path, a.SHA256, formatNanos(time.Now()),
	).Err()
	return s.fail("record artifact", err)
}

func (s *RedisStore) ListArtifacts(ctx context.Context, jobID string) ([]*api.Artifact, error) {
	ids, err := s.client.SMembers(ctx, s.keyJobArtifacts(jobID)).Result()
	if err != nil {
		return nil, s.fail("list artifacts", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyArtifact(jobID, id)
	}
	rows, err := s.hashes(ctx, keys)
	if err != nil {
		return nil, s.fail("list artifacts", err)
	}

	out := make([]*api.Artifact, 0, len(rows))
	for _, f := range rows {
		out = append(out, &api.Artifact{
			JobID:      f["job_id"],
			ArtifactID: f["artifact_id"],
			Kind:       f["kind"],
			Path:       f["path"],
			SHA256:     f["sha256"],
			CreatedAt:  parseNanos(f["created_at"]),
		})
	}
	slices.SortFunc(out, func(a, b *api.Artifact) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ArtifactID, b.ArtifactID))
	})
	return out, nil
}

// redisAuditEntry is the JSON form of an audit entry in the audit list.
// CreatedAt is a string of unix nanos; Lua numbers are doubles and would
// round it.
type redisAuditEntry struct {
	ID        int64  `json:"id,omitempty"`
	JobID     string `json:"job_id"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	StepID    string `json:"step_id"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"created_at"`
}

func (s *RedisStore) AppendAudit(ctx context.Context, e api.AuditEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	data, err := json.Marshal(redisAuditEntry{
		JobID:     e.JobID,
		Actor:     e.Actor,
		Action:    string(e.Action),
		StepID:    e.StepID,
		Detail:    e.Detail,
		CreatedAt: formatNanos(created),
	})
	if err != nil {
		return s.fail("append audit", err)
	}
	err = appendAuditScript.Run(ctx, s.client,
		[]string{s.keyAuditSeq(), s.keyJobAudit(e.JobID)},
		string(data),
	).Err()
	return s.fail("append audit", err)
}

func (s *RedisStore) ListAudit(ctx context.Context, jobID string) ([]*api.AuditEntry, error) {
	vals, err := s.client.LRange(ctx, s.keyJobAudit(jobID), 0, -1).Result()
	if err != nil {
		return nil, s.fail("list audit", err)
	}
	out := make([]*api.AuditEntry, 0, len(vals))
	for _, v := range vals {
		var r redisAuditEntry
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, s.fail("list audit", err)
		}
		out = append(out, &api.AuditEntry{
			ID:        r.ID,
			JobID:     r.JobID,
			Actor:     r.Actor,
			Action:    api.Action(r.Action),
			StepID:    r.StepID,
			Detail:    r.Detail,
			CreatedAt: parseNanos(r.CreatedAt),
		})
	}
	return out, nil
}

func (s *RedisStore) RecordWorkflowTask(ctx context.Context, t *api.WorkflowTask) error {
	err := recordTaskScript.Run(ctx, s.client,
		[]string{s.keyTask(t.TaskID), s.keyTenant(t.TenantID)},
		t.TaskID,
		t.TenantID,
		t.Operator,
		string(t.Status),
		t.CreatedAtEpoch,
		t.UpdatedAtEpoch,
		string(t.Result),
		t.Error,
		t.Source,
		s.keyTenantPrefix(),
	).Err()
	return s.fail("record workflow task", err)
}

func taskFromHash(f map[string]string) *api.WorkflowTask {
	created, _ := strconv.ParseInt(f["created_at_epoch"], 10, 64)
	updated, _ := strconv.ParseInt(f["updated_at_epoch"], 10, 64)
	return &api.WorkflowTask{
		TaskID:         f["task_id"],
		TenantID:       f["tenant_id"],
		Operator:       f["operator"],
		Status:         api.TaskStatus(f["status"]),
		CreatedAtEpoch: created,
		UpdatedAtEpoch: updated,
		Result:         rawOrNil(f["result"]),
		Error:          f["error"],
		Source:         f["source"],
	}
}

func (s *RedisStore) GetWorkflowTask(ctx context.Context, taskID string) (*api.WorkflowTask, error) {
	f, err := s.client.HGetAll(ctx, s.keyTask(taskID)).Result()
	if err != nil {
		return nil, s.fail("get workflow task", err)
	}
	if len(f) == 0 {
		return nil, api.ErrTaskNotFound
	}
	return taskFromHash(f), nil
}

func (s *RedisStore) CancelWorkflowTask(ctx context.Context, taskID string, updatedAtEpoch int64) (bool, error) {
	n, err := cancelTaskScript.Run(ctx, s.client,
		[]string{s.keyTask(taskID)},
		updatedAtEpoch, s.keyTenantPrefix(), taskID,
	).Int()
	if err != nil {
		return false, s.fail("cancel workflow task", err)
	}
	return n == 1, nil
}

func (s *RedisStore) ListWorkflowTasks(ctx context.Context, tenantID string, limit int) ([]*api.WorkflowTask, error) {
	// Ties on updated_at_epoch are broken by task id, which the sorted set
	// cannot express in reverse order, so the whole index is loaded.
	ids, err := s.client.ZRevRange(ctx, s.keyTenant(tenantID), 0, -1).Result()
	if err != nil {
		return nil, s.fail("list workflow tasks", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyTask(id)
	}
	rows, err := s.hashes(ctx, keys)
	if err != nil {
		return nil, s.fail("list workflow tasks", err)
	}

	out := make([]*api.WorkflowTask, 0, len(rows))
	for _, f := range rows {
		out = append(out, taskFromHash(f))
	}
	slices.SortFunc(out, func(a, b *api.WorkflowTask) int {
		return cmp.Or(cmp.Compare(b.UpdatedAtEpoch, a.UpdatedAtEpoch), cmp.Compare(a.TaskID, b.TaskID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
