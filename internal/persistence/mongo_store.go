package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/jobledger/pkg/api"
)

// MongoStore is a Store backed by MongoDB.
//
// Upserts use update pipelines so the "keep started_at" and "never regress
// a finished step" rules are evaluated by the server. Caller values enter
// those pipelines through $literal. Two first-time callers
// racing on the same key can still collide on _id; that duplicate-key error
// surfaces as ErrConflictOnInsert and is absorbed by replaying the write.
type MongoStore struct {
	jobs      *mongo.Collection
	steps     *mongo.Collection
	artifacts *mongo.Collection
	audit     *mongo.Collection
	tasks     *mongo.Collection
	counters  *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed store and its secondary indexes.
// dbName defaults to "jobledger" if empty.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	if dbName == "" {
		dbName = "jobledger"
	}
	db := client.Database(dbName)
	s := &MongoStore{
		jobs:      db.Collection("jobs"),
		steps:     db.Collection("steps"),
		artifacts: db.Collection("artifacts"),
		audit:     db.Collection("audit_log"),
		tasks:     db.Collection("workflow_tasks"),
		counters:  db.Collection("counters"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll *mongo.Collection
		keys bson.D
	}{
		{s.steps, bson.D{{Key: "job_id", Value: 1}, {Key: "started_at", Value: 1}}},
		{s.artifacts, bson.D{{Key: "job_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{s.audit, bson.D{{Key: "job_id", Value: 1}, {Key: "seq", Value: 1}}},
		{s.tasks, bson.D{{Key: "tenant_id", Value: 1}, {Key: "updated_at_epoch", Value: -1}}},
	}
	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: ix.keys}); err != nil {
			return s.fail("ensure indexes", err)
		}
	}
	return nil
}

func (s *MongoStore) fail(op string, err error) error {
	return unavailable("mongo", op, err)
}

// insertConflict maps a duplicate-key error from an upsert onto
// ErrConflictOnInsert.
func insertConflict(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflictOnInsert
	}
	return err
}

// literal keeps a caller value from being read as a field path or
// variable inside an update pipeline.
func literal(v any) bson.M {
	return bson.M{"$literal": v}
}

type mongoJobDoc struct {
	ID        string `bson:"_id"`
	Owner     string `bson:"owner"`
	Status    string `bson:"status"`
	CreatedAt int64  `bson:"created_at"`
}

type mongoStepKey struct {
	JobID  string `bson:"job_id"`
	StepID string `bson:"step_id"`
}

type mongoStepDoc struct {
	Key            mongoStepKey `bson:"_id"`
	JobID          string       `bson:"job_id"`
	StepID         string       `bson:"step_id"`
	Status         string       `bson:"status"`
	InputURI       string       `bson:"input_uri"`
	OutputURI      string       `bson:"output_uri"`
	RulesetVersion string       `bson:"ruleset_version"`
	Params         string       `bson:"params,omitempty"`
	StartedAt      int64        `bson:"started_at,omitempty"`
	EndedAt        int64        `bson:"ended_at,omitempty"`
	OutputHash     string       `bson:"output_hash,omitempty"`
	Error          string       `bson:"error,omitempty"`
}

type mongoArtifactKey struct {
	JobID      string `bson:"job_id"`
	ArtifactID string `bson:"artifact_id"`
}

type mongoArtifactDoc struct {
	Key        mongoArtifactKey `bson:"_id"`
	JobID      string           `bson:"job_id"`
	ArtifactID string           `bson:"artifact_id"`
	Kind       string           `bson:"kind"`
	Path       string           `bson:"path"`
	SHA256     string           `bson:"sha256,omitempty"`
	CreatedAt  int64            `bson:"created_at"`
}

type mongoAuditDoc struct {
	Seq       int64  `bson:"seq"`
	JobID     string `bson:"job_id"`
	Actor     string `bson:"actor"`
	Action    string `bson:"action"`
	StepID    string `bson:"step_id,omitempty"`
	Detail    string `bson:"detail,omitempty"`
	CreatedAt int64  `bson:"created_at"`
}

type mongoTaskDoc struct {
	ID             string `bson:"_id"`
	TenantID       string `bson:"tenant_id"`
	Operator       string `bson:"operator"`
	Status         string `bson:"status"`
	CreatedAtEpoch int64  `bson:"created_at_epoch"`
	UpdatedAtEpoch int64  `bson:"updated_at_epoch"`
	Result         string `bson:"result,omitempty"`
	Error          string `bson:"error,omitempty"`
	Source         string `bson:"source"`
}

func unixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *MongoStore) CreateJob(ctx context.Context, job *api.Job) error {
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.jobs.InsertOne(ctx, mongoJobDoc{
		ID:        job.ID,
		Owner:     job.Owner,
		Status:    string(job.Status),
		CreatedAt: nanos(created),
	})
	if mongo.IsDuplicateKeyError(err) {
		return api.ErrJobExists
	}
	return s.fail("create job", err)
}

func (s *MongoStore) GetJob(ctx context.Context, jobID string) (*api.Job, error) {
	var doc mongoJobDoc
	err := s.jobs.FindOne(ctx, bson.M{"_id": jobID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, api.ErrJobNotFound
	}
	if err != nil {
		return nil, s.fail("get job", err)
	}
	return &api.Job{
		ID:        doc.ID,
		Owner:     doc.Owner,
		Status:    api.JobStatus(doc.Status),
		CreatedAt: unixNanos(doc.CreatedAt),
	}, nil
}

func (s *MongoStore) MergeJobStatus(ctx context.Context, jobID string, signal api.JobStatus) (bool, error) {
	from := api.AdvancedBy(signal)
	if len(from) == 0 {
		return false, nil
	}
	in := make(bson.A, len(from))
	for i, st := range from {
		in[i] = string(st)
	}
	res, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": jobID, "status": bson.M{"$in": in}},
		bson.M{"$set": bson.M{"status": string(signal)}},
	)
	if err != nil {
		return false, s.fail("merge job status", err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) CountSteps(ctx context.Context, jobID string) (api.StepCounts, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"job_id": jobID}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.M{"$sum": 1}},
			{Key: "failed", Value: bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$status", string(api.StepFailed)}}, 1, 0},
			}}},
			{Key: "not_done", Value: bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$ne": bson.A{"$status", string(api.StepDone)}}, 1, 0},
			}}},
		}}},
	}
	cur, err := s.steps.Aggregate(ctx, pipeline)
	if err != nil {
		return api.StepCounts{}, s.fail("count steps", err)
	}
	defer cur.Close(ctx)

	var c api.StepCounts
	if cur.Next(ctx) {
		var row struct {
			Total   int64 `bson:"total"`
			Failed  int64 `bson:"failed"`
			NotDone int64 `bson:"not_done"`
		}
		if err := cur.Decode(&row); err != nil {
			return api.StepCounts{}, s.fail("count steps", err)
		}
		c = api.StepCounts{Total: row.Total, Failed: row.Failed, NotDone: row.NotDone}
	}
	if err := cur.Err(); err != nil {
		return api.StepCounts{}, s.fail("count steps", err)
	}
	return c, nil
}

func (s *MongoStore) RecordStepStart(ctx context.Context, start api.StepStart) error {
	key := mongoStepKey{JobID: start.JobID, StepID: start.StepID}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "job_id", Value: literal(start.JobID)},
			{Key: "step_id", Value: literal(start.StepID)},
			{Key: "status", Value: bson.M{"$cond": bson.A{
				bson.M{"$in": bson.A{"$status", bson.A{string(api.StepDone), string(api.StepFailed)}}},
				"$status",
				string(api.StepRunning),
			}}},
			{Key: "input_uri", Value: literal(start.InputURI)},
			{Key: "output_uri", Value: literal(start.OutputURI)},
			{Key: "ruleset_version", Value: literal(api.NormalizeRulesetVersion(start.RulesetVersion))},
			{Key: "params", Value: literal(string(start.Params))},
			{Key: "started_at", Value: bson.M{"$ifNull": bson.A{"$started_at", nanos(time.Now())}}},
		}}},
	}
	err := absorbConflict(ctx, func(ctx context.Context) error {
		_, err := s.steps.UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
		return insertConflict(err)
	})
	return s.fail("record step start", err)
}

func (s *MongoStore) MarkStepDone(ctx context.Context, jobID, stepID, outputHash string) (bool, error) {
	return s.finishStep(ctx, "mark step done", jobID, stepID, bson.M{
		"status":      string(api.StepDone),
		"output_hash": outputHash,
		"ended_at":    nanos(time.Now()),
	})
}

func (s *MongoStore) MarkStepFailed(ctx context.Context, jobID, stepID, message string) (bool, error) {
	return s.finishStep(ctx, "mark step failed", jobID, stepID, bson.M{
		"status":   string(api.StepFailed),
		"error":    message,
		"ended_at": nanos(time.Now()),
	})
}

func (s *MongoStore) finishStep(ctx context.Context, op, jobID, stepID string, set bson.M) (bool, error) {
	res, err := s.steps.UpdateOne(ctx,
		bson.M{"_id": mongoStepKey{JobID: jobID, StepID: stepID}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, s.fail(op, err)
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) ListSteps(ctx context.Context, jobID string) ([]*api.Step, error) {
	cur, err := s.steps.Find(ctx, bson.M{"job_id": jobID},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}, {Key: "step_id", Value: 1}}))
	if err != nil {
		return nil, s.fail("list steps", err)
	}
	defer cur.Close(ctx)

	var out []*api.Step
	for cur.Next(ctx) {
		var doc mongoStepDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, s.fail("list steps", err)
		}
		out = append(out, &api.Step{
			JobID:          doc.JobID,
			StepID:         doc.StepID,
			Status:         api.StepStatus(doc.Status),
			InputURI:       doc.InputURI,
			OutputURI:      doc.OutputURI,
			RulesetVersion: doc.RulesetVersion,
			Params:         rawOrNil(doc.Params),
			StartedAt:      unixNanos(doc.StartedAt),
			EndedAt:        unixNanos(doc.EndedAt),
			OutputHash:     doc.OutputHash,
			Error:          doc.Error,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, s.fail("list steps", err)
	}
	return out, nil
}

func (s *MongoStore) RecordArtifact(ctx context.Context, a api.Artifact) error {
	key := mongoArtifactKey{JobID: a.JobID, ArtifactID: a.ArtifactID}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "job_id", Value: literal(a.JobID)},
			{Key: "artifact_id", Value: literal(a.ArtifactID)},
			{Key: "kind", Value: literal(a.Kind)},
			{Key: "path", Value: literal(a.Path)},
			{Key: "sha256", Value: literal(a.SHA256)},
			{Key: "created_at", Value: bson.M{"$ifNull": bson.A{"$created_at", nanos(time.Now())}}},
		}}},
	}
	err := absorbConflict(ctx, func(ctx context.Context) error {
		_, err := s.artifacts.UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
		return insertConflict(err)
	})
	return s.fail("record artifact", err)
}

func (s *MongoStore) ListArtifacts(ctx context.Context, jobID string) ([]*api.Artifact, error) {
	cur, err := s.artifacts.Find(ctx, bson.M{"job_id": jobID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "artifact_id", Value: 1}}))
	if err != nil {
		return nil, s.fail("list artifacts", err)
	}
	defer cur.Close(ctx)

	var out []*api.Artifact
	for cur.Next(ctx) {
		var doc mongoArtifactDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, s.fail("list artifacts", err)
		}
		out = append(out, &api.Artifact{
			JobID:      doc.JobID,
			ArtifactID: doc.ArtifactID,
			Kind:       doc.Kind,
			Path:       doc.Path,
			SHA256:     doc.SHA256,
			CreatedAt:  unixNanos(doc.CreatedAt),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, s.fail("list artifacts", err)
	}
	return out, nil
}

// nextAuditSeq allocates the next audit entry id from the counters
// collection.
func (s *MongoStore) nextAuditSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := absorbConflict(ctx, func(ctx context.Context) error {
		err := s.counters.FindOneAndUpdate(ctx,
			bson.M{"_id": "audit_log"},
			bson.M{"$inc": bson.M{"seq": int64(1)}},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&counter)
		return insertConflict(err)
	})
	return counter.Seq, err
}

func (s *MongoStore) AppendAudit(ctx context.Context, e api.AuditEntry) error {
	seq, err := s.nextAuditSeq(ctx)
	if err != nil {
		return s.fail("append audit", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.audit.InsertOne(ctx, mongoAuditDoc{
		Seq:       seq,
		JobID:     e.JobID,
		Actor:     e.Actor,
		Action:    string(e.Action),
		StepID:    e.StepID,
		Detail:    e.Detail,
		CreatedAt: nanos(created),
	})
	return s.fail("append audit", err)
}

func (s *MongoStore) ListAudit(ctx context.Context, jobID string) ([]*api.AuditEntry, error) {
	cur, err := s.audit.Find(ctx, bson.M{"job_id": jobID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, s.fail("list audit", err)
	}
	defer cur.Close(ctx)

	var out []*api.AuditEntry
	for cur.Next(ctx) {
		var doc mongoAuditDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, s.fail("list audit", err)
		}
		out = append(out, &api.AuditEntry{
			ID:        doc.Seq,
			JobID:     doc.JobID,
			Actor:     doc.Actor,
			Action:    api.Action(doc.Action),
			StepID:    doc.StepID,
			Detail:    doc.Detail,
			CreatedAt: unixNanos(doc.CreatedAt),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, s.fail("list audit", err)
	}
	return out, nil
}

func (s *MongoStore) RecordWorkflowTask(ctx context.Context, t *api.WorkflowTask) error {
	doc := mongoTaskDoc{
		ID:             t.TaskID,
		TenantID:       t.TenantID,
		Operator:       t.Operator,
		Status:         string(t.Status),
		CreatedAtEpoch: t.CreatedAtEpoch,
		UpdatedAtEpoch: t.UpdatedAtEpoch,
		Result:         string(t.Result),
		Error:          t.Error,
		Source:         t.Source,
	}
	err := absorbConflict(ctx, func(ctx context.Context) error {
		_, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": t.TaskID}, doc, options.Replace().SetUpsert(true))
		return insertConflict(err)
	})
	return s.fail("record workflow task", err)
}

func taskFromDoc(doc mongoTaskDoc) *api.WorkflowTask {
	return &api.WorkflowTask{
		TaskID:         doc.ID,
		TenantID:       doc.TenantID,
		Operator:       doc.Operator,
		Status:         api.TaskStatus(doc.Status),
		CreatedAtEpoch: doc.CreatedAtEpoch,
		UpdatedAtEpoch: doc.UpdatedAtEpoch,
		Result:         rawOrNil(doc.Result),
		Error:          doc.Error,
		Source:         doc.Source,
	}
}

func (s *MongoStore) GetWorkflowTask(ctx context.Context, taskID string) (*api.WorkflowTask, error) {
	var doc mongoTaskDoc
	err := s.tasks.FindOne(ctx, bson.M{"_id": taskID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, api.ErrTaskNotFound
	}
	if err != nil {
		return nil, s.fail("get workflow task", err)
	}
	return taskFromDoc(doc), nil
}

func (s *MongoStore) CancelWorkflowTask(ctx context.Context, taskID string, updatedAtEpoch int64) (bool, error) {
	in := make(bson.A, len(api.CancellableTaskStatuses))
	for i, st := range api.CancellableTaskStatuses {
		in[i] = string(st)
	}
	res, err := s.tasks.UpdateOne(ctx,
		bson.M{"_id": taskID, "status": bson.M{"$in": in}},
		bson.M{"$set": bson.M{
			"status":           string(api.TaskCancelled),
			"updated_at_epoch": updatedAtEpoch,
		}},
	)
	if err != nil {
		return false, s.fail("cancel workflow task", err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) ListWorkflowTasks(ctx context.Context, tenantID string, limit int) ([]*api.WorkflowTask, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at_epoch", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.tasks.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, s.fail("list workflow tasks", err)
	}
	defer cur.Close(ctx)

	var out []*api.WorkflowTask
	for cur.Next(ctx) {
		var doc mongoTaskDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, s.fail("list workflow tasks", err)
		}
		out = append(out, taskFromDoc(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, s.fail("list workflow tasks", err)
	}
	return out, nil
}
