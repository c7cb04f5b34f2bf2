// Package jobledger records externally executed jobs and keeps their
// aggregate status consistent while step callbacks arrive retried,
// duplicated and out of order.
//
// Workers report each step of a job with start, done and fail callbacks.
// jobledger persists those callbacks idempotently, appends every
// state-changing action to an audit trail and derives the job status from
// the step snapshot. The same store also tracks standalone workflow tasks
// reported by other runtimes.
//
// # Core Concepts
//
//  1. Store
//  2. Ledger
//  3. Status lattice
//  4. Audit trail
//  5. Workflow tasks
//
// # Store
//
// A Store persists jobs, steps, artifacts, audit entries and workflow
// tasks. Every conditional transition is a single atomic write, so
// concurrent callbacks for the same job never interleave a read and a
// write. Stores can be backed by:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability, the default)
//   - Postgres
//   - Redis
//   - MongoDB
//
// # Ledger
//
// A Ledger wires a Store to the job callback service (Ledger.Jobs) and the
// task manager (Ledger.Tasks). Open builds one from a Config and owns the
// connection it opened:
//
//	cfg, err := jobledger.LoadConfig(jobledger.ConfigOptions{})
//	ledger, err := jobledger.Open(ctx, cfg)
//	defer ledger.Close()
//
//	job, err := ledger.Jobs.CreateJob(ctx, "alice")
//	err = ledger.Jobs.StartStep(ctx, jobledger.StepStart{JobID: job.ID, StepID: "extract"}, "")
//	err = ledger.Jobs.CompleteStep(ctx, job.ID, "extract", "", "sha256:...", "")
//
// New builds a Ledger over a Store the caller already owns.
//
// # Status lattice
//
// Job statuses are ordered CREATED < RUNNING < DONE < FAILED. A callback
// only ever moves a job up the order, so FAILED is absorbing and a job is
// DONE only when every recorded step is DONE. Because the DONE callback
// recomputes the status from all steps, the final status does not depend
// on the order callbacks arrive in.
//
// # Audit trail
//
// Every job, step, artifact and flow action appends an immutable entry
// with the acting party and, when useful, the callback body as detail.
//
// # Workflow tasks
//
// Workflow tasks are independent of jobs. Upserts are last write wins;
// cancellation only succeeds from queued or running.
//
// # Errors
//
// Operations return the sentinel errors re-exported here
// (ErrJobNotFound, ErrStoreUnavailable, ...). ErrStoreUnavailable means the
// whole callback may be retried. NewResult turns any outcome into the
// {ok, error, message, data} shape a transport boundary expects.
//
// For a runnable program, see the /examples directory.
package jobledger
