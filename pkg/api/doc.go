// Package api contains the public domain types of the jobledger module:
// jobs, steps, artifacts, the audit trail and standalone workflow tasks,
// together with the status lattice that drives job reconciliation and the
// observer hooks used for logging and metrics.
//
// Most users interact with the higher-level jobledger package, which
// re-exports selected types from this package.
//
// # Job status lattice
//
// A job's aggregate status is a deterministic function of its steps. The
// statuses form a total order
//
//	CREATED < RUNNING < DONE < FAILED
//
// and MergeStatus joins the stored status with a signal by taking the
// larger of the two. FAILED is therefore absorbing, and DONE only yields to
// FAILED. AdvancedBy turns a signal into the set of statuses it may move,
// which persistence backends use as the predicate of a single conditional
// write.
//
// # Errors
//
// Operations return the sentinel errors in this package (ErrJobNotFound,
// ErrTaskNotFound, ErrStoreUnavailable, ...), wrapped with backend context.
// Use errors.Is to classify them, or NewResult to build the structured
// {ok, error, message} shape expected by a transport boundary.
package api
