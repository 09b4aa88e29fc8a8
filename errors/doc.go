// Package errors provides the unified error type used across fanout.
//
// Every failure that crosses a package boundary is an *AppError carrying a
// machine-readable ErrorCode. The codes map onto the failure taxonomy of the
// fan-out engine:
//
//   - CIRCUIT_OPEN: the dependency is presumed unavailable, no attempt was made
//   - TRANSIENT_UPSTREAM: a retryable status or transport error, retried to the policy limit
//   - PERMANENT_UPSTREAM: a non-retryable upstream status
//   - TASK_FAILURE: a source task failed or panicked; only ever recorded on a run outcome
//   - PERSISTENCE: the run store could not be written; the only error that escapes Execute
package errors
