package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Upstream call errors
const (
	// ErrCodeCircuitOpen indicates the breaker for a dependency rejected the call.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrCodeTransientUpstream indicates a retryable upstream failure that exhausted its attempts.
	ErrCodeTransientUpstream ErrorCode = "TRANSIENT_UPSTREAM"
	// ErrCodePermanentUpstream indicates a non-retryable upstream status.
	ErrCodePermanentUpstream ErrorCode = "PERMANENT_UPSTREAM"
	// ErrCodeLimiterUnavailable indicates no concurrency slot could be acquired before the context ended.
	ErrCodeLimiterUnavailable ErrorCode = "LIMITER_UNAVAILABLE"
)

// Orchestration errors
const (
	// ErrCodeTaskFailure indicates a source task returned an error or panicked.
	ErrCodeTaskFailure ErrorCode = "TASK_FAILURE"
	// ErrCodeDeadlineExceeded indicates a source did not report before the run deadline.
	ErrCodeDeadlineExceeded ErrorCode = "RUN_DEADLINE_EXCEEDED"
	// ErrCodeAlreadyFinalized indicates a second finalize on a terminal run.
	ErrCodeAlreadyFinalized ErrorCode = "ALREADY_FINALIZED"
)

// Resource and input errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Internal errors
const (
	// ErrCodePersistence indicates the run store could not be written or read.
	ErrCodePersistence ErrorCode = "PERSISTENCE"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeUnavailable indicates the service is shutting down.
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTransientUpstream:  true,
	ErrCodeLimiterUnavailable: true,
	ErrCodePersistence:        true,
	ErrCodeUnavailable:        true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
