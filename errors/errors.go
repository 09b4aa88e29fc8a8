package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"reflect"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an *AppError with the same code, so callers
// can match with errors.Is(err, errors.New(code, "", 0)).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Upstream ---

// CircuitOpen reports that the breaker for key refused the call.
func CircuitOpen(key string) *AppError {
	return &AppError{
		Code: ErrCodeCircuitOpen, Message: fmt.Sprintf("Circuit open for %s.", key),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: false,
		Details: map[string]any{"circuit_key": key},
	}
}

// TransientUpstream reports a retryable upstream failure that ran out of attempts.
// status is 0 when the failure happened below HTTP (timeouts, resets).
func TransientUpstream(target string, status, attempts int, cause error) *AppError {
	e := &AppError{
		Code: ErrCodeTransientUpstream, Message: fmt.Sprintf("Upstream %s failed after %d attempt(s).", target, attempts),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"target": target, "attempts": attempts}, Cause: cause,
	}
	if status > 0 {
		e.Details["status"] = status
	}
	return e
}

// PermanentUpstream reports a non-retryable upstream response or error.
func PermanentUpstream(target string, status int, cause error) *AppError {
	e := &AppError{
		Code: ErrCodePermanentUpstream, Message: fmt.Sprintf("Upstream %s rejected the request.", target),
		HTTPStatus: http.StatusBadGateway, Retryable: false,
		Details: map[string]any{"target": target}, Cause: cause,
	}
	if status > 0 {
		e.Details["status"] = status
	}
	return e
}

// LimiterUnavailable reports that no concurrency slot was granted.
func LimiterUnavailable(cause error) *AppError {
	return &AppError{
		Code: ErrCodeLimiterUnavailable, Message: "No concurrency slot became available.",
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Cause: cause,
	}
}

// --- Orchestration ---

// DeadlineExceeded reports that source did not finish before the run deadline.
func DeadlineExceeded(source string) *AppError {
	return &AppError{
		Code: ErrCodeDeadlineExceeded, Message: fmt.Sprintf("Source %s did not finish before the run deadline.", source),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: false,
		Details: map[string]any{"source": source},
	}
}

// AlreadyFinalized reports a finalize on a run that already has a terminal status.
func AlreadyFinalized(runID string) *AppError {
	return &AppError{
		Code: ErrCodeAlreadyFinalized, Message: "The run has already been finalized.",
		HTTPStatus: http.StatusConflict, Retryable: false,
		Details: map[string]any{"run_id": runID},
	}
}

// --- Resource / input ---

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// --- Internal ---

// Persistence wraps a run store failure for operation op.
func Persistence(op string, cause error) *AppError {
	return &AppError{
		Code: ErrCodePersistence, Message: fmt.Sprintf("The run store failed during %s.", op),
		HTTPStatus: http.StatusInternalServerError, Retryable: true,
		Details: map[string]any{"operation": op}, Cause: cause,
	}
}

// Internal creates a new AppError for an internal server error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// Unavailable reports that the service cannot take the request right now.
func Unavailable(reason string) *AppError {
	return &AppError{
		Code: ErrCodeUnavailable, Message: reason,
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
	}
}

// CodeOf returns the AppError code of err, or the dynamic Go type name of the
// innermost error when err carries no AppError. Returns "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return string(appErr.Code)
	}
	inner := err
	for {
		next := stderrors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	t := reflect.TypeOf(inner)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}
