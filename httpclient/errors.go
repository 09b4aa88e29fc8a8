package httpclient

import (
	"errors"
	"fmt"

	apperrors "github.com/kbukum/fanout/errors"
)

var errMissingHost = errors.New("missing host")

// BodyTooLargeError is returned by the transport when a response exceeds MaxBodyBytes.
type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("httpclient: response body exceeds %d bytes", e.Limit)
}

// RequestError means the request could not be built, so nothing was sent.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("httpclient: %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// errNilResponse is reported when a Transport returns neither a response nor an error.
var errNilResponse = errors.New("httpclient: transport returned no response")

// surface builds the error returned once the attempt loop stops. A
// retryable failure that ran out of attempts is transient; anything else
// is permanent.
func surface(target string, status, attempts int, retryable bool, cause error) *apperrors.AppError {
	if cause == nil && status > 0 {
		cause = fmt.Errorf("HTTP %d", status)
	}
	if retryable {
		return apperrors.TransientUpstream(target, status, attempts, cause)
	}
	return apperrors.PermanentUpstream(target, status, cause).WithDetail("attempts", attempts)
}
