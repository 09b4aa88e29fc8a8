package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_New_Retryable(t *testing.T) {
	err := New(ErrCodeTransientUpstream, "flaky", http.StatusBadGateway)
	if !err.Retryable {
		t.Error("TRANSIENT_UPSTREAM should be retryable")
	}
	if New(ErrCodeNotFound, "nope", http.StatusNotFound).Retryable {
		t.Error("NOT_FOUND should not be retryable")
	}
}

func TestAppError_CircuitOpen(t *testing.T) {
	err := CircuitOpen("api.example.com")
	if err.Code != ErrCodeCircuitOpen {
		t.Errorf("expected CIRCUIT_OPEN, got %s", err.Code)
	}
	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", err.HTTPStatus)
	}
	if err.Details["circuit_key"] != "api.example.com" {
		t.Errorf("expected circuit_key detail, got %v", err.Details)
	}
}

func TestAppError_TransientUpstream_StatusDetail(t *testing.T) {
	withStatus := TransientUpstream("svc", 503, 3, nil)
	if withStatus.Details["status"] != 503 {
		t.Errorf("expected status detail 503, got %v", withStatus.Details["status"])
	}
	noStatus := TransientUpstream("svc", 0, 3, context.DeadlineExceeded)
	if _, ok := noStatus.Details["status"]; ok {
		t.Error("expected no status detail for transport failure")
	}
	if !stderrors.Is(noStatus, context.DeadlineExceeded) {
		t.Error("expected cause to be reachable with errors.Is")
	}
}

func TestAppError_Error_IncludesCause(t *testing.T) {
	err := Persistence("create", fmt.Errorf("disk full"))
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
	if !strings.HasPrefix(err.Error(), "PERSISTENCE") {
		t.Errorf("expected code prefix, got %q", err.Error())
	}
}

func TestAppError_Is_MatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("call failed: %w", CircuitOpen("x"))
	if !stderrors.Is(wrapped, New(ErrCodeCircuitOpen, "", 0)) {
		t.Error("expected errors.Is to match on code")
	}
	if stderrors.Is(wrapped, New(ErrCodeNotFound, "", 0)) {
		t.Error("expected no match for a different code")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NotFound("run", "abc"))
	if !HasCode(err, ErrCodeNotFound) {
		t.Error("expected HasCode to find NOT_FOUND")
	}
	if HasCode(stderrors.New("plain"), ErrCodeNotFound) {
		t.Error("expected HasCode false for plain error")
	}
}

type lookupError struct{}

func (*lookupError) Error() string { return "lookup failed" }

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"app error", PermanentUpstream("svc", 400, nil), "PERMANENT_UPSTREAM"},
		{"wrapped app error", fmt.Errorf("x: %w", CircuitOpen("k")), "CIRCUIT_OPEN"},
		{"custom type", &lookupError{}, "lookupError"},
		{"wrapped custom type", fmt.Errorf("outer: %w", &lookupError{}), "lookupError"},
		{"context deadline", context.DeadlineExceeded, "deadlineExceededError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToResponse(t *testing.T) {
	resp := InvalidInput("size", "must be <= 100").ToResponse()
	if resp.Error.Code != ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", resp.Error.Code)
	}
	if resp.Error.Details["field"] != "size" {
		t.Errorf("expected field detail, got %v", resp.Error.Details)
	}
}
