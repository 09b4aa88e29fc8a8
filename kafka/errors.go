package kafka

import (
	"context"
	"errors"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
)

// IsConnectionError checks if a Kafka error is a connection-level error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	connectionPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"broker not available",
		"leader not available",
		"connection closed",
		"dial tcp",
	}
	for _, p := range connectionPatterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// IsRetryableError determines if a publish error should be retried.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var kerr kafkago.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}
	if IsConnectionError(err) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, p := range []string{"temporary", "request timed out", "not enough replicas"} {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}
