package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/kbukum/fanout/logger"
)

// slowRequest marks requests worth flagging in the log.
const slowRequest = 500 * time.Millisecond

// RequestLogger logs every request with method, path, status and duration.
// Health and metrics paths are skipped.
func RequestLogger(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newRecordingWriter(w)
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			fields := logger.MergeWithDuration(logger.Fields(
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"bytes", rw.bytes,
			), duration)
			if id := r.Header.Get(HeaderRequestID); id != "" {
				fields["request_id"] = id
			}
			if duration > slowRequest && !isEventStream(rw) {
				fields["slow"] = true
			}

			logByStatus(log, fields, rw.status)
		})
	}
}

func isHealthEndpoint(path string) bool {
	return path == "/metrics" || path == "/health" || strings.HasPrefix(path, "/health/")
}

func isEventStream(w http.ResponseWriter) bool {
	return strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream")
}

func logByStatus(log *logger.Logger, fields map[string]interface{}, status int) {
	switch {
	case status >= 500:
		log.Error("Request completed", fields)
	case status >= 400:
		log.Warn("Request completed", fields)
	default:
		log.Debug("Request completed", fields)
	}
}
