package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/resilience"
)

type countingTransport struct {
	calls atomic.Int32
	fn    func(call int32, req Request) (*Response, error)
}

func (t *countingTransport) RoundTrip(ctx context.Context, req Request) (*Response, error) {
	n := t.calls.Add(1)
	return t.fn(n, req)
}

func statusTransport(statuses ...int) *countingTransport {
	return &countingTransport{fn: func(call int32, _ Request) (*Response, error) {
		idx := int(call) - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		return &Response{StatusCode: statuses[idx], Body: []byte(`{}`)}, nil
	}}
}

func newTestClient(t *testing.T, maxAttempts int, tr Transport, breaker *resilience.CircuitBreaker, limiter *resilience.ConcurrencyLimiter) *Client {
	t.Helper()
	c, err := New(Config{
		Retry: resilience.RetryPolicy{MaxAttempts: maxAttempts, BaseBackoff: time.Millisecond},
	}, breaker, limiter, WithTransport(tr))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestClient_Execute_GET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/users/123" {
			t.Errorf("expected /users/123, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("verbose") != "1" {
			t.Errorf("expected verbose=1, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "Alice"})
	}))
	defer srv.Close()

	c, err := New(Config{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := c.Execute(context.Background(), Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/users/123",
		Query:  map[string]string{"verbose": "1"},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsSuccess() || resp.Attempts != 1 {
		t.Errorf("expected 1 successful attempt, got status %d attempts %d", resp.StatusCode, resp.Attempts)
	}
	if !strings.Contains(string(resp.Body), "Alice") {
		t.Errorf("response body should contain Alice, got %s", string(resp.Body))
	}
}

func TestClient_Execute_POSTJSONWithAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer s3cret" {
			t.Errorf("expected bearer auth, got %q", auth)
		}
		if ua := r.Header.Get("User-Agent"); ua != defaultUserAgent {
			t.Errorf("expected default user agent, got %q", ua)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, _ := New(Config{}, nil, nil)
	resp, err := c.Execute(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   map[string]string{"name": "Bob"},
		Auth:   &AuthConfig{Type: AuthBearer, Token: "s3cret"},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
}

func TestClient_CircuitOpensAfterThreshold(t *testing.T) {
	tr := statusTransport(http.StatusInternalServerError)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	c := newTestClient(t, 1, tr, breaker, nil)

	for i := 0; i < 3; i++ {
		_, err := c.Execute(context.Background(), Request{URL: "https://x.example.com/a"}, "x")
		if !apperrors.HasCode(err, apperrors.ErrCodeTransientUpstream) {
			t.Fatalf("call %d: expected TRANSIENT_UPSTREAM, got %v", i+1, err)
		}
	}

	_, err := c.Execute(context.Background(), Request{URL: "https://x.example.com/a"}, "x")
	if !apperrors.HasCode(err, apperrors.ErrCodeCircuitOpen) {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", err)
	}
	if got := tr.calls.Load(); got != 3 {
		t.Errorf("expected no network attempt on 4th call, transport saw %d calls", got)
	}
	if c.limiter.InUse() != 0 {
		t.Errorf("expected no slot held, got %d", c.limiter.InUse())
	}
}

func TestClient_RetriesRetryableStatus(t *testing.T) {
	tr := statusTransport(http.StatusServiceUnavailable, http.StatusOK)
	c := newTestClient(t, 3, tr, nil, nil)

	resp, err := c.Execute(context.Background(), Request{URL: "https://api.example.com"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Attempts != 2 || tr.calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d (transport %d)", resp.Attempts, tr.calls.Load())
	}
	if got := c.Breaker().Snapshot("api.example.com").ConsecutiveFailures; got != 0 {
		t.Errorf("expected failures reset after success, got %d", got)
	}
}

func TestClient_PermanentStatusNotRetried(t *testing.T) {
	tr := statusTransport(http.StatusBadRequest)
	c := newTestClient(t, 3, tr, nil, nil)

	_, err := c.Execute(context.Background(), Request{URL: "https://api.example.com"}, "")
	if !apperrors.HasCode(err, apperrors.ErrCodePermanentUpstream) {
		t.Fatalf("expected PERMANENT_UPSTREAM, got %v", err)
	}
	if tr.calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", tr.calls.Load())
	}
	if got := c.Breaker().Snapshot("api.example.com").ConsecutiveFailures; got != 1 {
		t.Errorf("expected permanent failure reported to breaker, got %d", got)
	}
}

func TestClient_ExhaustedRetriesSurfaceTransient(t *testing.T) {
	tr := statusTransport(http.StatusBadGateway)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 10})
	c := newTestClient(t, 3, tr, breaker, nil)

	_, err := c.Execute(context.Background(), Request{URL: "https://api.example.com"}, "")
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeTransientUpstream {
		t.Fatalf("expected TRANSIENT_UPSTREAM, got %v", err)
	}
	if appErr.Details["status"] != http.StatusBadGateway || appErr.Details["attempts"] != 3 {
		t.Errorf("unexpected details: %v", appErr.Details)
	}
	if got := breaker.Snapshot("api.example.com").ConsecutiveFailures; got != 3 {
		t.Errorf("expected every attempt reported, got %d failures", got)
	}
}

func TestClient_AllowedStatusIsSuccess(t *testing.T) {
	tr := statusTransport(http.StatusNotFound)
	c := newTestClient(t, 3, tr, nil, nil)

	resp, err := c.Execute(context.Background(), Request{URL: "https://api.example.com", AllowedStatuses: []int{http.StatusNotFound}}, "lookup")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound || tr.calls.Load() != 1 {
		t.Errorf("expected single 404 response, got %d after %d calls", resp.StatusCode, tr.calls.Load())
	}
}

func TestClient_DefaultKeyIsHost(t *testing.T) {
	tr := statusTransport(http.StatusInternalServerError)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1})
	c := newTestClient(t, 1, tr, breaker, nil)

	_, _ = c.Execute(context.Background(), Request{URL: "https://a.example.com:8443/one"}, "")

	if breaker.State("a.example.com:8443") != resilience.StateOpen {
		t.Errorf("expected host:port key to be open, keys=%v", breaker.Keys())
	}
	_, err := c.Execute(context.Background(), Request{URL: "https://a.example.com:8443/two"}, "")
	if !apperrors.HasCode(err, apperrors.ErrCodeCircuitOpen) {
		t.Errorf("expected same host to share a circuit, got %v", err)
	}
	_, err = c.Execute(context.Background(), Request{URL: "https://b.example.com/one"}, "")
	if apperrors.HasCode(err, apperrors.ErrCodeCircuitOpen) {
		t.Error("expected other host to be unaffected")
	}
}

func TestClient_RetriesTransportTimeout(t *testing.T) {
	tr := &countingTransport{fn: func(call int32, _ Request) (*Response, error) {
		if call == 1 {
			return nil, context.DeadlineExceeded
		}
		return &Response{StatusCode: http.StatusOK}, nil
	}}
	c := newTestClient(t, 2, tr, nil, nil)

	resp, err := c.Execute(context.Background(), Request{URL: "https://api.example.com"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", resp.Attempts)
	}
}

func TestClient_PerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(Config{
		Timeout: 30 * time.Millisecond,
		Retry:   resilience.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond},
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	_, err = c.Execute(context.Background(), Request{URL: srv.URL}, "slow")
	if !apperrors.HasCode(err, apperrors.ErrCodeTransientUpstream) {
		t.Fatalf("expected TRANSIENT_UPSTREAM, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("per-attempt timeout not applied, took %v", time.Since(start))
	}
}

func TestClient_LimiterUnavailable(t *testing.T) {
	limiter := resilience.NewConcurrencyLimiter(resilience.LimiterConfig{Capacity: 1})
	release, _ := limiter.Acquire(context.Background())
	defer release()

	tr := statusTransport(http.StatusOK)
	c := newTestClient(t, 1, tr, nil, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, Request{URL: "https://api.example.com"}, "")
	if !apperrors.HasCode(err, apperrors.ErrCodeLimiterUnavailable) {
		t.Fatalf("expected LIMITER_UNAVAILABLE, got %v", err)
	}
	if tr.calls.Load() != 0 {
		t.Error("expected no transport call without a slot")
	}
}

func TestClient_ReleasesSlotOnEveryPath(t *testing.T) {
	limiter := resilience.NewConcurrencyLimiter(resilience.LimiterConfig{Capacity: 2})
	tr := &countingTransport{fn: func(call int32, _ Request) (*Response, error) {
		switch call {
		case 1:
			return &Response{StatusCode: http.StatusOK}, nil
		case 2:
			return &Response{StatusCode: http.StatusForbidden}, nil
		default:
			return nil, context.DeadlineExceeded
		}
	}}
	c := newTestClient(t, 1, tr, nil, limiter)

	for i := 0; i < 3; i++ {
		_, _ = c.Execute(context.Background(), Request{URL: "https://api.example.com"}, "k")
		if limiter.InUse() != 0 {
			t.Fatalf("call %d leaked a slot", i+1)
		}
	}
}

func TestClient_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 64))
	}))
	defer srv.Close()

	c, _ := New(Config{MaxBodyBytes: 16}, nil, nil)
	_, err := c.Execute(context.Background(), Request{URL: srv.URL}, "")
	if !apperrors.HasCode(err, apperrors.ErrCodePermanentUpstream) {
		t.Fatalf("expected PERMANENT_UPSTREAM, got %v", err)
	}
}

func TestClient_LogsAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&logger.Config{Level: "debug", Format: "json"}, "test", &buf)
	tr := statusTransport(http.StatusServiceUnavailable, http.StatusOK)
	c, err := New(Config{Retry: resilience.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond}},
		nil, nil, WithTransport(tr), WithLogger(log))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.Execute(context.Background(), Request{URL: "https://api.example.com/v1/lookup?email=jane.doe@example.com"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "jane.doe") {
		t.Errorf("log leaked query input: %s", out)
	}
	if !strings.Contains(out, "retrying") || !strings.Contains(out, "backoff_ms") {
		t.Errorf("expected retry event with backoff, got %s", out)
	}
}

func TestClient_InvalidURL(t *testing.T) {
	c := newTestClient(t, 1, statusTransport(http.StatusOK), nil, nil)
	_, err := c.Execute(context.Background(), Request{URL: "/relative/only"}, "")
	if !apperrors.HasCode(err, apperrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestClient_UnbuildableRequestLeavesCircuitClosed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	c, err := New(Config{}, breaker, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Request{URL: srv.URL, Headers: map[string]string{"X-Query": "evil\r\ninput"}}
	for i := 0; i < 3; i++ {
		_, err := c.Execute(context.Background(), bad, "directory")
		if !apperrors.HasCode(err, apperrors.ErrCodeInvalidInput) {
			t.Fatalf("call %d: expected INVALID_INPUT, got %v", i+1, err)
		}
	}
	if rec := breaker.Snapshot("directory"); rec.State != resilience.StateClosed || rec.ConsecutiveFailures != 0 {
		t.Fatalf("breaker blamed the upstream: %+v", rec)
	}

	good := Request{URL: srv.URL, Headers: map[string]string{"X-Query": "good@example.com"}}
	if _, err := c.Execute(context.Background(), good, "directory"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected only the valid request on the wire, got %d", got)
	}
	if c.limiter.InUse() != 0 {
		t.Errorf("expected no slot held, got %d", c.limiter.InUse())
	}
}

func TestClient_NilResponseIsTransportFailure(t *testing.T) {
	tr := &countingTransport{fn: func(int32, Request) (*Response, error) { return nil, nil }}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	c := newTestClient(t, 3, tr, breaker, nil)

	_, err := c.Execute(context.Background(), Request{URL: "https://x.example.com"}, "x")
	if !apperrors.HasCode(err, apperrors.ErrCodePermanentUpstream) {
		t.Fatalf("expected PERMANENT_UPSTREAM, got %v", err)
	}
	if got := tr.calls.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
	if rec := breaker.Snapshot("x"); rec.State != resilience.StateOpen {
		t.Errorf("expected the failure to be recorded, got %+v", rec)
	}
}

func TestClient_AttemptsContinueAfterCircuitOpens(t *testing.T) {
	tr := statusTransport(http.StatusServiceUnavailable)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	c := newTestClient(t, 4, tr, breaker, nil)

	_, err := c.Execute(context.Background(), Request{URL: "https://x.example.com"}, "x")
	if !apperrors.HasCode(err, apperrors.ErrCodeTransientUpstream) {
		t.Fatalf("expected TRANSIENT_UPSTREAM, got %v", err)
	}
	if got := tr.calls.Load(); got != 4 {
		t.Errorf("an admitted call keeps its attempt budget, got %d attempts", got)
	}
	if breaker.State("x") != resilience.StateOpen {
		t.Errorf("expected open breaker, got %v", breaker.State("x"))
	}

	if _, err := c.Execute(context.Background(), Request{URL: "https://x.example.com"}, "x"); !apperrors.HasCode(err, apperrors.ErrCodeCircuitOpen) {
		t.Errorf("expected CIRCUIT_OPEN for the next call, got %v", err)
	}
	if got := tr.calls.Load(); got != 4 {
		t.Errorf("rejected call reached the transport")
	}
}

func TestHostKey(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://API.example.com/path", "api.example.com"},
		{"http://api.example.com:8080/x", "api.example.com:8080"},
		{"http://[::1]:9000/", "[::1]:9000"},
	}
	for _, tt := range tests {
		got, err := HostKey(tt.url)
		if err != nil || got != tt.want {
			t.Errorf("HostKey(%q) = %q, %v; want %q", tt.url, got, err, tt.want)
		}
	}
	if _, err := HostKey("no-host"); err == nil {
		t.Error("expected error for URL without host")
	}
}
