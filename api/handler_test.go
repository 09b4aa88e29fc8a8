package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/orchestrator"
	"github.com/kbukum/fanout/run"
	"github.com/kbukum/fanout/server"
	"github.com/kbukum/fanout/source"
	"github.com/kbukum/fanout/sse"
)

type fakeCatalog struct{}

func (fakeCatalog) QueryTypes() []string { return []string{"email"} }

func (fakeCatalog) Tasks(queryType, input string) ([]source.Task, error) {
	if queryType != "email" {
		return nil, apperrors.InvalidInput("query_type", "unknown query type "+queryType)
	}
	return []source.Task{
		source.FromFunc("directory", func(context.Context) (any, error) {
			return map[string]string{"input": input}, nil
		}),
	}, nil
}

type envelope struct {
	Data  json.RawMessage      `json:"data"`
	Meta  *run.Pagination      `json:"meta"`
	Error *apperrors.ErrorBody `json:"error"`
}

func newTestAPI(t *testing.T) (http.Handler, *orchestrator.Orchestrator) {
	t.Helper()
	orch, err := orchestrator.New(run.NewMemoryStore(), nil, orchestrator.Config{})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	cfg := server.Config{}
	cfg.ApplyDefaults()
	srv := server.New(cfg, nil)
	NewHandler(orch, fakeCatalog{}, nil).Register(srv.Engine())
	return srv.Handler(), orch
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr, env
}

func waitIdle(t *testing.T, orch *orchestrator.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := orch.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSubmitLookupAndGetRun(t *testing.T) {
	h, orch := newTestAPI(t)

	rr, env := do(t, h, http.MethodPost, "/api/v1/lookups", lookupRequest{
		OwnerID: "alice", QueryType: "email", QueryInput: "a@b.io",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var handle orchestrator.Handle
	if err := json.Unmarshal(env.Data, &handle); err != nil {
		t.Fatalf("decode handle: %v", err)
	}
	if handle.ID == "" || handle.Status != run.StatusInProgress {
		t.Errorf("unexpected handle %+v", handle)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("expected request id header from middleware chain")
	}

	waitIdle(t, orch)

	rr, env = do(t, h, http.MethodGet, "/api/v1/runs/"+handle.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got run.Run
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if got.Status != run.StatusCompleted || got.OwnerID != "alice" || len(got.Outcomes) != 1 {
		t.Errorf("unexpected run %+v", got)
	}
	if string(got.Outcomes[0].Data) != `{"input":"a@b.io"}` {
		t.Errorf("unexpected outcome data %s", got.Outcomes[0].Data)
	}
}

func TestSubmitLookupRejectsBadInput(t *testing.T) {
	h, _ := newTestAPI(t)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"malformed json", `{"query_type":`, "body"},
		{"missing query type", lookupRequest{QueryInput: "x"}, "query_type"},
		{"missing input", lookupRequest{QueryType: "email"}, "query_input"},
		{"unknown query type", lookupRequest{QueryType: "fax", QueryInput: "x"}, "query_type"},
		{"control characters", lookupRequest{QueryType: "email", QueryInput: "evil\r\ninput"}, "query_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, env := do(t, h, http.MethodPost, "/api/v1/lookups", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if env.Error == nil || env.Error.Code != apperrors.ErrCodeInvalidInput {
				t.Fatalf("expected INVALID_INPUT envelope, got %s", rr.Body.String())
			}
			if env.Error.Details["field"] != tt.field {
				t.Errorf("expected field %q, got %v", tt.field, env.Error.Details)
			}
		})
	}
}

func TestGetRunErrors(t *testing.T) {
	h, _ := newTestAPI(t)

	if rr, _ := do(t, h, http.MethodGet, "/api/v1/runs/not-a-uuid", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", rr.Code)
	}
	rr, env := do(t, h, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil)
	if rr.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != apperrors.ErrCodeNotFound {
		t.Errorf("expected 404 NOT_FOUND, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestListRuns(t *testing.T) {
	h, orch := newTestAPI(t)
	for i := 0; i < 3; i++ {
		if rr, _ := do(t, h, http.MethodPost, "/api/v1/lookups", lookupRequest{
			OwnerID: "bob", QueryType: "email", QueryInput: "b@c.io",
		}); rr.Code != http.StatusAccepted {
			t.Fatalf("submit: %d", rr.Code)
		}
	}
	waitIdle(t, orch)

	rr, env := do(t, h, http.MethodGet, "/api/v1/runs?owner_id=bob&page=2&size=2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var runs []run.Run
	if err := json.Unmarshal(env.Data, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run on page 2, got %d", len(runs))
	}
	if env.Meta == nil || env.Meta.Total != 3 || env.Meta.TotalPages != 2 || env.Meta.Page != 2 {
		t.Errorf("unexpected meta %+v", env.Meta)
	}
}

func TestListRunsValidatesPaging(t *testing.T) {
	h, _ := newTestAPI(t)
	for _, q := range []string{"size=0", "size=101", "size=abc", "page=0"} {
		if rr, _ := do(t, h, http.MethodGet, "/api/v1/runs?"+q, nil); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rr.Code)
		}
	}
	if rr, _ := do(t, h, http.MethodGet, "/api/v1/runs?size=100", nil); rr.Code != http.StatusOK {
		t.Errorf("size=100: expected 200, got %d", rr.Code)
	}
}

func TestQueryTypes(t *testing.T) {
	h, _ := newTestAPI(t)
	rr, env := do(t, h, http.MethodGet, "/api/v1/query-types", nil)
	if rr.Code != http.StatusOK || string(env.Data) != `["email"]` {
		t.Errorf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
}

func TestWatchRun(t *testing.T) {
	orch, err := orchestrator.New(run.NewMemoryStore(), nil, orchestrator.Config{})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	hub := sse.NewHub(nil)
	cfg := server.Config{}
	cfg.ApplyDefaults()
	srv := server.New(cfg, nil)
	NewHandler(orch, fakeCatalog{}, nil).WithEvents(hub).Register(srv.Engine())
	h := srv.Handler()

	rr, env := do(t, h, http.MethodPost, "/api/v1/lookups", lookupRequest{QueryType: "email", QueryInput: "a@b.io"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit: %d", rr.Code)
	}
	var handle orchestrator.Handle
	if err := json.Unmarshal(env.Data, &handle); err != nil {
		t.Fatalf("decode handle: %v", err)
	}
	waitIdle(t, orch)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+handle.ID+"/events", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected stream response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(rec.Body.String(), "event: finalized\ndata: {") {
		t.Errorf("expected a finalized frame, got %q", rec.Body.String())
	}
	if hub.ClientCount() != 0 {
		t.Error("watcher left registered after the stream ended")
	}

	if rr, _ := do(t, h, http.MethodGet, "/api/v1/runs/not-a-uuid/events", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", rr.Code)
	}
	if rr, _ := do(t, h, http.MethodGet, "/api/v1/runs/"+uuid.NewString()+"/events", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rr.Code)
	}

	hub.Stop()
	rr, env = do(t, h, http.MethodGet, "/api/v1/runs/"+handle.ID+"/events", nil)
	if rr.Code != http.StatusServiceUnavailable || env.Error == nil || env.Error.Code != apperrors.ErrCodeUnavailable {
		t.Errorf("expected 503 after hub stop, got %d %s", rr.Code, rr.Body.String())
	}
}
