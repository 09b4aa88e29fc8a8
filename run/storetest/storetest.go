// Package storetest holds the behavioural checks every run.Store
// implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/run"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises s. newStore must return an empty store on every call.
func Run(t *testing.T, newStore func(t *testing.T) run.Store) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("AppendAndFinalize", func(t *testing.T) { testAppendAndFinalize(t, newStore(t)) })
	t.Run("FinalizeOnce", func(t *testing.T) { testFinalizeOnce(t, newStore(t)) })
	t.Run("FinalizeEmpty", func(t *testing.T) { testFinalizeEmpty(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
	t.Run("ListByOwner", func(t *testing.T) { testListByOwner(t, newStore(t)) })
	t.Run("ListStale", func(t *testing.T) { testListStale(t, newStore(t)) })
}

func outcome(name string, ok bool) run.Outcome {
	o := run.Outcome{Source: name, Success: ok, LatencyMs: 12, CompletedAt: base.Add(time.Second)}
	if ok {
		o.Found = true
		o.Confidence = 0.8
		o.Data = json.RawMessage(`{"hit":true}`)
	} else {
		o.ErrorCode = "TRANSIENT_UPSTREAM"
		o.Message = "upstream returned 503"
	}
	return o
}

func create(t *testing.T, s run.Store, owner string, at time.Time) *run.Run {
	t.Helper()
	r := run.New(owner, "email", "jane@example.com", at)
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return r
}

func testCreateAndGet(t *testing.T, s run.Store) {
	r := create(t, s, "owner-1", base)

	got, err := s.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != r.ID || got.OwnerID != "owner-1" || got.QueryType != "email" || got.QueryInput != "jane@example.com" {
		t.Errorf("unexpected run %+v", got)
	}
	if got.Status != run.StatusInProgress || len(got.Outcomes) != 0 || got.CompletedAt != nil {
		t.Errorf("expected fresh IN_PROGRESS run, got %+v", got)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("expected started_at %v, got %v", base, got.StartedAt)
	}
}

func testGetMissing(t *testing.T, s run.Store) {
	_, err := s.Get(context.Background(), "00000000-0000-4000-8000-000000000000")
	if !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func testAppendAndFinalize(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := create(t, s, "", base)

	for _, o := range []run.Outcome{outcome("a", true), outcome("b", false), outcome("c", true)} {
		if err := s.AppendOutcome(ctx, r.ID, o); err != nil {
			t.Fatalf("AppendOutcome: %v", err)
		}
	}

	done, err := s.Finalize(ctx, r.ID, 3, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if done.Status != run.StatusPartial {
		t.Errorf("expected PARTIAL, got %s", done.Status)
	}
	if done.TotalSources != 3 || done.SuccessfulSources != 2 || done.FailedSources != 1 {
		t.Errorf("unexpected counters %d/%d/%d", done.TotalSources, done.SuccessfulSources, done.FailedSources)
	}
	if done.DurationMs == nil || *done.DurationMs != 2000 {
		t.Errorf("expected duration 2000ms, got %v", done.DurationMs)
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Outcomes) != 3 || got.Outcomes[0].Source != "a" || got.Outcomes[1].ErrorCode != "TRANSIENT_UPSTREAM" {
		t.Errorf("unexpected outcomes %+v", got.Outcomes)
	}
	if string(got.Outcomes[0].Data) != `{"hit":true}` || got.Outcomes[1].Data != nil {
		t.Errorf("unexpected outcome data %q / %q", got.Outcomes[0].Data, got.Outcomes[1].Data)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("unexpected completed_at %v", got.CompletedAt)
	}
}

func testFinalizeOnce(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := create(t, s, "", base)
	if err := s.AppendOutcome(ctx, r.ID, outcome("a", false)); err != nil {
		t.Fatalf("AppendOutcome: %v", err)
	}
	done, err := s.Finalize(ctx, r.ID, 1, base.Add(time.Second))
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if done.Status != run.StatusFailed {
		t.Errorf("expected FAILED, got %s", done.Status)
	}

	if _, err := s.Finalize(ctx, r.ID, 1, base.Add(time.Minute)); !apperrors.HasCode(err, apperrors.ErrCodeAlreadyFinalized) {
		t.Errorf("expected ALREADY_FINALIZED on second finalize, got %v", err)
	}
	if err := s.AppendOutcome(ctx, r.ID, outcome("late", true)); !apperrors.HasCode(err, apperrors.ErrCodeAlreadyFinalized) {
		t.Errorf("expected ALREADY_FINALIZED on late append, got %v", err)
	}

	got, _ := s.Get(ctx, r.ID)
	if got.Status != run.StatusFailed || len(got.Outcomes) != 1 {
		t.Errorf("terminal run changed: %+v", got)
	}
}

func testFinalizeEmpty(t *testing.T, s run.Store) {
	r := create(t, s, "", base)
	done, err := s.Finalize(context.Background(), r.ID, 0, base)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if done.Status != run.StatusCompleted || done.TotalSources != 0 {
		t.Errorf("expected COMPLETED with no sources, got %+v", done)
	}
}

func testConcurrentAppends(t *testing.T, s run.Store) {
	ctx := context.Background()
	r := create(t, s, "", base)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.AppendOutcome(ctx, r.ID, outcome("src", i%2 == 0)); err != nil {
				t.Errorf("AppendOutcome: %v", err)
			}
		}(i)
	}
	wg.Wait()

	done, err := s.Finalize(ctx, r.ID, n, base.Add(time.Second))
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(done.Outcomes) != n || done.SuccessfulSources+done.FailedSources != n {
		t.Errorf("lost appends: %d outcomes, %d+%d counters", len(done.Outcomes), done.SuccessfulSources, done.FailedSources)
	}
}

func testListByOwner(t *testing.T, s run.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, create(t, s, "alice", base.Add(time.Duration(i)*time.Minute)).ID)
	}
	create(t, s, "bob", base)

	page1, total, err := s.ListByOwner(ctx, "alice", 1, 2)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if total != 5 || len(page1) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page1), total)
	}
	if page1[0].ID != ids[4] || page1[1].ID != ids[3] {
		t.Errorf("expected newest first")
	}

	page3, _, err := s.ListByOwner(ctx, "alice", 3, 2)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(page3) != 1 || page3[0].ID != ids[0] {
		t.Errorf("unexpected last page %v", page3)
	}

	all, total, err := s.ListByOwner(ctx, "", 1, 100)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if total != 6 || len(all) != 6 {
		t.Errorf("expected every run without owner filter, got %d of %d", len(all), total)
	}

	none, total, _ := s.ListByOwner(ctx, "carol", 1, 10)
	if total != 0 || len(none) != 0 {
		t.Errorf("expected no runs for carol")
	}
}

func testListStale(t *testing.T, s run.Store) {
	ctx := context.Background()
	old := create(t, s, "", base)
	create(t, s, "", base.Add(time.Hour))
	finished := create(t, s, "", base)
	if _, err := s.Finalize(ctx, finished.ID, 0, base.Add(time.Second)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	stale, err := s.ListStale(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Errorf("expected only %s, got %v", old.ID, stale)
	}
}
