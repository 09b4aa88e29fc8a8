package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/kbukum/fanout/component"
	"github.com/kbukum/fanout/run"
)

func seedStale(t *testing.T, store run.Store, startedAt time.Time, outcomes ...run.Outcome) *run.Run {
	t.Helper()
	r := run.New("owner", "email", "a@b.io", startedAt)
	if err := store.Create(context.Background(), r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, o := range outcomes {
		if err := store.AppendOutcome(context.Background(), r.ID, o); err != nil {
			t.Fatalf("AppendOutcome: %v", err)
		}
	}
	return r
}

func TestReaper_Sweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := run.NewMemoryStore()
	o, err := New(store, nil, Config{StaleAfter: 10 * time.Minute}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	old := now.Add(-time.Hour)
	empty := seedStale(t, store, old)
	partial := seedStale(t, store, old, run.Outcome{Source: "a", Success: true, CompletedAt: old})
	active := seedStale(t, store, old)
	fresh := seedStale(t, store, now.Add(-time.Minute))
	o.track(active.ID)

	reaper := NewReaper(o)
	n, err := reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 runs finalized, got %d", n)
	}

	got, _ := store.Get(context.Background(), empty.ID)
	if got.Status != run.StatusFailed || got.TotalSources != 1 {
		t.Errorf("expected FAILED with one outcome, got %s/%d", got.Status, got.TotalSources)
	}
	if out := got.Outcomes[0]; out.Source != AbandonedSource || out.ErrorCode != "RUN_DEADLINE_EXCEEDED" {
		t.Errorf("unexpected abandonment outcome %+v", out)
	}

	got, _ = store.Get(context.Background(), partial.ID)
	if got.Status != run.StatusPartial || got.SuccessfulSources != 1 || got.FailedSources != 1 {
		t.Errorf("expected PARTIAL 1/1, got %s %d/%d", got.Status, got.SuccessfulSources, got.FailedSources)
	}

	for _, id := range []string{active.ID, fresh.ID} {
		got, _ = store.Get(context.Background(), id)
		if got.Status != run.StatusInProgress {
			t.Errorf("run %s should still be in progress, got %s", id, got.Status)
		}
	}

	// A second sweep finds nothing new.
	if n, err := reaper.Sweep(context.Background()); err != nil || n != 0 {
		t.Errorf("second sweep: n=%d err=%v", n, err)
	}
	at, total, lastErr := reaper.LastSweep()
	if !at.Equal(now) || total != 2 || lastErr != nil {
		t.Errorf("unexpected LastSweep: %v %d %v", at, total, lastErr)
	}
	if h := reaper.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy reaper, got %s", h.Status)
	}
}

type staleErrorStore struct {
	run.Store
}

func (staleErrorStore) ListStale(context.Context, time.Time) ([]*run.Run, error) {
	return nil, context.DeadlineExceeded
}

func TestReaper_SweepFailureDegradesHealth(t *testing.T) {
	o := newTestOrchestrator(t, staleErrorStore{Store: run.NewMemoryStore()}, Config{})
	reaper := NewReaper(o)
	if _, err := reaper.Sweep(context.Background()); err == nil {
		t.Fatal("expected sweep error")
	}
	if h := reaper.Health(context.Background()); h.Status != component.StatusDegraded {
		t.Errorf("expected degraded, got %s", h.Status)
	}
}

func TestReaper_StartStop(t *testing.T) {
	o := newTestOrchestrator(t, run.NewMemoryStore(), Config{ReapSchedule: "@every 1h"})
	reaper := NewReaper(o)
	if reaper.Name() != "reaper" {
		t.Errorf("unexpected name %q", reaper.Name())
	}
	if err := reaper.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reaper.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if d := reaper.Describe(); d.Type != "cron" {
		t.Errorf("unexpected description %+v", d)
	}
}
