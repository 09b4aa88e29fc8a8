package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/fanout/logger"
)

// newTestClient creates a Client backed by miniredis.
func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)

	cfg := Config{Enabled: true, Addr: mini.Addr()}
	client, err := New(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mini
}

type sourceStats struct {
	Calls   int      `json:"calls"`
	Sources []string `json:"sources,omitempty"`
}

func TestTypedStore_SaveAndLoad(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewTypedStore[sourceStats](client, "test")
	ctx := context.Background()

	if err := store.Save(ctx, "k1", &sourceStats{Calls: 5, Sources: []string{"a", "b"}}, 0); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, "k1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || got.Calls != 5 || len(got.Sources) != 2 {
		t.Fatalf("unexpected value %+v", got)
	}
}

func TestTypedStore_LoadMissing(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewTypedStore[sourceStats](client, "test")

	got, err := store.Load(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %+v", got)
	}
}

func TestTypedStore_LoadManySkipsMissing(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewTypedStore[sourceStats](client, "test")
	ctx := context.Background()

	_ = store.Save(ctx, "a", &sourceStats{Calls: 1}, 0)
	_ = store.Save(ctx, "c", &sourceStats{Calls: 3}, 0)

	got, err := store.LoadMany(ctx, "a", "b", "c")
	if err != nil {
		t.Fatalf("LoadMany failed: %v", err)
	}
	if len(got) != 2 || got[0].Calls != 1 || got[1].Calls != 3 {
		t.Fatalf("unexpected values %+v", got)
	}

	empty, err := store.LoadMany(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected nothing for no keys, got %v, %v", empty, err)
	}
}

func TestTypedStore_Delete(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewTypedStore[sourceStats](client, "test")
	ctx := context.Background()

	_ = store.Save(ctx, "k1", &sourceStats{Calls: 1}, 0)
	if err := store.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := store.Load(ctx, "k1")
	if err != nil || got != nil {
		t.Fatalf("expected nil after delete, got %+v, %v", got, err)
	}
}

func TestTypedStore_TTL(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewTypedStore[sourceStats](client, "test")
	ctx := context.Background()

	if err := store.Save(ctx, "k1", &sourceStats{Calls: 1}, 2*time.Second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if got, _ := store.Load(ctx, "k1"); got == nil {
		t.Fatal("expected value before TTL")
	}

	mini.FastForward(3 * time.Second)

	if got, _ := store.Load(ctx, "k1"); got != nil {
		t.Fatalf("expected nil after TTL expiration, got %+v", got)
	}
}

func TestTypedStore_KeyPrefix(t *testing.T) {
	client, mini := newTestClient(t)
	ctx := context.Background()

	_ = NewTypedStore[sourceStats](client, "myprefix").Save(ctx, "k1", &sourceStats{Calls: 42}, 0)
	if raw, err := mini.Get("myprefix:k1"); err != nil || raw == "" {
		t.Fatalf("expected prefixed key in Redis, got %q, %v", raw, err)
	}

	_ = NewTypedStore[sourceStats](client, "").Save(ctx, "bare-key", &sourceStats{Calls: 1}, 0)
	if raw, err := mini.Get("bare-key"); err != nil || raw == "" {
		t.Fatalf("expected bare key in Redis, got %q, %v", raw, err)
	}
}
