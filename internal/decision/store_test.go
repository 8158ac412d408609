package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"docmerge/internal/docmodel"
	"docmerge/internal/merge"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func samplePending() Pending {
	return Pending{
		Token: "dec_1",
		Request: merge.Request{
			Ref:         "doc-1",
			Content:     "New paragraph",
			SectionHint: "Notes",
			Options:     docmodel.DefaultMergeOptions(),
		},
		Decision:  &merge.Decision{AffectedAnnotationIDs: []string{"c1"}},
		CreatedBy: "editor",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestRedisSaveAndTake(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, samplePending(), time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Take(ctx, "dec_1")
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if got.Request.SectionHint != "Notes" || got.Decision == nil || got.Decision.AffectedAnnotationIDs[0] != "c1" {
		t.Fatalf("Take() = %+v", got)
	}
	if _, err := store.Take(ctx, "dec_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Take() error = %v", err)
	}
}

func TestRedisTakeExpired(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, samplePending(), time.Second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := store.Take(ctx, "dec_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Take() error = %v, want ErrNotFound", err)
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	store, s := setupTestRedis(t)
	if err := store.Save(context.Background(), samplePending(), time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !s.Exists("docmerge:decision:dec_1") {
		t.Fatalf("keys = %v", s.Keys())
	}
	if ttl := s.TTL("docmerge:decision:dec_1"); ttl != time.Minute {
		t.Fatalf("TTL = %v", ttl)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Save(ctx, samplePending(), time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Take(ctx, "dec_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Take() error = %v, want ErrNotFound", err)
	}

	if err := store.Save(ctx, samplePending(), time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Take(ctx, "dec_1")
	if err != nil || got.CreatedBy != "editor" {
		t.Fatalf("Take() = %+v, %v", got, err)
	}
}

func TestMemoryStoreSaveSweepsExpiredEntries(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	stale := samplePending()
	stale.Token = "dec_stale"
	if err := store.Save(ctx, stale, time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	live := samplePending()
	live.Token = "dec_live"
	if err := store.Save(ctx, live, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := store.Save(ctx, samplePending(), time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, ok := store.entries["dec_stale"]; ok {
		t.Fatal("expired entry survived Save")
	}
	if len(store.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(store.entries))
	}
}
