package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/analytics-datacube/internal/cache/redisstore"
)

func newLedger(t *testing.T, ttl time.Duration) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisLedger(rc, ttl), mr
}

func TestLedger_Lifecycle(t *testing.T) {
	l, mr := newLedger(t, time.Hour)
	ctx := context.Background()

	started := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	rec := Record{RunID: "r-1", EntityID: "entity_1", Status: Processing, Provider: "AWS_S3", Indicators: []string{"NDVI"}, StartedAt: started}
	if err := l.Put(ctx, rec); err != nil {
		t.Fatalf("Put processing: %v", err)
	}
	if !mr.Exists("run:r-1") {
		t.Fatalf("expected key run:r-1 in redis; keys=%v", mr.Keys())
	}
	if ttl := mr.TTL("run:r-1"); ttl != time.Hour {
		t.Fatalf("ttl got %v want 1h", ttl)
	}

	rec.Status = Ready
	rec.StorageLink = "s3://bucket/entity_1_x.zarr"
	if err := l.Put(ctx, rec); err != nil {
		t.Fatalf("Put ready: %v", err)
	}

	got, err := l.Get(ctx, "r-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != Ready || got.StorageLink != rec.StorageLink || !got.StartedAt.Equal(started) {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt not stamped")
	}
}

func TestLedger_NotFoundAndExpiry(t *testing.T) {
	l, mr := newLedger(t, time.Minute)
	ctx := context.Background()

	if _, err := l.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v want ErrNotFound", err)
	}

	if err := l.Put(ctx, Record{RunID: "r-2", Status: Error, Error: "boom"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := l.Get(ctx, "r-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record: got %v want ErrNotFound", err)
	}

	if err := l.Put(ctx, Record{}); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}

func TestLedger_CorruptRecord(t *testing.T) {
	l, mr := newLedger(t, time.Minute)
	if err := mr.Set("run:bad", "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Get(context.Background(), "bad"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
