package accesstrack

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeStore struct {
	touched map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{touched: make(map[string]time.Time)}
}

func (f *fakeStore) TouchLastAccessed(previewId string, when time.Time) error {
	f.touched[previewId] = when
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTouchDegradesToWriteThroughWithoutRedis(t *testing.T) {
	store := newFakeStore()
	tracker := New(nil, store, testLogger())

	now := time.Now().UTC()
	tracker.Touch(context.Background(), "branch-main", now)

	if !store.touched["branch-main"].Equal(now) {
		t.Fatalf("expected direct write-through when redis is nil")
	}
}

func TestTouchBuffersInRedisAndFlushes(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	store := newFakeStore()
	tracker := New(client, store, testLogger())

	now := time.Now().UTC()
	tracker.Touch(context.Background(), "branch-main", now)

	if _, touched := store.touched["branch-main"]; touched {
		t.Fatalf("expected the touch to stay buffered in redis, not hit the store yet")
	}

	flushed, err := tracker.FlushTouches(context.Background())
	if err != nil {
		t.Fatalf("FlushTouches: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("expected 1 flushed touch, got %d", flushed)
	}
	if store.touched["branch-main"].UnixNano() != now.UnixNano() {
		t.Fatalf("flushed touch does not match buffered value")
	}
}

func TestFlushTouchesNoopWithoutRedis(t *testing.T) {
	tracker := New(nil, newFakeStore(), testLogger())
	flushed, err := tracker.FlushTouches(context.Background())
	if err != nil || flushed != 0 {
		t.Fatalf("expected no-op flush without redis, got flushed=%d err=%v", flushed, err)
	}
}

func TestLockWithoutRedisAlwaysUncontested(t *testing.T) {
	tracker := New(nil, newFakeStore(), testLogger())
	release, err := tracker.Lock(context.Background(), "branch-main", time.Second)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	release()
}

func TestLockWithRedisPreventsDoubleAcquire(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	tracker := New(client, newFakeStore(), testLogger())

	release, err := tracker.Lock(context.Background(), "branch-main", time.Minute)
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	if _, err := tracker.Lock(context.Background(), "branch-main", time.Minute); err == nil {
		t.Fatalf("expected second Lock on the same key to fail while the first is held")
	}

	release()

	release2, err := tracker.Lock(context.Background(), "branch-main", time.Minute)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	release2()
}
