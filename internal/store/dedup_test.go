package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDedupAcceptsOncePerWindow(t *testing.T) {
	ctx := context.Background()
	kv, clock := newMemoryKVWithClock()
	dedup := NewDedupStore(kv, time.Second)

	first, err := dedup.Accept(ctx, "tenant-a", "user-1", "mid.1", 10*time.Minute)
	if err != nil || !first {
		t.Fatalf("expected first delivery to be accepted, got %v err=%v", first, err)
	}
	again, err := dedup.Accept(ctx, "tenant-a", "user-1", "mid.1", 10*time.Minute)
	if err != nil || again {
		t.Fatalf("expected duplicate delivery to be suppressed, got %v err=%v", again, err)
	}

	clock.Advance(10 * time.Minute)
	afterWindow, err := dedup.Accept(ctx, "tenant-a", "user-1", "mid.1", 10*time.Minute)
	if err != nil || !afterWindow {
		t.Fatalf("expected delivery after the window to be accepted, got %v err=%v", afterWindow, err)
	}
}

func TestDedupKeysAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	dedup := NewDedupStore(NewMemoryKV(), time.Second)

	if ok, _ := dedup.Accept(ctx, "tenant-a", "user-1", "mid.1", time.Minute); !ok {
		t.Fatalf("expected tenant-a to accept")
	}
	if ok, _ := dedup.Accept(ctx, "tenant-b", "user-1", "mid.1", time.Minute); !ok {
		t.Fatalf("expected tenant-b to accept the same event id independently")
	}
}

func TestDedupWithoutEventIDAlwaysAccepts(t *testing.T) {
	ctx := context.Background()
	dedup := NewDedupStore(NewMemoryKV(), time.Second)

	for i := 0; i < 3; i++ {
		if ok, err := dedup.Accept(ctx, "tenant-a", "user-1", "  ", time.Minute); err != nil || !ok {
			t.Fatalf("expected id-less event to be accepted on call %d, got %v err=%v", i, ok, err)
		}
	}
}

func TestDedupConcurrentDeliveriesAcceptExactlyOne(t *testing.T) {
	ctx := context.Background()
	kv, _ := newTestRedisKV(t)
	dedup := NewDedupStore(kv, time.Second)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := dedup.Accept(ctx, "tenant-a", "user-1", "mid.race", time.Minute); err == nil && ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Fatalf("expected exactly one accepted delivery, got %d", got)
	}
}

func TestDedupReleaseAllowsRedelivery(t *testing.T) {
	ctx := context.Background()
	dedup := NewDedupStore(NewMemoryKV(), time.Second)

	if ok, err := dedup.Accept(ctx, "tenant-a", "user-1", "mid.1", time.Minute); err != nil || !ok {
		t.Fatalf("expected first delivery to be accepted, got %v err=%v", ok, err)
	}
	if err := dedup.Release(ctx, "tenant-a", "user-1", "mid.1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if ok, err := dedup.Accept(ctx, "tenant-a", "user-1", "mid.1", time.Minute); err != nil || !ok {
		t.Fatalf("expected released event to be accepted again, got %v err=%v", ok, err)
	}
	if err := dedup.Release(ctx, "tenant-a", "user-1", " "); err != nil {
		t.Fatalf("releasing an event without id should be a no-op, got %v", err)
	}
}
