package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := NewRedisKVFromClient(client)
	t.Cleanup(func() { _ = kv.Close() })
	return kv, mr
}

func TestRedisKVSetNXHonoursTTL(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestRedisKV(t)

	ok, err := kv.SetNX(ctx, "dedup:t:s:e", "1", 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = kv.SetNX(ctx, "dedup:t:s:e", "1", 10*time.Minute)
	if err != nil || ok {
		t.Fatalf("expected duplicate SetNX to be rejected, got ok=%v err=%v", ok, err)
	}

	mr.FastForward(10*time.Minute + time.Second)

	ok, err = kv.SetNX(ctx, "dedup:t:s:e", "1", 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected SetNX after expiry to succeed, got ok=%v err=%v", ok, err)
	}
}

func TestRedisKVGetMissing(t *testing.T) {
	kv, _ := newTestRedisKV(t)
	if _, err := kv.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisKVSetWritesValueAndTTL(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestRedisKV(t)

	if err := kv.Set(ctx, "sess:t:s", `{"tenantId":"t"}`, 30*time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if ttl := mr.TTL("sess:t:s"); ttl != 30*time.Minute {
		t.Fatalf("expected ttl 30m, got %s", ttl)
	}
	if ok, err := kv.Expire(ctx, "sess:t:s", time.Hour); err != nil || !ok {
		t.Fatalf("expire failed: ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("sess:t:s"); ttl != time.Hour {
		t.Fatalf("expected refreshed ttl 1h, got %s", ttl)
	}
}

func TestRedisKVCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestRedisKV(t)

	_ = kv.Set(ctx, "lock:t:s", "mine", time.Minute)
	if ok, err := kv.CompareAndDelete(ctx, "lock:t:s", "theirs"); err != nil || ok {
		t.Fatalf("expected foreign token to be refused, got ok=%v err=%v", ok, err)
	}
	if !mr.Exists("lock:t:s") {
		t.Fatalf("expected lock to survive a foreign release")
	}
	if ok, err := kv.CompareAndDelete(ctx, "lock:t:s", "mine"); err != nil || !ok {
		t.Fatalf("expected owner release to succeed, got ok=%v err=%v", ok, err)
	}
	if mr.Exists("lock:t:s") {
		t.Fatalf("expected lock to be released")
	}
}

func TestRedisKVCompareAndExpire(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestRedisKV(t)

	_ = kv.Set(ctx, "lock:t:s", "mine", time.Second)
	if ok, err := kv.CompareAndExpire(ctx, "lock:t:s", "theirs", time.Minute); err != nil || ok {
		t.Fatalf("expected foreign token to be refused, got ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("lock:t:s"); ttl != time.Second {
		t.Fatalf("expected ttl untouched by a foreign renewal, got %s", ttl)
	}
	if ok, err := kv.CompareAndExpire(ctx, "lock:t:s", "mine", time.Minute); err != nil || !ok {
		t.Fatalf("expected owner renewal to succeed, got ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("lock:t:s"); ttl != time.Minute {
		t.Fatalf("expected renewed ttl 1m, got %s", ttl)
	}
}

func TestRedisKVSetIfEqual(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestRedisKV(t)

	_ = kv.Set(ctx, "lock:t:s", "mine", time.Minute)
	if ok, err := kv.SetIfEqual(ctx, "lock:t:s", "theirs", "sess:t:s", "v1", time.Hour); err != nil || ok {
		t.Fatalf("expected write under a foreign token to be refused, got ok=%v err=%v", ok, err)
	}
	if mr.Exists("sess:t:s") {
		t.Fatalf("expected refused write to leave no value")
	}
	if ok, err := kv.SetIfEqual(ctx, "lock:t:s", "mine", "sess:t:s", "v2", time.Hour); err != nil || !ok {
		t.Fatalf("expected write under the held token to succeed, got ok=%v err=%v", ok, err)
	}
	if v, _ := mr.Get("sess:t:s"); v != "v2" {
		t.Fatalf("expected v2, got %q", v)
	}
	if ttl := mr.TTL("sess:t:s"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %s", ttl)
	}

	mr.Del("lock:t:s")
	if ok, err := kv.SetIfEqual(ctx, "lock:t:s", "mine", "sess:t:s", "v3", time.Hour); err != nil || ok {
		t.Fatalf("expected write after the guard expired to be refused, got ok=%v err=%v", ok, err)
	}
}
