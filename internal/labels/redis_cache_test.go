package labels

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache("not a url", time.Minute); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestRedisCacheSetAndGet(t *testing.T) {
	cache, _ := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	if err := cache.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	want := []string{"public", "group_id-o1"}
	if err := cache.Set(ctx, "u1", want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := cache.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get = %v, want %v", got, want)
	}
}

func TestRedisCacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t, time.Minute)
	_, ok, err := cache.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected a cache miss")
	}
}

func TestRedisCacheExpires(t *testing.T) {
	cache, s := setupTestRedis(t, time.Second)
	ctx := context.Background()
	if err := cache.Set(ctx, "u1", []string{"public"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, ok, _ := cache.Get(ctx, "u1"); ok {
		t.Error("expected entry to expire")
	}
}

func TestRedisCacheInvalidate(t *testing.T) {
	cache, s := setupTestRedis(t, time.Minute)
	ctx := context.Background()
	_ = cache.Set(ctx, "u1", []string{"public"})
	_ = cache.Set(ctx, "u2", []string{"public", "sysadmin"})

	if err := cache.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if s.Exists("labels:u1") {
		t.Error("labels:u1 still present")
	}
	if !s.Exists("labels:u2") {
		t.Error("labels:u2 should be untouched")
	}
	if err := cache.Invalidate(ctx, "missing"); err != nil {
		t.Errorf("Invalidate of missing key failed: %v", err)
	}
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	cache, s := setupTestRedis(t, time.Minute)
	if err := s.Set("labels:u1", "not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, _, err := cache.Get(context.Background(), "u1"); err == nil {
		t.Error("expected decode error")
	}
}
