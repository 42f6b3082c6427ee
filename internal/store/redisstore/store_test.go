package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNilStore(t *testing.T) {
	var s *Store
	ctx := context.Background()

	release, ok, err := s.AcquireChatLock(ctx, 1, time.Second)
	if err != nil || !ok {
		t.Fatalf("nil store must grant locks: ok=%v err=%v", ok, err)
	}
	release()

	if _, found, err := s.CachedCredits(ctx, 1); found || err != nil {
		t.Fatalf("nil store has no cache: found=%v err=%v", found, err)
	}
	if err := s.SetCachedCredits(ctx, 1, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("set on nil store: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping on nil store: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	s := New(addr, os.Getenv("TEST_REDIS_PASSWORD"), 15)
	if err := s.Ping(context.Background()); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChatLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := uint64(time.Now().UnixNano())

	release, ok, err := s.AcquireChatLock(ctx, uid, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.AcquireChatLock(ctx, uid, 5*time.Second); err != nil || ok {
		t.Fatalf("second acquire must fail: ok=%v err=%v", ok, err)
	}
	release()
	release2, ok, err := s.AcquireChatLock(ctx, uid, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	release2()
}

func TestCreditsCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := uint64(time.Now().UnixNano())

	if _, found, _ := s.CachedCredits(ctx, uid); found {
		t.Fatalf("expected miss")
	}
	if err := s.SetCachedCredits(ctx, uid, decimal.RequireFromString("9.75")); err != nil {
		t.Fatalf("set: %v", err)
	}
	bal, found, err := s.CachedCredits(ctx, uid)
	if err != nil || !found || !bal.Equal(decimal.RequireFromString("9.75")) {
		t.Fatalf("unexpected cache read bal=%s found=%v err=%v", bal, found, err)
	}
	if err := s.InvalidateCredits(ctx, uid); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, found, _ := s.CachedCredits(ctx, uid); found {
		t.Fatalf("expected miss after invalidate")
	}
}
