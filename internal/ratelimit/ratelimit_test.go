package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterAllow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := New(rdb, 2)
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)

	allowed, used, resetAt, err := l.Allow(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("allow#1: %v", err)
	}
	if !allowed || used != 1 {
		t.Fatalf("expected first call allowed with used=1, got allowed=%v used=%d", allowed, used)
	}
	if !resetAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected reset at window end, got %v", resetAt)
	}

	allowed, used, _, err = l.Allow(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("allow#2: %v", err)
	}
	if !allowed || used != 2 {
		t.Fatalf("expected second call allowed with used=2, got allowed=%v used=%d", allowed, used)
	}

	allowed, used, _, err = l.Allow(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if allowed || used != 3 {
		t.Fatalf("expected third call denied with used=3, got allowed=%v used=%d", allowed, used)
	}
}

func TestLimiterIsolatesUsers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := New(rdb, 1)
	now := time.Date(2026, 8, 14, 10, 30, 0, 0, time.UTC)

	if allowed, _, _, err := l.Allow(context.Background(), "u1", now); err != nil || !allowed {
		t.Fatalf("expected u1 allowed, got allowed=%v err=%v", allowed, err)
	}
	if allowed, _, _, err := l.Allow(context.Background(), "u2", now); err != nil || !allowed {
		t.Fatalf("expected u2 unaffected by u1, got allowed=%v err=%v", allowed, err)
	}
	if allowed, _, _, err := l.Allow(context.Background(), "u1", now); err != nil || allowed {
		t.Fatalf("expected u1 denied on second call, got allowed=%v err=%v", allowed, err)
	}
}
