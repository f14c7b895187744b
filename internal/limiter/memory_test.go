package limiter

import (
	"context"
	"testing"
	"time"
)

func TestMemory_BlocksAfterMaxFailsAndExpires(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	l := NewMemory(Config{Window: time.Minute, MaxFails: 3, BlockFor: 5 * time.Minute})
	l.now = func() time.Time { return now }
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		if blocked, _, _ := l.Failure(ctx, "a@x.io", ip); blocked {
			t.Fatalf("blocked too early at %d", i)
		}
	}
	blocked, dur, _ := l.Failure(ctx, "a@x.io", ip)
	if !blocked || dur != 5*time.Minute {
		t.Fatalf("want block, got %v %v", blocked, dur)
	}
	if ok, retry, _ := l.Allow(ctx, "a@x.io", ip); ok || retry != 5*time.Minute {
		t.Fatalf("want disallowed, got %v %v", ok, retry)
	}
	if ok, _, _ := l.Allow(ctx, "a@x.io", HashIP("10.0.0.2")); !ok {
		t.Fatalf("other address must not be blocked")
	}

	now = now.Add(6 * time.Minute)
	if ok, _, _ := l.Allow(ctx, "a@x.io", ip); !ok {
		t.Fatalf("block should have expired")
	}
}

func TestMemory_WindowResetsAndSuccessClears(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	l := NewMemory(Config{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute})
	l.now = func() time.Time { return now }
	ip := HashIP("10.0.0.1")

	_, _, _ = l.Failure(ctx, "a@x.io", ip)
	now = now.Add(2 * time.Minute)
	if blocked, _, _ := l.Failure(ctx, "a@x.io", ip); blocked {
		t.Fatalf("stale failure should be forgotten")
	}

	if err := l.Success(ctx, "a@x.io", ip); err != nil {
		t.Fatal(err)
	}
	if blocked, _, _ := l.Failure(ctx, "a@x.io", ip); blocked {
		t.Fatalf("success should reset counter")
	}
}
