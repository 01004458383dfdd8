package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(rdb, cfg)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestLimiterThrottlesAtMax(t *testing.T) {
	l, _, _ := newTestLimiter(t, Config{MaxFailures: 30, Window: 5 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if err := l.Check(ctx, "Test@edx.org", ""); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
		if err := l.RecordFailure(ctx, "Test@edx.org", ""); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := l.Check(ctx, "test@edx.org", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if n, err := l.Failures(ctx, " TEST@edx.org "); err != nil || n != 30 {
		t.Fatalf("Failures = %d, %v", n, err)
	}
}

func TestLimiterWindowRolls(t *testing.T) {
	l, _, now := newTestLimiter(t, Config{MaxFailures: 3, Window: 5 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.RecordFailure(ctx, "a@b.c", ""); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		*now = now.Add(time.Minute)
	}
	if err := l.Check(ctx, "a@b.c", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}

	// first failure leaves the window
	*now = now.Add(3 * time.Minute)
	if err := l.Check(ctx, "a@b.c", ""); err != nil {
		t.Fatalf("expected window to roll, got %v", err)
	}
	if n, _ := l.Failures(ctx, "a@b.c"); n != 2 {
		t.Fatalf("Failures = %d, want 2", n)
	}
}

func TestLimiterReset(t *testing.T) {
	l, _, _ := newTestLimiter(t, Config{MaxFailures: 2, Window: time.Minute, EnableIPThrottle: true})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordFailure(ctx, "x@y.z", "10.0.0.1"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := l.Check(ctx, "other@y.z", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP limit, got %v", err)
	}
	if err := l.Reset(ctx, "x@y.z", "10.0.0.1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := l.Check(ctx, "x@y.z", "10.0.0.1"); err != nil {
		t.Fatalf("expected clean state, got %v", err)
	}
}

func TestLimiterIgnoresIPWhenDisabled(t *testing.T) {
	l, _, _ := newTestLimiter(t, Config{MaxFailures: 1, Window: time.Minute})
	ctx := context.Background()

	if err := l.RecordFailure(ctx, "x@y.z", "10.0.0.1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := l.Check(ctx, "other@y.z", "10.0.0.1"); err != nil {
		t.Fatalf("IP throttle disabled, got %v", err)
	}
}

func TestLimiterRedisDown(t *testing.T) {
	l, mr, _ := newTestLimiter(t, Config{MaxFailures: 1, Window: time.Minute})
	mr.Close()
	if err := l.Check(context.Background(), "x@y.z", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
