package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EndpointLimits = map[string]int{
		"/auth/login": 3,
	}
	cfg.DefaultLimit = 5
	return cfg
}

func TestAllowWithinBudget(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := limiter.Allow(ctx, "203.0.113.1", "/auth/login")
		if !d.Allowed {
			t.Fatalf("request %d unexpectedly rejected", i+1)
		}
	}
}

func TestRejectOverBudgetWithRetryAfter(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, "203.0.113.1", "/auth/login")
	}

	d := limiter.Allow(ctx, "203.0.113.1", "/auth/login")
	if d.Allowed {
		t.Fatal("expected rejection over budget")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("expected retry-after within the window, got %v", d.RetryAfter)
	}
	if d.Violations != 1 {
		t.Fatalf("expected first violation recorded, got %d", d.Violations)
	}
}

func TestEndpointLimitOverridesDefault(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()

	// /auth/other uses the default limit of 5, not login's 3.
	for i := 0; i < 5; i++ {
		if d := limiter.Allow(ctx, "203.0.113.1", "/auth/other"); !d.Allowed {
			t.Fatalf("request %d unexpectedly rejected", i+1)
		}
	}
	if d := limiter.Allow(ctx, "203.0.113.1", "/auth/other"); d.Allowed {
		t.Fatal("expected rejection past the default limit")
	}
}

func TestPathsOutsidePrefixBypass(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if d := limiter.Allow(ctx, "203.0.113.1", "/api/resources"); !d.Allowed {
			t.Fatal("non-auth path must bypass the limiter")
		}
	}
}

func TestEmptyOriginBypasses(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())

	if d := limiter.Allow(context.Background(), "", "/auth/login"); !d.Allowed {
		t.Fatal("requests without an origin must not be counted")
	}
}

func TestLockoutBlocksAllAuthPaths(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		limiter.Allow(ctx, "203.0.113.1", "/auth/login")
	}

	// The lockout flag is armed; a different auth endpoint is now rejected
	// before its window counter runs.
	d := limiter.Allow(ctx, "203.0.113.1", "/auth/register")
	if d.Allowed {
		t.Fatal("expected lockout to block all auth paths")
	}
	if !d.LockedOut {
		t.Fatal("expected LockedOut flag")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected remaining lockout time, got %v", d.RetryAfter)
	}

	// Other origins are unaffected.
	if d := limiter.Allow(ctx, "203.0.113.2", "/auth/login"); !d.Allowed {
		t.Fatal("lockout must be scoped to one origin")
	}
}

func TestLockoutEscalation(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()
	origin := "203.0.113.1"

	trip := func() Decision {
		t.Helper()
		var d Decision
		for i := 0; i < 4; i++ {
			d = limiter.Allow(ctx, origin, "/auth/login")
		}
		if d.Allowed {
			t.Fatal("expected a rejection")
		}
		return d
	}

	trip()
	if got := limiter.Violations(ctx, origin); got != 1 {
		t.Fatalf("expected 1 violation, got %d", got)
	}
	if ttl := mr.TTL(lockoutKey(origin)); ttl != time.Minute {
		t.Fatalf("expected first-step lockout of 1m, got %v", ttl)
	}

	// Expire the lockout and the window but not the violation counter,
	// then trip again: the second ladder entry applies.
	mr.FastForward(90 * time.Second)
	trip()
	if got := limiter.Violations(ctx, origin); got != 2 {
		t.Fatalf("expected 2 violations, got %d", got)
	}
	if ttl := mr.TTL(lockoutKey(origin)); ttl != 5*time.Minute {
		t.Fatalf("expected second-step lockout of 5m, got %v", ttl)
	}
}

func TestSuspiciousAtViolationThreshold(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()
	origin := "203.0.113.1"

	var last Decision
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			last = limiter.Allow(ctx, origin, "/auth/login")
		}
		mr.FastForward(30 * time.Minute)
	}

	if !last.Suspicious {
		t.Fatalf("expected suspicious flag at violation %d", last.Violations)
	}
}

func TestSuccessDoesNotResetViolations(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()
	origin := "203.0.113.1"

	for i := 0; i < 4; i++ {
		limiter.Allow(ctx, origin, "/auth/login")
	}
	mr.FastForward(2 * time.Minute)

	// A clean window and an explicit reset leave the violation counter
	// untouched.
	if d := limiter.Allow(ctx, origin, "/auth/login"); !d.Allowed {
		t.Fatal("expected admission after lockout expiry")
	}
	limiter.Reset(ctx, origin, "/auth/login")

	if got := limiter.Violations(ctx, origin); got != 1 {
		t.Fatalf("expected violation count to persist, got %d", got)
	}
}

func TestResetClearsWindowCounter(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()
	origin := "203.0.113.1"

	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, origin, "/auth/login")
	}
	limiter.Reset(ctx, origin, "/auth/login")

	for i := 0; i < 3; i++ {
		if d := limiter.Allow(ctx, origin, "/auth/login"); !d.Allowed {
			t.Fatalf("request %d rejected after reset", i+1)
		}
	}
}

func TestFallbackWhenRedisUnreachable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := New(rdb, testConfig())
	ctx := context.Background()
	origin := "203.0.113.1"

	mr.Close()

	for i := 0; i < 3; i++ {
		if d := limiter.Allow(ctx, origin, "/auth/login"); !d.Allowed {
			t.Fatalf("request %d rejected during fallback", i+1)
		}
	}
	d := limiter.Allow(ctx, origin, "/auth/login")
	if d.Allowed {
		t.Fatal("expected in-process fallback to enforce the limit")
	}
	if d.Violations != 1 {
		t.Fatalf("expected fallback violation recorded, got %d", d.Violations)
	}

	// The fallback lockout flag holds too.
	d = limiter.Allow(ctx, origin, "/auth/register")
	if !d.LockedOut {
		t.Fatal("expected fallback lockout to block the origin")
	}
}

func TestNilRedisClientRunsInProcess(t *testing.T) {
	limiter := New(nil, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := limiter.Allow(ctx, "203.0.113.1", "/auth/login"); !d.Allowed {
			t.Fatalf("request %d rejected without redis", i+1)
		}
	}
	if d := limiter.Allow(ctx, "203.0.113.1", "/auth/login"); d.Allowed {
		t.Fatal("expected limit enforcement without redis")
	}
}

func TestMemoryStoreWindowExpiry(t *testing.T) {
	store := newMemoryStore()

	count, _ := store.incr("rw:x:/auth/login", 10*time.Millisecond)
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
	count, _ = store.incr("rw:x:/auth/login", 10*time.Millisecond)
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}

	time.Sleep(15 * time.Millisecond)
	count, _ = store.incr("rw:x:/auth/login", 10*time.Millisecond)
	if count != 1 {
		t.Fatalf("expected fresh window after expiry, got %d", count)
	}
}
