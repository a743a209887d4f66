package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter and lockout tuning parameters.
type Config struct {
	// Prefix gates the engine: only paths under it are limited.
	Prefix string
	// Window is the fixed counting window for request counters.
	Window time.Duration
	// DefaultLimit applies to endpoints without an entry in EndpointLimits.
	DefaultLimit int
	// EndpointLimits maps a path (relative to Prefix or absolute) to its
	// per-window request budget.
	EndpointLimits map[string]int
	// LockoutLadder holds escalating lockout durations indexed by
	// violation count minus one, clamped to the last entry.
	LockoutLadder []time.Duration
	// ViolationTTL is how long the per-origin violation counter persists.
	ViolationTTL time.Duration
	// SuspiciousViolations and SuspiciousLockout set the thresholds past
	// which a rejection is flagged for external alerting.
	SuspiciousViolations int
	SuspiciousLockout    time.Duration
}

// DefaultConfig returns production limits for the authentication surface.
func DefaultConfig() Config {
	return Config{
		Prefix:       "/auth",
		Window:       time.Minute,
		DefaultLimit: 30,
		EndpointLimits: map[string]int{
			"/auth/login":          10,
			"/auth/register":       5,
			"/auth/2fa/verify":     15,
			"/auth/refresh":        20,
			"/auth/reset-password": 5,
			"/auth/confirm":        5,
			"/auth/verify-email":   10,
		},
		LockoutLadder: []time.Duration{
			time.Minute,
			5 * time.Minute,
			15 * time.Minute,
			time.Hour,
			24 * time.Hour,
		},
		ViolationTTL:         24 * time.Hour,
		SuspiciousViolations: 3,
		SuspiciousLockout:    15 * time.Minute,
	}
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "/auth"
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 30
	}
	if len(c.LockoutLadder) == 0 {
		c.LockoutLadder = DefaultConfig().LockoutLadder
	}
	if c.ViolationTTL <= 0 {
		c.ViolationTTL = 24 * time.Hour
	}
	if c.SuspiciousViolations <= 0 {
		c.SuspiciousViolations = 3
	}
	if c.SuspiciousLockout <= 0 {
		c.SuspiciousLockout = 15 * time.Minute
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is the wait hint for rejected requests: the window
	// remainder for a counter trip, the remaining lockout otherwise.
	RetryAfter time.Duration
	// LockedOut reports that the origin was rejected by a live lockout
	// flag before any counter ran.
	LockedOut bool
	// Violations is the origin's 24h violation count after this check.
	Violations int
	// Suspicious marks a rejection that crossed the alerting thresholds.
	Suspicious bool
}

// Limiter enforces per-(origin, endpoint) request windows and per-origin
// progressive lockouts. Counters live in Redis; every Redis failure falls
// back to an in-process store with the same keys and semantics.
type Limiter struct {
	config   Config
	redis    *redisStore
	fallback *memoryStore
}

// New creates a [Limiter]. redisClient may be nil, in which case all
// counting happens in process.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	cfg.setDefaults()

	l := &Limiter{
		config:   cfg,
		fallback: newMemoryStore(),
	}
	if redisClient != nil {
		l.redis = &redisStore{client: redisClient}
	}
	return l
}

func windowKey(origin, endpoint string) string {
	return "rw:" + origin + ":" + endpoint
}

func violationKey(origin string) string {
	return "rv:" + origin
}

func lockoutKey(origin string) string {
	return "rl:" + origin
}

// Allow runs the admission check for one request. Paths outside the
// configured prefix bypass the engine entirely. For limited paths the live
// lockout flag is consulted first, then the window counter; a counter trip
// records a violation and arms the next lockout.
func (l *Limiter) Allow(ctx context.Context, origin, path string) Decision {
	if origin == "" || !strings.HasPrefix(path, l.config.Prefix) {
		return Decision{Allowed: true}
	}

	if remaining := l.flagTTL(ctx, lockoutKey(origin)); remaining > 0 {
		return Decision{
			RetryAfter: remaining,
			LockedOut:  true,
			Suspicious: remaining >= l.config.SuspiciousLockout,
		}
	}

	count, remaining := l.incr(ctx, windowKey(origin, path), l.config.Window)
	if count <= int64(l.limitFor(path)) {
		return Decision{Allowed: true}
	}

	return l.reject(ctx, origin, remaining)
}

// reject records a violation for the origin, arms the escalated lockout,
// and builds the rejection decision.
func (l *Limiter) reject(ctx context.Context, origin string, retryAfter time.Duration) Decision {
	violations, _ := l.incr(ctx, violationKey(origin), l.config.ViolationTTL)

	lockout := l.ladderEntry(violations)
	l.setFlag(ctx, lockoutKey(origin), lockout)

	return Decision{
		RetryAfter: retryAfter,
		Violations: int(violations),
		Suspicious: int(violations) >= l.config.SuspiciousViolations ||
			lockout >= l.config.SuspiciousLockout,
	}
}

// Reset clears the window counter for one (origin, endpoint) pair. Called
// after a successful login so legitimate users do not carry failed-attempt
// debt forward. Violation counters are deliberately left alone: only their
// own TTL resets them.
func (l *Limiter) Reset(ctx context.Context, origin, path string) {
	if origin == "" {
		return
	}
	key := windowKey(origin, path)
	if l.redis != nil && l.redis.del(ctx, key) == nil {
		l.fallback.del(key)
		return
	}
	l.fallback.del(key)
}

// Violations returns the origin's current 24h violation count.
func (l *Limiter) Violations(ctx context.Context, origin string) int {
	key := violationKey(origin)
	if l.redis != nil {
		if count, err := l.redis.get(ctx, key); err == nil {
			return int(count)
		}
	}
	count, _ := l.fallback.get(key)
	return int(count)
}

func (l *Limiter) limitFor(path string) int {
	if limit, ok := l.config.EndpointLimits[path]; ok && limit > 0 {
		return limit
	}
	return l.config.DefaultLimit
}

func (l *Limiter) ladderEntry(violations int64) time.Duration {
	idx := int(violations) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(l.config.LockoutLadder) {
		idx = len(l.config.LockoutLadder) - 1
	}
	return l.config.LockoutLadder[idx]
}

// incr bumps a fixed-window counter and reports the count plus the window
// remainder. Redis first, in-process on any Redis failure.
func (l *Limiter) incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration) {
	if l.redis != nil {
		count, remaining, err := l.redis.incr(ctx, key, ttl)
		if err == nil {
			return count, remaining
		}
	}
	return l.fallback.incr(key, ttl)
}

func (l *Limiter) setFlag(ctx context.Context, key string, ttl time.Duration) {
	if l.redis != nil && l.redis.setFlag(ctx, key, ttl) == nil {
		return
	}
	l.fallback.setFlag(key, ttl)
}

// flagTTL returns the longer of the shared-store and in-process lockout
// remainders, so a lockout armed during a Redis outage keeps holding after
// Redis recovers.
func (l *Limiter) flagTTL(ctx context.Context, key string) time.Duration {
	var remaining time.Duration
	if l.redis != nil {
		if ttl, err := l.redis.flagTTL(ctx, key); err == nil {
			remaining = ttl
		}
	}
	if local := l.fallback.flagTTL(key); local > remaining {
		remaining = local
	}
	return remaining
}
