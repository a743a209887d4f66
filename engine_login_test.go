package authcore

import (
	"errors"
	"testing"
	"time"

	"github.com/s3csys/authcore/password"
	"github.com/s3csys/authcore/store"
)

const (
	testUA   = "Mozilla/5.0 (X11; Linux x86_64) test-browser/1.0"
	testPass = "Str0ngPass!word"
)

func TestLoginSuccess(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := requestCtx("203.0.113.1", testUA)

	registerVerified(t, env, ctx, "alice", "alice@x.com", testPass)

	pair, err := env.engine.Login(ctx, "alice", testPass)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if !pair.AccessExpiresAt.After(time.Now()) {
		t.Fatal("expected a future access expiry")
	}
}

func TestLoginByEmail(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := requestCtx("203.0.113.1", testUA)

	registerVerified(t, env, ctx, "alice", "alice@x.com", testPass)

	if _, err := env.engine.Login(ctx, "alice@x.com", testPass); err != nil {
		t.Fatalf("Login by email failed: %v", err)
	}
}

func TestLoginDenialsAreGeneric(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := requestCtx("203.0.113.1", testUA)

	identity := registerVerified(t, env, ctx, "alice", "alice@x.com", testPass)

	// Unknown user, wrong password, and a deactivated account must be
	// indistinguishable to the caller.
	if _, err := env.engine.Login(ctx, "nobody", testPass); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice", "Wr0ngPass!word"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}

	if err := env.engine.DeactivateAccount(ctx, identity.ID); err != nil {
		t.Fatalf("DeactivateAccount failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice", testPass); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("deactivated: expected ErrInvalidCredentials, got %v", err)
	}
}

type countingHasher struct {
	passwordHasher
	verifies int
}

func (c *countingHasher) Verify(password, encodedHash string) (bool, error) {
	c.verifies++
	return c.passwordHasher.Verify(password, encodedHash)
}

func TestLoginUnknownUserCostsAVerification(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := requestCtx("203.0.113.1", testUA)

	registerVerified(t, env, ctx, "alice", "alice@x.com", testPass)

	counter := &countingHasher{passwordHasher: env.engine.hasher}
	env.engine.hasher = counter

	if _, err := env.engine.Login(ctx, "nobody", testPass); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	missCost := counter.verifies

	counter.verifies = 0
	if _, err := env.engine.Login(ctx, "alice", "Wr0ngPass!word"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if missCost != counter.verifies {
		t.Fatalf("miss path ran %d verifications, mismatch path %d", missCost, counter.verifies)
	}
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := requestCtx("203.0.113.1", testUA)

	if _, err := env.engine.Register(ctx, "alice", "alice@x.com", testPass); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := env.engine.Login(ctx, "alice", testPass)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected generic failure before verification, got %v", err)
	}

	event := waitForEvent(t, env.sink, "login_failed")
	if event.Error != "email unverified" {
		t.Fatalf("expected the real reason in the security log, got %q", event.Error)
	}
}

func TestLoginRateLimitedWithRetryAfter(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.EndpointLimits = map[string]int{"/auth/login": 3}
	env := newTestEngine(t, cfg)
	ctx := requestCtx("203.0.113.1", testUA)

	registerVerified(t, env, ctx, "alice", "alice@x.com", testPass)

	for i := 0; i < 3; i++ {
		_, _ = env.engine.Login(ctx, "alice", "Wr0ngPass!word")
	}

	_, err := env.engine.Login(ctx, "alice", testPass)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	hint, ok := RetryAfter(err)
	if !ok || hint <= 0 {
		t.Fatalf("expected a positive retry-after hint, got %v ok=%v", hint, ok)
	}
}

func TestLoginSuccessResetsWindow(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.EndpointLimits = map[string]int{"/auth/login": 4}
	env := newTestEngine(t, cfg)
	ctx := requestCtx("203.0.113.1", testUA)

	registerVerified(t, env, ctx, "alice", "alice@x.com", testPass)

	// Three failures, then a success: the window counter resets, so
	// three more failures fit before the limit.
	for i := 0; i < 3; i++ {
		_, _ = env.engine.Login(ctx, "alice", "Wr0ngPass!word")
	}
	if _, err := env.engine.Login(ctx, "alice", testPass); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, "alice", "Wr0ngPass!word"); errors.Is(err, ErrRateLimited) {
			t.Fatalf("attempt %d rate limited after reset", i+1)
		}
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := requestCtx("203.0.113.1", testUA)

	// Seed an identity whose hash predates the current cost parameters.
	legacy, err := password.NewHasher(password.Config{
		Memory:      4 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	oldHash, err := legacy.Hash(testPass)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	identity := &store.Identity{
		Username:     "alice",
		Email:        "alice@x.com",
		PasswordHash: oldHash,
		Active:       true,
		Verified:     true,
		Role:         "viewer",
	}
	if err := env.store.CreateIdentity(ctx, identity); err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}

	if _, err := env.engine.Login(ctx, "alice", testPass); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	fresh, err := env.store.IdentityByID(ctx, identity.ID)
	if err != nil {
		t.Fatalf("IdentityByID failed: %v", err)
	}
	if fresh.PasswordHash == oldHash {
		t.Fatal("expected the stored hash upgraded on login")
	}
	if match, err := env.engine.hasher.Verify(testPass, fresh.PasswordHash); err != nil || !match {
		t.Fatalf("upgraded hash does not verify: match=%v err=%v", match, err)
	}
}

func TestLoginWithTwoFAPendingStepUp(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := requestCtx("203.0.113.1", testUA)

	identity := registerVerified(t, env, ctx, "alice", "alice@x.com", testPass)
	enableTwoFA(t, env, ctx, identity)

	pair, err := env.engine.Login(ctx, "alice", testPass)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	caller, err := env.engine.AuthenticateToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("AuthenticateToken failed: %v", err)
	}
	if caller.TwoFAVerified {
		t.Fatal("expected step-up pending after password-only login")
	}
}
