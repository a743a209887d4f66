package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/s3csys/authcore/audit"
	"github.com/s3csys/authcore/store"
	"github.com/s3csys/authcore/store/memstore"
)

type captureMailer struct {
	mu                 sync.Mutex
	verificationTokens map[string]string
	resetTokens        map[string]string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{
		verificationTokens: make(map[string]string),
		resetTokens:        make(map[string]string),
	}
}

func (m *captureMailer) SendVerification(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationTokens[email] = token
	return nil
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetTokens[email] = token
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Token.Issuer = "authcore-test"
	cfg.Token.Audience = "sysui"
	// Fast hashing keeps the suite quick; production parameters are
	// covered in the password package tests.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.SaltLength = 16
	cfg.Password.KeyLength = 32
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memstore.Store
	mailer *captureMailer
	sink   *audit.ChannelSink
	redis  *miniredis.Miniredis
}

func newTestEngine(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	mem := memstore.New()
	mailer := newCaptureMailer()
	sink := audit.NewChannelSink(256)

	engine, err := New().
		WithConfig(cfg).
		WithStore(mem).
		WithRedis(rdb).
		WithMailer(mailer).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		store:  mem,
		mailer: mailer,
		sink:   sink,
		redis:  mr,
	}
}

// requestCtx simulates a browser caller with a stable device and origin.
func requestCtx(origin, userAgent string) context.Context {
	ctx := context.Background()
	if origin != "" {
		ctx = WithClientOrigin(ctx, origin)
	}
	if userAgent != "" {
		ctx = WithUserAgent(ctx, userAgent)
	}
	return ctx
}

// registerVerified provisions a ready-to-login account.
func registerVerified(t *testing.T, env *testEnv, ctx context.Context, username, email, pass string) *store.Identity {
	t.Helper()

	identity, err := env.engine.Register(ctx, username, email, pass)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := env.engine.VerifyEmail(ctx, identity.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	// Return the stored row, not the pre-verification snapshot.
	identity, err = env.store.IdentityByID(ctx, identity.ID)
	if err != nil {
		t.Fatalf("IdentityByID failed: %v", err)
	}
	return identity
}

func waitForEvent(t *testing.T, sink *audit.ChannelSink, eventType string) audit.Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-sink.Events():
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", eventType)
		}
	}
}
