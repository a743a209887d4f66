package authcore

import (
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/s3csys/authcore/audit"
	"github.com/s3csys/authcore/password"
	"github.com/s3csys/authcore/ratelimit"
	"github.com/s3csys/authcore/store"
	"github.com/s3csys/authcore/token"
	"github.com/s3csys/authcore/totp"
)

// Builder wires an Engine. Configure during initialization, call Build
// once, then discard.
type Builder struct {
	config Config
	store  store.Store
	redis  redis.UniversalClient
	mailer Mailer
	sink   audit.Sink

	built bool
}

// New returns a Builder carrying the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis sets the shared counter store for rate limiting. Optional:
// without it the limiter counts in process only.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the out-of-band token delivery collaborator. Optional:
// without it verification and reset tokens are produced but not sent.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the consumer of security events. Optional; events
// are dropped without one.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.sink = sink
	return b
}

// Build validates the configuration and assembles the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}
	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		Secret:        cloneBytes(cfg.Token.Secret),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		store:     b.store,
		hasher:    hasher,
		tokens:    tokens,
		totp:      totp.New(cfg.TOTP.Issuer),
		mailer:    b.mailer,
		dummyHash: dummyHash,
	}

	if cfg.RateLimit.Enabled {
		engine.limiter = ratelimit.New(b.redis, ratelimit.Config{
			Prefix:               cfg.RateLimit.Prefix,
			Window:               cfg.RateLimit.Window,
			DefaultLimit:         cfg.RateLimit.DefaultLimit,
			EndpointLimits:       cfg.RateLimit.EndpointLimits,
			LockoutLadder:        cfg.RateLimit.LockoutLadder,
			ViolationTTL:         cfg.RateLimit.ViolationTTL,
			SuspiciousViolations: cfg.RateLimit.SuspiciousViolations,
			SuspiciousLockout:    cfg.RateLimit.SuspiciousLockout,
		})
	}

	engine.audit = audit.NewLogger(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.sink)

	engine.metrics = newMetrics(cfg.Metrics)

	b.built = true
	return engine, nil
}
