package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all Engine tuning. Configure once before Build; treat as
// immutable afterwards.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	TOTP      TOTPConfig
	Reset     ResetConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// TokenConfig controls signing and claims of access and refresh tokens.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	Secret        []byte
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// PasswordConfig holds argon2id parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// TOTPConfig controls the 2FA provisioning identity.
type TOTPConfig struct {
	Issuer string
}

// ResetConfig controls password reset tokens.
type ResetConfig struct {
	TokenTTL time.Duration
}

// RateLimitConfig mirrors the rate limiter's tuning. When Enabled is
// false the engine admits everything and never counts.
type RateLimitConfig struct {
	Enabled              bool
	Prefix               string
	Window               time.Duration
	DefaultLimit         int
	EndpointLimits       map[string]int
	LockoutLadder        []time.Duration
	ViolationTTL         time.Duration
	SuspiciousViolations int
	SuspiciousLockout    time.Duration
}

// AuditConfig controls the security event logger.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls Prometheus counter registration.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
			Audience:      "authcore",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           2,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Issuer: "authcore",
		},
		Reset: ResetConfig{
			TokenTTL: 2 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
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
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)

	if cfg.RateLimit.EndpointLimits != nil {
		out.RateLimit.EndpointLimits = make(map[string]int, len(cfg.RateLimit.EndpointLimits))
		for path, limit := range cfg.RateLimit.EndpointLimits {
			out.RateLimit.EndpointLimits[path] = limit
		}
	}
	out.RateLimit.LockoutLadder = append([]time.Duration(nil), cfg.RateLimit.LockoutLadder...)
	return out
}

// Validate rejects configurations the Engine cannot run safely on.
func (c *Config) Validate() error {
	switch c.Token.SigningMethod {
	case "hs256":
		if len(c.Token.Secret) < 32 {
			return errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires a private key")
		}
	default:
		return fmt.Errorf("unknown signing method %q", c.Token.SigningMethod)
	}

	if c.Token.AccessTTL <= 0 {
		return errors.New("access TTL must be positive")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("refresh TTL must not be shorter than access TTL")
	}
	if c.Reset.TokenTTL <= 0 {
		return errors.New("reset token TTL must be positive")
	}
	if c.Password.Memory == 0 || c.Password.Time == 0 || c.Password.Parallelism == 0 {
		return errors.New("argon2 parameters must be non-zero")
	}

	for i := 1; i < len(c.RateLimit.LockoutLadder); i++ {
		if c.RateLimit.LockoutLadder[i] < c.RateLimit.LockoutLadder[i-1] {
			return errors.New("lockout ladder must be non-decreasing")
		}
	}
	return nil
}

// fileConfig is the TOML shape. Durations are strings in Go duration
// syntax ("15m", "24h"); key material is referenced, never inlined.
type fileConfig struct {
	Token struct {
		AccessTTL     string `toml:"access_ttl"`
		RefreshTTL    string `toml:"refresh_ttl"`
		SigningMethod string `toml:"signing_method"`
		Issuer        string `toml:"issuer"`
		Audience      string `toml:"audience"`
		Leeway        string `toml:"leeway"`
	} `toml:"token"`
	Password struct {
		Memory         uint32 `toml:"memory_kb"`
		Time           uint32 `toml:"time"`
		Parallelism    uint8  `toml:"parallelism"`
		UpgradeOnLogin *bool  `toml:"upgrade_on_login"`
	} `toml:"password"`
	TOTP struct {
		Issuer string `toml:"issuer"`
	} `toml:"totp"`
	Reset struct {
		TokenTTL string `toml:"token_ttl"`
	} `toml:"reset"`
	RateLimit struct {
		Enabled        *bool          `toml:"enabled"`
		Prefix         string         `toml:"prefix"`
		Window         string         `toml:"window"`
		DefaultLimit   int            `toml:"default_limit"`
		EndpointLimits map[string]int `toml:"endpoint_limits"`
		LockoutLadder  []string       `toml:"lockout_ladder"`
	} `toml:"rate_limit"`
	Audit struct {
		Enabled    *bool `toml:"enabled"`
		BufferSize int   `toml:"buffer_size"`
		DropIfFull *bool `toml:"drop_if_full"`
	} `toml:"audit"`
	Metrics struct {
		Enabled bool `toml:"enabled"`
	} `toml:"metrics"`
}

func parseDuration(value, field string, into *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	*into = d
	return nil
}

// LoadConfig reads a TOML file over the defaults. Unset fields keep
// their default values; signing keys must be supplied in code.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := parseDuration(fc.Token.AccessTTL, "token.access_ttl", &cfg.Token.AccessTTL); err != nil {
		return Config{}, err
	}
	if err := parseDuration(fc.Token.RefreshTTL, "token.refresh_ttl", &cfg.Token.RefreshTTL); err != nil {
		return Config{}, err
	}
	if err := parseDuration(fc.Token.Leeway, "token.leeway", &cfg.Token.Leeway); err != nil {
		return Config{}, err
	}
	if fc.Token.SigningMethod != "" {
		cfg.Token.SigningMethod = fc.Token.SigningMethod
	}
	if fc.Token.Issuer != "" {
		cfg.Token.Issuer = fc.Token.Issuer
	}
	if fc.Token.Audience != "" {
		cfg.Token.Audience = fc.Token.Audience
	}

	if fc.Password.Memory > 0 {
		cfg.Password.Memory = fc.Password.Memory
	}
	if fc.Password.Time > 0 {
		cfg.Password.Time = fc.Password.Time
	}
	if fc.Password.Parallelism > 0 {
		cfg.Password.Parallelism = fc.Password.Parallelism
	}
	if fc.Password.UpgradeOnLogin != nil {
		cfg.Password.UpgradeOnLogin = *fc.Password.UpgradeOnLogin
	}

	if fc.TOTP.Issuer != "" {
		cfg.TOTP.Issuer = fc.TOTP.Issuer
	}
	if err := parseDuration(fc.Reset.TokenTTL, "reset.token_ttl", &cfg.Reset.TokenTTL); err != nil {
		return Config{}, err
	}

	if fc.RateLimit.Enabled != nil {
		cfg.RateLimit.Enabled = *fc.RateLimit.Enabled
	}
	if fc.RateLimit.Prefix != "" {
		cfg.RateLimit.Prefix = fc.RateLimit.Prefix
	}
	if err := parseDuration(fc.RateLimit.Window, "rate_limit.window", &cfg.RateLimit.Window); err != nil {
		return Config{}, err
	}
	if fc.RateLimit.DefaultLimit > 0 {
		cfg.RateLimit.DefaultLimit = fc.RateLimit.DefaultLimit
	}
	if len(fc.RateLimit.EndpointLimits) > 0 {
		cfg.RateLimit.EndpointLimits = fc.RateLimit.EndpointLimits
	}
	if len(fc.RateLimit.LockoutLadder) > 0 {
		ladder := make([]time.Duration, 0, len(fc.RateLimit.LockoutLadder))
		for _, entry := range fc.RateLimit.LockoutLadder {
			var d time.Duration
			if err := parseDuration(entry, "rate_limit.lockout_ladder", &d); err != nil {
				return Config{}, err
			}
			ladder = append(ladder, d)
		}
		cfg.RateLimit.LockoutLadder = ladder
	}

	if fc.Audit.Enabled != nil {
		cfg.Audit.Enabled = *fc.Audit.Enabled
	}
	if fc.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = fc.Audit.BufferSize
	}
	if fc.Audit.DropIfFull != nil {
		cfg.Audit.DropIfFull = *fc.Audit.DropIfFull
	}
	cfg.Metrics.Enabled = cfg.Metrics.Enabled || fc.Metrics.Enabled

	return cfg, nil
}
