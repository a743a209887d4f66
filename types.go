package authcore

import (
	"context"
	"time"

	"github.com/s3csys/authcore/permission"
	"github.com/s3csys/authcore/store"
)

// TokenPair is the result of login, refresh, and step-up.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// AccessExpiresAt is when the access token lapses; the refresh token
	// outlives it by the configured refresh TTL.
	AccessExpiresAt time.Time
}

// SessionInfo is the caller-facing view of one active session.
type SessionInfo struct {
	ID          int64
	Fingerprint string
	UserAgent   string
	Origin      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	// Current marks the session holding the refresh token the caller
	// presented. Transient annotation, never persisted.
	Current bool
}

// TOTPSetup is returned by SetupTOTP. The secret is shown to the user
// exactly once; only its stored copy survives the call.
type TOTPSetup struct {
	Secret          string
	ProvisioningURI string
}

// AuthResult is a verified caller: the token claims resolved to a live
// identity with its effective capability set.
type AuthResult struct {
	Identity     *store.Identity
	Capabilities permission.Set
	// TwoFAVerified mirrors the access token's step-up claim, not the
	// identity's enrollment flag.
	TwoFAVerified bool
}

// Mailer delivers out-of-band tokens. Implementations own retries and
// transport; a delivery failure never rolls back the state change that
// produced the token.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// CapabilityMode selects how RequireCapability combines multiple
// capabilities.
type CapabilityMode int

const (
	// CapabilityAny admits a caller holding at least one listed capability.
	CapabilityAny CapabilityMode = iota
	// CapabilityAll requires every listed capability.
	CapabilityAll
)
