package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is the generic authentication denial. Wrong
	// password, unknown user, unverified email, disabled account, and
	// missing step-up all surface as this value; the distinguishing
	// detail is only written to the security log.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountExists reports a duplicate username or email on register.
	ErrAccountExists = errors.New("account already exists")
	// ErrPasswordPolicy wraps the first failing strength rule.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrTokenInvalid covers expired, malformed, mistyped, and
	// binding-rejected bearer tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid reports a refresh token with no matching active
	// session, including tokens consumed by a concurrent rotation.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRateLimited reports a tripped request window or a live lockout.
	// Pair it with [RetryAfter] for the client hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrVerificationInvalid reports an absent or already-consumed email
	// verification token.
	ErrVerificationInvalid = errors.New("invalid verification token")
	// ErrResetInvalid reports an absent, consumed, or expired password
	// reset token.
	ErrResetInvalid = errors.New("invalid reset token")
	// ErrSessionNotFound reports a session id the caller does not own or
	// that does not exist. Safe to surface distinctly; it leaks nothing.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound reports a missing identity id on admin lookups.
	ErrUserNotFound = errors.New("user not found")
	// ErrPermissionDenied is the generic authorization denial for both
	// role and capability checks.
	ErrPermissionDenied = errors.New("insufficient permissions")
	// ErrTwoFARequired reports an access token whose step-up flag is
	// unset where a 2FA-verified caller is required.
	ErrTwoFARequired = errors.New("2fa verification required")
	// ErrTwoFAEnabled rejects a setup request when a secret exists.
	ErrTwoFAEnabled = errors.New("2fa already enabled")
	// ErrTwoFANotConfigured rejects step-up and confirm without a secret.
	ErrTwoFANotConfigured = errors.New("2fa not configured")
	// ErrTwoFAInvalid reports a TOTP or backup code that verified false.
	ErrTwoFAInvalid = errors.New("invalid 2fa code")
)

// RateLimitError carries the retry-after hint alongside ErrRateLimited.
// Rate limiting is the one denial that is deliberately informative, so
// well-behaved clients can back off.
type RateLimitError struct {
	// RetryAfter is the remaining window or lockout time.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts the wait hint from a rate-limit denial.
func RetryAfter(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}
