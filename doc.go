// Package authcore provides an authentication and session-security engine
// with fingerprint-bound JWT access tokens, rotating refresh sessions,
// TOTP step-up, role and capability authorization, and an escalating
// per-origin rate limiter.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// sentinel errors, and value types (TokenPair, SessionInfo, TOTPSetup).
// Mechanism lives in the subpackages: password, fingerprint, totp, token,
// permission, audit, ratelimit, and store. Flow orchestration stays here.
//
// # What this package must NOT do
//
//   - Expose database handles, Redis clients, or signing keys in its API.
//   - Return failure detail that distinguishes a wrong password from an
//     unknown user, an unverified account, or a disabled account. Callers
//     see [ErrInvalidCredentials]; diagnostics go to the security log.
//   - Perform I/O during construction (Builder is wiring-only until Build).
package authcore
