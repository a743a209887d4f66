package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/s3csys/authcore/audit"
	"github.com/s3csys/authcore/fingerprint"
	"github.com/s3csys/authcore/permission"
	"github.com/s3csys/authcore/ratelimit"
	"github.com/s3csys/authcore/store"
	"github.com/s3csys/authcore/token"
)

// Engine is the authentication and authorization core. Construct it with
// [Builder.Build]; all methods are safe for concurrent use afterwards.
type Engine struct {
	config  Config
	store   store.Store
	hasher  passwordHasher
	tokens  *token.Manager
	totp    totpManager
	limiter *ratelimit.Limiter
	audit   *audit.Logger
	metrics *metrics
	mailer  Mailer

	// dummyHash is verified against on unknown-identifier logins so the
	// miss path costs the same as a password mismatch.
	dummyHash string
}

// Close flushes and stops the security event logger.
func (e *Engine) Close() {
	e.audit.Close()
}

// AuthenticateToken verifies a bearer access token against the caller's
// context and resolves it to a live identity with its effective
// capability set. Every denial is ErrTokenInvalid; a fingerprint or
// origin rejection is additionally logged as suspected token theft.
func (e *Engine) AuthenticateToken(ctx context.Context, accessToken string) (*AuthResult, error) {
	origin := clientOriginFromContext(ctx)
	requestFP := fingerprint.Generate(userAgentFromContext(ctx))

	claims, err := e.tokens.Verify(accessToken, token.TypeAccess, requestFP, origin)
	if err != nil {
		if errors.Is(err, token.ErrBindingRejected) {
			e.emit(ctx, audit.Event{
				Type:     "token_binding_rejected",
				Severity: audit.SeverityError,
				Error:    "token replayed from unexpected context",
				Detail: map[string]string{
					"request_fingerprint": requestFP,
				},
			})
		} else {
			e.emit(ctx, audit.Event{
				Type:  "token_rejected",
				Error: err.Error(),
			})
		}
		e.metrics.deny("token")
		return nil, ErrTokenInvalid
	}

	subjectID, err := claims.SubjectID()
	if err != nil {
		e.metrics.deny("token")
		return nil, ErrTokenInvalid
	}

	identity, err := e.store.IdentityByID(ctx, subjectID)
	if err != nil || !identity.Active {
		e.emit(ctx, audit.Event{
			Type:    "token_rejected",
			ActorID: subjectID,
			Error:   "subject missing or deactivated",
		})
		e.metrics.deny("token")
		return nil, ErrTokenInvalid
	}

	role, err := permission.ParseRole(identity.Role)
	if err != nil {
		return nil, fmt.Errorf("identity %d: %w", identity.ID, err)
	}

	return &AuthResult{
		Identity:      identity,
		Capabilities:  permission.Effective(role, identity.Overrides),
		TwoFAVerified: claims.TwoFAVerified,
	}, nil
}

// RequireRole admits callers whose role meets the required tier. Denials
// are logged with the actual and required role.
func (e *Engine) RequireRole(ctx context.Context, caller *AuthResult, required permission.Role) error {
	actual, err := permission.ParseRole(caller.Identity.Role)
	if err != nil {
		return fmt.Errorf("identity %d: %w", caller.Identity.ID, err)
	}
	if permission.Meets(actual, required) {
		return nil
	}

	e.emit(ctx, audit.Event{
		Type:     "permission_denied",
		Severity: audit.SeverityWarning,
		ActorID:  caller.Identity.ID,
		Detail: map[string]string{
			"actual_role":   string(actual),
			"required_role": string(required),
			"target":        requestPathFromContext(ctx, ""),
		},
	})
	e.metrics.deny("role")
	return ErrPermissionDenied
}

// RequireCapability admits callers holding the listed capabilities,
// combined per mode. An empty list with CapabilityAny denies.
func (e *Engine) RequireCapability(ctx context.Context, caller *AuthResult, caps []permission.Capability, mode CapabilityMode) error {
	var ok bool
	switch mode {
	case CapabilityAll:
		ok = caller.Capabilities.HasAll(caps...)
	default:
		ok = caller.Capabilities.HasAny(caps...)
	}
	if ok {
		return nil
	}

	required := make([]string, len(caps))
	for i, c := range caps {
		required[i] = string(c)
	}
	e.emit(ctx, audit.Event{
		Type:     "permission_denied",
		Severity: audit.SeverityWarning,
		ActorID:  caller.Identity.ID,
		Detail: map[string]string{
			"actual_role":           caller.Identity.Role,
			"required_capabilities": fmt.Sprintf("%v", required),
			"mode":                  capabilityModeString(mode),
			"target":                requestPathFromContext(ctx, ""),
		},
	})
	e.metrics.deny("capability")
	return ErrPermissionDenied
}

// RequireStepUp admits callers whose access token carries the step-up
// claim. Identities without 2FA enrolled satisfy it trivially, since
// their login set the claim directly.
func (e *Engine) RequireStepUp(ctx context.Context, caller *AuthResult) error {
	if caller.TwoFAVerified {
		return nil
	}

	e.emit(ctx, audit.Event{
		Type:     "step_up_required",
		Severity: audit.SeverityWarning,
		ActorID:  caller.Identity.ID,
		Detail: map[string]string{
			"target": requestPathFromContext(ctx, ""),
		},
	})
	e.metrics.deny("step_up")
	return ErrTwoFARequired
}

func capabilityModeString(mode CapabilityMode) string {
	if mode == CapabilityAll {
		return "all"
	}
	return "any"
}

// admit runs the rate limiter for one flow. A rejection is logged,
// counted, and surfaced as a RateLimitError with the wait hint.
func (e *Engine) admit(ctx context.Context, canonicalPath string) error {
	if e.limiter == nil {
		return nil
	}

	origin := clientOriginFromContext(ctx)
	path := requestPathFromContext(ctx, canonicalPath)

	decision := e.limiter.Allow(ctx, origin, path)
	if decision.Allowed {
		return nil
	}

	eventType := "rate_limit_exceeded"
	if decision.LockedOut {
		eventType = "lockout_active"
	}
	e.emit(ctx, audit.Event{
		Type:     eventType,
		Severity: audit.SeverityWarning,
		Detail: map[string]string{
			"path":        path,
			"retry_after": decision.RetryAfter.String(),
			"violations":  strconv.Itoa(decision.Violations),
		},
	})
	if decision.Suspicious {
		e.emit(ctx, audit.Event{
			Type:     "suspicious_activity",
			Severity: audit.SeverityError,
			Detail: map[string]string{
				"path":       path,
				"violations": strconv.Itoa(decision.Violations),
			},
		})
	}
	e.metrics.rateLimited(path)

	return &RateLimitError{RetryAfter: decision.RetryAfter}
}

// emit stamps origin and user agent from ctx and hands the event to the
// logger. Never blocks the calling flow.
func (e *Engine) emit(ctx context.Context, event audit.Event) {
	if event.Origin == "" {
		event.Origin = clientOriginFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// issuePair signs an access and refresh token for the identity and
// persists the refresh session bound to the same context.
func (e *Engine) issuePair(ctx context.Context, identity *store.Identity, twoFAVerified bool) (*TokenPair, *store.Session, error) {
	fp := fingerprint.Generate(userAgentFromContext(ctx))
	origin := clientOriginFromContext(ctx)

	access, err := e.tokens.IssueAccess(identity.ID, fp, origin, twoFAVerified)
	if err != nil {
		return nil, nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := e.tokens.IssueRefresh(identity.ID, fp, origin, twoFAVerified)
	if err != nil {
		return nil, nil, fmt.Errorf("issue refresh token: %w", err)
	}

	now := time.Now()
	accessExpiry := now.Add(e.config.Token.AccessTTL)
	refreshExpiry := now.Add(e.config.Token.RefreshTTL)

	session := &store.Session{
		IdentityID:   identity.ID,
		RefreshToken: refresh,
		Fingerprint:  fp,
		UserAgent:    userAgentFromContext(ctx),
		Origin:       origin,
		ExpiresAt:    refreshExpiry,
		Active:       true,
	}

	pair := &TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: accessExpiry,
	}
	return pair, session, nil
}

// passwordHasher and totpManager let tests substitute deterministic
// implementations.
type passwordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsRehash(encodedHash string) (bool, error)
}

type totpManager interface {
	GenerateSecret() (string, error)
	ProvisionURI(secret, account string) (string, error)
	VerifyCode(secret, code string) bool
	VerifyCodeAt(secret, code string, at time.Time) bool
	GenerateBackupCodes(hashFn func(string) (string, error)) (plain []string, hashed []string, err error)
}
