package authcore

import (
	"context"
	"fmt"
	"strings"

	"github.com/s3csys/authcore/audit"
	"github.com/s3csys/authcore/store"
)

// Login authenticates by username or email plus password and issues a
// bound token pair. Every denial surfaces as ErrInvalidCredentials; the
// actual reason goes only to the security log.
//
// For identities with 2FA enabled the returned pair carries an unset
// step-up claim; [Engine.StepUp] upgrades it.
func (e *Engine) Login(ctx context.Context, identifier, plainPassword string) (*TokenPair, error) {
	if err := e.admit(ctx, "/auth/login"); err != nil {
		return nil, err
	}

	identity, err := e.lookupByIdentifier(ctx, identifier)
	if err != nil {
		// Burn a verification so the miss path costs the same as a
		// password mismatch.
		_, _ = e.hasher.Verify(plainPassword, e.dummyHash)
		return nil, e.loginFailed(ctx, 0, "unknown identifier")
	}

	match, err := e.hasher.Verify(plainPassword, identity.PasswordHash)
	if err != nil || !match {
		return nil, e.loginFailed(ctx, identity.ID, "password mismatch")
	}
	if !identity.Active {
		return nil, e.loginFailed(ctx, identity.ID, "account deactivated")
	}
	if !identity.Verified {
		return nil, e.loginFailed(ctx, identity.ID, "email unverified")
	}

	if e.config.Password.UpgradeOnLogin {
		if needs, err := e.hasher.NeedsRehash(identity.PasswordHash); err == nil && needs {
			if rehash, err := e.hasher.Hash(plainPassword); err == nil {
				identity.PasswordHash = rehash
				// Best effort; the stored hash still verifies if this fails.
				_ = e.store.UpdateIdentity(ctx, identity)
			}
		}
	}

	twoFAVerified := !identity.TwoFAEnabled
	pair, session, err := e.issuePair(ctx, identity, twoFAVerified)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	if e.limiter != nil {
		e.limiter.Reset(ctx, clientOriginFromContext(ctx), requestPathFromContext(ctx, "/auth/login"))
	}

	e.emit(ctx, audit.Event{
		Type:    "login_succeeded",
		ActorID: identity.ID,
		Success: true,
		Detail: map[string]string{
			"step_up_pending": fmt.Sprintf("%t", identity.TwoFAEnabled),
		},
	})
	e.metrics.flow("login", true)
	return pair, nil
}

func (e *Engine) lookupByIdentifier(ctx context.Context, identifier string) (*store.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return e.store.IdentityByEmail(ctx, identifier)
	}
	return e.store.IdentityByUsername(ctx, identifier)
}

func (e *Engine) loginFailed(ctx context.Context, actorID int64, reason string) error {
	e.emit(ctx, audit.Event{
		Type:    "login_failed",
		ActorID: actorID,
		Error:   reason,
	})
	e.metrics.flow("login", false)
	return ErrInvalidCredentials
}
