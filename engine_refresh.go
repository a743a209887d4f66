package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/s3csys/authcore/audit"
	"github.com/s3csys/authcore/fingerprint"
	"github.com/s3csys/authcore/store"
	"github.com/s3csys/authcore/token"
)

// Refresh exchanges a refresh token for a new access and refresh pair
// bound to the same fingerprint and origin. The presented token must be
// both cryptographically valid and an active session row; rotation is
// atomic, so a replayed stale token yields at most one new session.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.admit(ctx, "/auth/refresh"); err != nil {
		return nil, err
	}

	origin := clientOriginFromContext(ctx)
	requestFP := fingerprint.Generate(userAgentFromContext(ctx))

	claims, err := e.tokens.Verify(refreshToken, token.TypeRefresh, requestFP, origin)
	if err != nil {
		if errors.Is(err, token.ErrBindingRejected) {
			e.emit(ctx, audit.Event{
				Type:     "token_binding_rejected",
				Severity: audit.SeverityError,
				Error:    "refresh token replayed from unexpected context",
			})
		} else {
			e.emit(ctx, audit.Event{
				Type:  "refresh_failed",
				Error: err.Error(),
			})
		}
		e.metrics.flow("refresh", false)
		return nil, ErrRefreshInvalid
	}

	subjectID, err := claims.SubjectID()
	if err != nil {
		e.metrics.flow("refresh", false)
		return nil, ErrRefreshInvalid
	}

	identity, err := e.store.IdentityByID(ctx, subjectID)
	if err != nil || !identity.Active {
		e.emit(ctx, audit.Event{
			Type:    "refresh_failed",
			ActorID: subjectID,
			Error:   "subject missing or deactivated",
		})
		e.metrics.flow("refresh", false)
		return nil, ErrRefreshInvalid
	}

	pair, next, err := e.issuePair(ctx, identity, claims.TwoFAVerified)
	if err != nil {
		return nil, err
	}

	if err := e.store.RotateSession(ctx, refreshToken, next); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Signature-valid token without an active session row: either
			// it was revoked, or a concurrent rotation already consumed it.
			e.emit(ctx, audit.Event{
				Type:     "refresh_reuse_detected",
				Severity: audit.SeverityError,
				ActorID:  identity.ID,
				Error:    "stale refresh token replayed",
			})
			e.metrics.flow("refresh", false)
			return nil, ErrRefreshInvalid
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "session_refreshed",
		ActorID: identity.ID,
		Success: true,
	})
	e.metrics.flow("refresh", true)
	return pair, nil
}
