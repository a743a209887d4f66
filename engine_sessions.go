package authcore

import (
	"context"
	"fmt"

	"github.com/s3csys/authcore/audit"
)

// Sessions lists the caller's active, unexpired sessions. currentToken
// may be the refresh token the caller holds; its session is annotated as
// Current. The annotation is transient and never persisted.
func (e *Engine) Sessions(ctx context.Context, caller *AuthResult, currentToken string) ([]SessionInfo, error) {
	sessions, err := e.store.ActiveSessions(ctx, caller.Identity.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, SessionInfo{
			ID:          session.ID,
			Fingerprint: session.Fingerprint,
			UserAgent:   session.UserAgent,
			Origin:      session.Origin,
			CreatedAt:   session.CreatedAt,
			ExpiresAt:   session.ExpiresAt,
			Current:     currentToken != "" && session.RefreshToken == currentToken,
		})
	}
	return out, nil
}

// RevokeSession deactivates one of the caller's sessions. Unknown ids and
// sessions owned by someone else both surface as ErrSessionNotFound.
func (e *Engine) RevokeSession(ctx context.Context, caller *AuthResult, sessionID int64) error {
	revoked, err := e.store.RevokeSession(ctx, sessionID, caller.Identity.ID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if !revoked {
		return ErrSessionNotFound
	}

	e.emit(ctx, audit.Event{
		Type:    "session_revoked",
		ActorID: caller.Identity.ID,
		Success: true,
		Detail: map[string]string{
			"session_id": fmt.Sprintf("%d", sessionID),
		},
	})
	return nil
}

// Logout revokes the session holding the presented refresh token.
func (e *Engine) Logout(ctx context.Context, caller *AuthResult, refreshToken string) error {
	session, err := e.store.SessionByToken(ctx, refreshToken)
	if err != nil || session.IdentityID != caller.Identity.ID {
		return ErrSessionNotFound
	}
	return e.RevokeSession(ctx, caller, session.ID)
}

// LogoutAll revokes every session of the caller except, optionally, the
// one holding keepToken. Returns the number revoked.
func (e *Engine) LogoutAll(ctx context.Context, caller *AuthResult, keepToken string) (int, error) {
	revoked, err := e.store.RevokeAllExcept(ctx, caller.Identity.ID, keepToken)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "logout_all",
		ActorID: caller.Identity.ID,
		Success: true,
		Detail: map[string]string{
			"revoked": fmt.Sprintf("%d", revoked),
		},
	})
	return revoked, nil
}
