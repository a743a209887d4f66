package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/s3csys/authcore/audit"
	"github.com/s3csys/authcore/password"
)

// RequestPasswordReset issues a single-use reset token for the account
// behind email and hands it to the mailer. The outcome is identical
// whether or not the email exists, so the flow cannot be used to probe
// for accounts.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.admit(ctx, "/auth/reset-password"); err != nil {
		return err
	}

	identity, err := e.store.IdentityByEmail(ctx, email)
	if err != nil {
		e.emit(ctx, audit.Event{
			Type:  "password_reset_requested",
			Error: "unknown email",
			Detail: map[string]string{
				"email": email,
			},
		})
		return nil
	}

	identity.ResetToken = uuid.NewString()
	identity.ResetTokenExpires = time.Now().Add(e.config.Reset.TokenTTL).UTC()
	if err := e.store.UpdateIdentity(ctx, identity); err != nil {
		return fmt.Errorf("persist reset token: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "password_reset_requested",
		ActorID: identity.ID,
		Success: true,
	})

	// Delivery failure never rolls back the token.
	if e.mailer != nil {
		tokenValue := identity.ResetToken
		recipient := identity.Email
		actorID := identity.ID
		go func() {
			if err := e.mailer.SendPasswordReset(context.Background(), recipient, tokenValue); err != nil {
				e.audit.Emit(context.Background(), audit.Event{
					Type:     "reset_mail_failed",
					Severity: audit.SeverityWarning,
					ActorID:  actorID,
					Error:    err.Error(),
				})
			}
		}()
	}
	return nil
}

// ConfirmPasswordReset validates the token and its expiry, replaces the
// password hash, clears the token, and revokes every session of the
// identity. A reset forces re-authentication everywhere.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if err := e.admit(ctx, "/auth/confirm"); err != nil {
		return err
	}

	if err := password.ValidateStrength(newPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrPasswordPolicy, err.Error())
	}

	identity, err := e.store.IdentityByResetToken(ctx, resetToken)
	if err != nil {
		e.emit(ctx, audit.Event{
			Type:  "password_reset_failed",
			Error: "token absent or consumed",
		})
		return ErrResetInvalid
	}
	if time.Now().After(identity.ResetTokenExpires) {
		e.emit(ctx, audit.Event{
			Type:    "password_reset_failed",
			ActorID: identity.ID,
			Error:   "token expired",
		})
		return ErrResetInvalid
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	identity.PasswordHash = hash
	identity.ResetToken = ""
	identity.ResetTokenExpires = time.Time{}
	if err := e.store.UpdateIdentity(ctx, identity); err != nil {
		return fmt.Errorf("replace password: %w", err)
	}

	if _, err := e.store.RevokeAllExcept(ctx, identity.ID, ""); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "password_reset_completed",
		ActorID: identity.ID,
		Success: true,
	})
	e.metrics.flow("password_reset", true)
	return nil
}
