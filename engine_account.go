package authcore

import (
	"context"
	"fmt"

	"github.com/s3csys/authcore/audit"
	"github.com/s3csys/authcore/password"
	"github.com/s3csys/authcore/permission"
)

// ChangePassword replaces the caller's password after verifying the
// current one, then revokes every other session. keepToken names the
// caller's refresh token so their own session survives.
func (e *Engine) ChangePassword(ctx context.Context, caller *AuthResult, currentPassword, newPassword, keepToken string) error {
	identity := caller.Identity

	match, err := e.hasher.Verify(currentPassword, identity.PasswordHash)
	if err != nil || !match {
		e.emit(ctx, audit.Event{
			Type:    "password_change_failed",
			ActorID: identity.ID,
			Error:   "current password mismatch",
		})
		return ErrInvalidCredentials
	}
	if err := password.ValidateStrength(newPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrPasswordPolicy, err.Error())
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	identity.PasswordHash = hash
	if err := e.store.UpdateIdentity(ctx, identity); err != nil {
		return fmt.Errorf("replace password: %w", err)
	}

	if _, err := e.store.RevokeAllExcept(ctx, identity.ID, keepToken); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "password_changed",
		ActorID: identity.ID,
		Success: true,
	})
	return nil
}

// DeactivateAccount soft-disables an identity: sessions are revoked and
// every subsequent authentication fails, but the row is never deleted.
func (e *Engine) DeactivateAccount(ctx context.Context, identityID int64) error {
	identity, err := e.store.IdentityByID(ctx, identityID)
	if err != nil {
		return ErrUserNotFound
	}

	identity.Active = false
	if err := e.store.UpdateIdentity(ctx, identity); err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	if _, err := e.store.RevokeAllExcept(ctx, identity.ID, ""); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:     "account_deactivated",
		Severity: audit.SeverityWarning,
		ActorID:  identity.ID,
		Success:  true,
	})
	return nil
}

// ChangeRole reassigns an identity's role tier. Override capabilities are
// independent of the role and survive the change.
func (e *Engine) ChangeRole(ctx context.Context, identityID int64, newRole permission.Role) error {
	if permission.Rank(newRole) == 0 {
		return fmt.Errorf("unknown role %q", newRole)
	}

	identity, err := e.store.IdentityByID(ctx, identityID)
	if err != nil {
		return ErrUserNotFound
	}

	previous := identity.Role
	identity.Role = string(newRole)
	if err := e.store.UpdateIdentity(ctx, identity); err != nil {
		return fmt.Errorf("change role: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "role_changed",
		ActorID: identity.ID,
		Success: true,
		Detail: map[string]string{
			"previous_role": previous,
			"new_role":      string(newRole),
		},
	})
	return nil
}
