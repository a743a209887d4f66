package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/s3csys/authcore/audit"
	"github.com/s3csys/authcore/password"
	"github.com/s3csys/authcore/permission"
	"github.com/s3csys/authcore/store"
)

// Register creates an unverified identity and hands its verification
// token to the mailer. Username duplicates are checked before email
// duplicates, so the error precedence is deterministic.
func (e *Engine) Register(ctx context.Context, username, email, plainPassword string) (*store.Identity, error) {
	if err := e.admit(ctx, "/auth/register"); err != nil {
		return nil, err
	}

	if err := password.ValidateStrength(plainPassword); err != nil {
		e.metrics.flow("register", false)
		return nil, fmt.Errorf("%w: %s", ErrPasswordPolicy, err.Error())
	}

	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" {
		return nil, errors.New("username and email required")
	}

	if _, err := e.store.IdentityByUsername(ctx, username); err == nil {
		e.emit(ctx, audit.Event{
			Type:  "register_rejected",
			Error: "username taken",
			Detail: map[string]string{
				"username": username,
			},
		})
		e.metrics.flow("register", false)
		return nil, ErrAccountExists
	}
	if _, err := e.store.IdentityByEmail(ctx, email); err == nil {
		e.emit(ctx, audit.Event{
			Type:  "register_rejected",
			Error: "email taken",
			Detail: map[string]string{
				"email": email,
			},
		})
		e.metrics.flow("register", false)
		return nil, ErrAccountExists
	}

	hash, err := e.hasher.Hash(plainPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	identity := &store.Identity{
		Username:          username,
		Email:             email,
		PasswordHash:      hash,
		Active:            true,
		Verified:          false,
		VerificationToken: uuid.NewString(),
		Role:              string(permission.RoleViewer),
	}
	if err := e.store.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "user_registered",
		ActorID: identity.ID,
		Success: true,
		Detail: map[string]string{
			"username": identity.Username,
			"email":    identity.Email,
		},
	})
	e.metrics.flow("register", true)

	// Delivery failure never rolls back the registration.
	if e.mailer != nil {
		tokenValue := identity.VerificationToken
		recipient := identity.Email
		go func() {
			if err := e.mailer.SendVerification(context.Background(), recipient, tokenValue); err != nil {
				e.audit.Emit(context.Background(), audit.Event{
					Type:     "verification_mail_failed",
					Severity: audit.SeverityWarning,
					ActorID:  identity.ID,
					Error:    err.Error(),
				})
			}
		}()
	}

	return identity, nil
}

// VerifyEmail consumes a verification token. The token is single-use: a
// hit sets the verified flag and clears it in the same update.
func (e *Engine) VerifyEmail(ctx context.Context, verificationToken string) error {
	if err := e.admit(ctx, "/auth/verify-email"); err != nil {
		return err
	}

	identity, err := e.store.IdentityByVerificationToken(ctx, verificationToken)
	if err != nil {
		e.emit(ctx, audit.Event{
			Type:  "email_verification_failed",
			Error: "token absent or consumed",
		})
		e.metrics.flow("verify_email", false)
		return ErrVerificationInvalid
	}

	identity.Verified = true
	identity.VerificationToken = ""
	if err := e.store.UpdateIdentity(ctx, identity); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "email_verified",
		ActorID: identity.ID,
		Success: true,
	})
	e.metrics.flow("verify_email", true)
	return nil
}
