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

// SetupTOTP starts 2FA enrollment: it stores an unverified secret and
// returns it with the provisioning URI for QR display. Rejected while a
// confirmed secret exists; an abandoned unconfirmed enrollment is
// overwritten so the user can start over.
func (e *Engine) SetupTOTP(ctx context.Context, caller *AuthResult) (*TOTPSetup, error) {
	identity := caller.Identity

	if existing, err := e.store.TOTPSecretByIdentity(ctx, identity.ID); err == nil && existing.Verified {
		return nil, ErrTwoFAEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	uri, err := e.totp.ProvisionURI(secret, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("build provisioning uri: %w", err)
	}

	if err := e.store.SaveTOTPSecret(ctx, &store.TOTPSecret{
		IdentityID: identity.ID,
		Secret:     secret,
	}); err != nil {
		return nil, fmt.Errorf("persist totp secret: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "totp_setup_started",
		ActorID: identity.ID,
		Success: true,
	})
	return &TOTPSetup{Secret: secret, ProvisioningURI: uri}, nil
}

// ConfirmTOTP completes enrollment: the submitted code proves possession
// of the secret, which flips it to verified, enables 2FA on the identity,
// and mints the backup code batch. The plaintext codes are returned
// exactly once and never stored.
func (e *Engine) ConfirmTOTP(ctx context.Context, caller *AuthResult, code string) ([]string, error) {
	if err := e.admit(ctx, "/auth/2fa/verify"); err != nil {
		return nil, err
	}
	identity := caller.Identity

	secret, err := e.store.TOTPSecretByIdentity(ctx, identity.ID)
	if err != nil {
		return nil, ErrTwoFANotConfigured
	}
	if secret.Verified {
		return nil, ErrTwoFAEnabled
	}

	if !e.totp.VerifyCode(secret.Secret, code) {
		e.emit(ctx, audit.Event{
			Type:    "totp_confirm_failed",
			ActorID: identity.ID,
			Error:   "code mismatch",
		})
		e.metrics.flow("totp_confirm", false)
		return nil, ErrTwoFAInvalid
	}

	plain, hashed, err := e.totp.GenerateBackupCodes(e.hasher.Hash)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}
	if err := e.store.ReplaceBackupCodes(ctx, identity.ID, hashed); err != nil {
		return nil, fmt.Errorf("persist backup codes: %w", err)
	}

	secret.Verified = true
	if err := e.store.SaveTOTPSecret(ctx, secret); err != nil {
		return nil, fmt.Errorf("mark secret verified: %w", err)
	}
	identity.TwoFAEnabled = true
	if err := e.store.UpdateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("enable 2fa: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "totp_enabled",
		ActorID: identity.ID,
		Success: true,
	})
	e.metrics.flow("totp_confirm", true)
	return plain, nil
}

// StepUp completes a 2FA login: given an access token whose step-up claim
// is unset, it verifies a TOTP code (checked first) or an unused backup
// code (consumed on match) and issues a fresh pair with the claim set.
func (e *Engine) StepUp(ctx context.Context, accessToken, code string) (*TokenPair, error) {
	if err := e.admit(ctx, "/auth/2fa/verify"); err != nil {
		return nil, err
	}

	origin := clientOriginFromContext(ctx)
	requestFP := fingerprint.Generate(userAgentFromContext(ctx))

	claims, err := e.tokens.Verify(accessToken, token.TypeAccess, requestFP, origin)
	if err != nil {
		e.metrics.flow("step_up", false)
		return nil, ErrTokenInvalid
	}
	subjectID, err := claims.SubjectID()
	if err != nil {
		e.metrics.flow("step_up", false)
		return nil, ErrTokenInvalid
	}

	identity, err := e.store.IdentityByID(ctx, subjectID)
	if err != nil || !identity.Active {
		e.metrics.flow("step_up", false)
		return nil, ErrTokenInvalid
	}
	if !identity.TwoFAEnabled {
		return nil, ErrTwoFANotConfigured
	}

	if !e.verifySecondFactor(ctx, identity.ID, code) {
		e.emit(ctx, audit.Event{
			Type:    "step_up_failed",
			ActorID: identity.ID,
			Error:   "second factor mismatch",
		})
		e.metrics.flow("step_up", false)
		return nil, ErrTwoFAInvalid
	}

	pair, session, err := e.issuePair(ctx, identity, true)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "step_up_succeeded",
		ActorID: identity.ID,
		Success: true,
	})
	e.metrics.flow("step_up", true)
	return pair, nil
}

// verifySecondFactor tries the TOTP secret first, then unused backup
// codes. A backup code match consumes the code; a consumed code never
// verifies again, even if it happens to equal a current TOTP code.
func (e *Engine) verifySecondFactor(ctx context.Context, identityID int64, code string) bool {
	secret, err := e.store.TOTPSecretByIdentity(ctx, identityID)
	if err != nil || !secret.Verified {
		return false
	}
	if e.totp.VerifyCode(secret.Secret, code) {
		return true
	}

	codes, err := e.store.UnusedBackupCodes(ctx, identityID)
	if err != nil {
		return false
	}
	for _, backup := range codes {
		match, err := e.hasher.Verify(code, backup.CodeHash)
		if err != nil || !match {
			continue
		}
		consumed, err := e.store.ConsumeBackupCode(ctx, backup.ID)
		if err != nil {
			return false
		}
		return consumed
	}
	return false
}

// DisableTOTP removes the secret and every backup code and clears the
// enrollment flag. A confirmed factor requires the caller to re-prove
// possession; an unconfirmed enrollment never became a factor and is
// removed without a code.
func (e *Engine) DisableTOTP(ctx context.Context, caller *AuthResult, code string) error {
	identity := caller.Identity

	secret, err := e.store.TOTPSecretByIdentity(ctx, identity.ID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrTwoFANotConfigured
	}
	if err != nil {
		return fmt.Errorf("load totp secret: %w", err)
	}
	if secret.Verified && !e.verifySecondFactor(ctx, identity.ID, code) {
		e.emit(ctx, audit.Event{
			Type:    "totp_disable_failed",
			ActorID: identity.ID,
			Error:   "second factor mismatch",
		})
		return ErrTwoFAInvalid
	}

	if err := e.store.DeleteBackupCodes(ctx, identity.ID); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}
	if err := e.store.DeleteTOTPSecret(ctx, identity.ID); err != nil {
		return fmt.Errorf("delete totp secret: %w", err)
	}
	identity.TwoFAEnabled = false
	if err := e.store.UpdateIdentity(ctx, identity); err != nil {
		return fmt.Errorf("disable 2fa: %w", err)
	}

	e.emit(ctx, audit.Event{
		Type:    "totp_disabled",
		ActorID: identity.ID,
		Success: true,
	})
	return nil
}
