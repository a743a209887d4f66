// Package totp implements the time-based one-time-password second factor:
// secret generation, provisioning URIs for authenticator enrollment, code
// verification, and single-use backup codes.
//
// Verification accepts the current 30-second step plus one step of clock
// drift on either side. The tolerance is deliberate and fixed; widening it
// weakens the factor, narrowing it strands users with skewed clocks.
package totp

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// secretBytes is 160 bits of entropy, per RFC 4226 recommendations.
	secretBytes = 20

	period = 30
	digits = otp.DigitsSix
	skew   = 1

	// BackupCodeCount is the number of backup codes issued per enrollment.
	BackupCodeCount = 10

	backupCodeBytes = 4 // 8 hex chars
)

// Manager generates and verifies TOTP credentials. Safe for concurrent use.
type Manager struct {
	issuer string
}

// New returns a [Manager] that embeds issuer into provisioning URIs.
func New(issuer string) *Manager {
	if issuer == "" {
		issuer = "authcore"
	}
	return &Manager{issuer: issuer}
}

// GenerateSecret returns a fresh base32-encoded 160-bit secret.
func (m *Manager) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// enrollment URI for the given secret and
// account label, suitable for QR-code display.
func (m *Manager) ProvisionURI(secret, account string) (string, error) {
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", errors.New("invalid base32 secret")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Secret:      raw,
		Period:      period,
		Digits:      digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", err
	}

	return key.URL(), nil
}

// VerifyCode reports whether code is valid for secret at the current time,
// within the fixed drift window.
func (m *Manager) VerifyCode(secret, code string) bool {
	return m.VerifyCodeAt(secret, code, time.Now())
}

// VerifyCodeAt is VerifyCode against an explicit clock reading.
func (m *Manager) VerifyCodeAt(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, at, totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

// GenerateBackupCodes returns [BackupCodeCount] recovery codes in plaintext
// alongside their hashes computed with hashFn. The plaintext slice is handed
// to the caller exactly once and must never be persisted.
func (m *Manager) GenerateBackupCodes(hashFn func(string) (string, error)) (plain []string, hashed []string, err error) {
	plain = make([]string, 0, BackupCodeCount)
	hashed = make([]string, 0, BackupCodeCount)

	for i := 0; i < BackupCodeCount; i++ {
		raw := make([]byte, backupCodeBytes)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, err
		}
		code := strings.ToUpper(hex.EncodeToString(raw))

		h, err := hashFn(code)
		if err != nil {
			return nil, nil, err
		}

		plain = append(plain, code)
		hashed = append(hashed, h)
	}

	return plain, hashed, nil
}
