// Package store defines the persistence contract for identities, sessions,
// and second-factor state, plus the record types shared by its backends.
//
// Implementations must serialize conflicting writes themselves. The one
// operation with a hard transactional requirement is [SessionStore.RotateSession]:
// deactivating the superseded session and creating its replacement must be
// atomic with respect to a concurrent rotation of the same stale token, so
// a replayed refresh token can never yield two live sessions.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports that no row matched. Backends return it for
	// missing and for not-owned rows alike so lookups leak nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate reports a uniqueness violation on create.
	ErrDuplicate = errors.New("store: duplicate")
)

// Identity is the account record. Rows are never physically deleted; the
// Active flag is the only off switch.
type Identity struct {
	ID                int64
	Username          string
	Email             string
	PasswordHash      string
	Active            bool
	Verified          bool
	VerificationToken string
	ResetToken        string
	ResetTokenExpires time.Time
	Role              string
	Overrides         []string
	TwoFAEnabled      bool
	CreatedAt         time.Time
}

// Session is one refresh-token grant. A session past ExpiresAt is invalid
// even while Active is still set; reads must filter on both.
type Session struct {
	ID           int64
	IdentityID   int64
	RefreshToken string
	Fingerprint  string
	// UserAgent is the raw string the fingerprint was derived from, kept
	// so session listings stay human-readable.
	UserAgent string
	Origin    string
	ExpiresAt time.Time
	Active    bool
	CreatedAt time.Time
}

// TOTPSecret is the per-identity shared secret. Verified distinguishes a
// pending setup from an active second factor.
type TOTPSecret struct {
	IdentityID int64
	Secret     string
	Verified   bool
	CreatedAt  time.Time
}

// BackupCode holds only the one-way hash of a recovery code.
type BackupCode struct {
	ID         int64
	IdentityID int64
	CodeHash   string
	Used       bool
}

// IdentityStore is the account persistence contract.
type IdentityStore interface {
	// CreateIdentity inserts the record and assigns its ID. Returns
	// ErrDuplicate when the username or email is taken.
	CreateIdentity(ctx context.Context, identity *Identity) error
	IdentityByID(ctx context.Context, id int64) (*Identity, error)
	IdentityByUsername(ctx context.Context, username string) (*Identity, error)
	IdentityByEmail(ctx context.Context, email string) (*Identity, error)
	IdentityByVerificationToken(ctx context.Context, token string) (*Identity, error)
	IdentityByResetToken(ctx context.Context, token string) (*Identity, error)
	// UpdateIdentity persists every mutable field of the record.
	UpdateIdentity(ctx context.Context, identity *Identity) error
}

// SessionStore is the refresh-session persistence contract.
type SessionStore interface {
	// CreateSession inserts the record and assigns its ID. Refresh-token
	// values are unique system-wide; a collision returns ErrDuplicate.
	CreateSession(ctx context.Context, session *Session) error
	// ActiveSessions lists sessions with Active set and ExpiresAt in the
	// future, newest first.
	ActiveSessions(ctx context.Context, identityID int64) ([]Session, error)
	// SessionByToken fetches the active, unexpired session holding the
	// exact refresh-token value.
	SessionByToken(ctx context.Context, refreshToken string) (*Session, error)
	// RevokeSession deactivates one session if it exists and belongs to
	// identityID. Reports whether a row changed.
	RevokeSession(ctx context.Context, sessionID, identityID int64) (bool, error)
	// RevokeAllExcept deactivates every active session of the identity,
	// sparing the one holding keepToken when non-empty. Returns the
	// number revoked.
	RevokeAllExcept(ctx context.Context, identityID int64, keepToken string) (int, error)
	// RotateSession atomically deactivates the active session holding
	// staleToken and creates next. When a concurrent rotation already
	// consumed the token, returns ErrNotFound and creates nothing.
	RotateSession(ctx context.Context, staleToken string, next *Session) error
}

// TwoFAStore is the TOTP-secret and backup-code persistence contract.
type TwoFAStore interface {
	TOTPSecretByIdentity(ctx context.Context, identityID int64) (*TOTPSecret, error)
	// SaveTOTPSecret inserts or replaces the identity's secret row.
	SaveTOTPSecret(ctx context.Context, secret *TOTPSecret) error
	DeleteTOTPSecret(ctx context.Context, identityID int64) error
	// ReplaceBackupCodes deletes the identity's existing codes and
	// inserts a fresh batch of hashes.
	ReplaceBackupCodes(ctx context.Context, identityID int64, hashes []string) error
	// UnusedBackupCodes lists the identity's codes not yet consumed.
	UnusedBackupCodes(ctx context.Context, identityID int64) ([]BackupCode, error)
	// ConsumeBackupCode marks one code used. Reports false when the code
	// was already consumed, so concurrent redemptions of the same code
	// admit at most one caller.
	ConsumeBackupCode(ctx context.Context, codeID int64) (bool, error)
	DeleteBackupCodes(ctx context.Context, identityID int64) error
}

// Store is the full persistence surface the Engine requires.
type Store interface {
	IdentityStore
	SessionStore
	TwoFAStore
}
