// Package pgstore is the PostgreSQL implementation of the store contract,
// accessed through database/sql with the pgx stdlib driver.
//
// Session rotation relies on a conditional UPDATE of the stale row: of two
// concurrent rotations of the same token, the one whose UPDATE matches zero
// rows loses and observes not-found.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/s3csys/authcore/store"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to PostgreSQL and tunes the pool for short auth queries.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const identityColumns = `id, username, email, password_hash, is_active, is_verified,
	coalesce(verification_token, ''), coalesce(reset_token, ''),
	coalesce(reset_token_expires_at, 'epoch'::timestamptz), role, is_2fa_enabled, created_at`

func (s *Store) scanIdentity(ctx context.Context, row *sql.Row) (*store.Identity, error) {
	var identity store.Identity
	err := row.Scan(
		&identity.ID, &identity.Username, &identity.Email, &identity.PasswordHash,
		&identity.Active, &identity.Verified, &identity.VerificationToken,
		&identity.ResetToken, &identity.ResetTokenExpires, &identity.Role,
		&identity.TwoFAEnabled, &identity.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}

	overrides, err := s.overrides(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	identity.Overrides = overrides
	return &identity, nil
}

func (s *Store) overrides(ctx context.Context, identityID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select capability from identity_capabilities where identity_id=$1 order by capability`,
		identityID)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var capability string
		if err := rows.Scan(&capability); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out = append(out, capability)
	}
	return out, rows.Err()
}

// CreateIdentity implements store.IdentityStore.
func (s *Store) CreateIdentity(ctx context.Context, identity *store.Identity) error {
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into identities
			(username, email, password_hash, is_active, is_verified,
			 verification_token, role, is_2fa_enabled, created_at)
		values ($1, lower($2), $3, $4, $5, nullif($6, ''), $7, $8, $9)
		returning id
	`, identity.Username, identity.Email, identity.PasswordHash,
		identity.Active, identity.Verified, identity.VerificationToken,
		identity.Role, identity.TwoFAEnabled, identity.CreatedAt,
	).Scan(&identity.ID)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *Store) IdentityByID(ctx context.Context, id int64) (*store.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id=$1`, id)
	return s.scanIdentity(ctx, row)
}

func (s *Store) IdentityByUsername(ctx context.Context, username string) (*store.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where lower(username)=lower($1)`, username)
	return s.scanIdentity(ctx, row)
}

func (s *Store) IdentityByEmail(ctx context.Context, email string) (*store.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where email=lower($1)`, email)
	return s.scanIdentity(ctx, row)
}

func (s *Store) IdentityByVerificationToken(ctx context.Context, token string) (*store.Identity, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where verification_token=$1`, token)
	return s.scanIdentity(ctx, row)
}

func (s *Store) IdentityByResetToken(ctx context.Context, token string) (*store.Identity, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where reset_token=$1`, token)
	return s.scanIdentity(ctx, row)
}

func (s *Store) UpdateIdentity(ctx context.Context, identity *store.Identity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update identity: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update identities set
			password_hash=$2, is_active=$3, is_verified=$4,
			verification_token=nullif($5, ''), reset_token=nullif($6, ''),
			reset_token_expires_at=nullif($7, 'epoch'::timestamptz),
			role=$8, is_2fa_enabled=$9
		where id=$1
	`, identity.ID, identity.PasswordHash, identity.Active, identity.Verified,
		identity.VerificationToken, identity.ResetToken, identity.ResetTokenExpires.UTC(),
		identity.Role, identity.TwoFAEnabled)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`delete from identity_capabilities where identity_id=$1`, identity.ID); err != nil {
		return fmt.Errorf("clear overrides: %w", err)
	}
	for _, capability := range identity.Overrides {
		if _, err := tx.ExecContext(ctx,
			`insert into identity_capabilities (identity_id, capability) values ($1, $2)`,
			identity.ID, capability); err != nil {
			return fmt.Errorf("insert override: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update identity: %w", err)
	}
	return nil
}

// CreateSession implements store.SessionStore.
func (s *Store) CreateSession(ctx context.Context, session *store.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into sessions
			(identity_id, refresh_token, fingerprint, user_agent, origin, expires_at, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning id
	`, session.IdentityID, session.RefreshToken, session.Fingerprint, session.UserAgent,
		session.Origin, session.ExpiresAt.UTC(), session.Active, session.CreatedAt,
	).Scan(&session.ID)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, identity_id, refresh_token, coalesce(fingerprint, ''),
	coalesce(user_agent, ''), coalesce(origin, ''), expires_at, is_active, created_at`

func scanSession(row interface{ Scan(...any) error }) (*store.Session, error) {
	var session store.Session
	err := row.Scan(
		&session.ID, &session.IdentityID, &session.RefreshToken,
		&session.Fingerprint, &session.UserAgent, &session.Origin,
		&session.ExpiresAt, &session.Active, &session.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &session, nil
}

func (s *Store) ActiveSessions(ctx context.Context, identityID int64) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+` from sessions
		where identity_id=$1 and is_active and expires_at > now()
		order by created_at desc, id desc
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *session)
	}
	return out, rows.Err()
}

func (s *Store) SessionByToken(ctx context.Context, refreshToken string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+sessionColumns+` from sessions
		where refresh_token=$1 and is_active and expires_at > now()
	`, refreshToken)
	return scanSession(row)
}

func (s *Store) RevokeSession(ctx context.Context, sessionID, identityID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set is_active=false
		where id=$1 and identity_id=$2 and is_active
	`, sessionID, identityID)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) RevokeAllExcept(ctx context.Context, identityID int64, keepToken string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set is_active=false
		where identity_id=$1 and is_active and ($2 = '' or refresh_token <> $2)
	`, identityID, keepToken)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return int(affected), nil
}

// RotateSession deactivates the stale row with a conditional UPDATE inside
// a transaction; zero rows affected means a concurrent rotation won.
func (s *Store) RotateSession(ctx context.Context, staleToken string, next *store.Session) error {
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update sessions set is_active=false
		where refresh_token=$1 and is_active and expires_at > now()
	`, staleToken)
	if err != nil {
		return fmt.Errorf("deactivate stale session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate stale session: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	err = tx.QueryRowContext(ctx, `
		insert into sessions
			(identity_id, refresh_token, fingerprint, user_agent, origin, expires_at, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning id
	`, next.IdentityID, next.RefreshToken, next.Fingerprint, next.UserAgent,
		next.Origin, next.ExpiresAt.UTC(), next.Active, next.CreatedAt,
	).Scan(&next.ID)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert rotated session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// TOTPSecretByIdentity implements store.TwoFAStore.
func (s *Store) TOTPSecretByIdentity(ctx context.Context, identityID int64) (*store.TOTPSecret, error) {
	var secret store.TOTPSecret
	err := s.db.QueryRowContext(ctx, `
		select identity_id, secret, is_verified, created_at
		from totp_secrets where identity_id=$1
	`, identityID).Scan(&secret.IdentityID, &secret.Secret, &secret.Verified, &secret.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query totp secret: %w", err)
	}
	return &secret, nil
}

func (s *Store) SaveTOTPSecret(ctx context.Context, secret *store.TOTPSecret) error {
	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into totp_secrets (identity_id, secret, is_verified, created_at)
		values ($1, $2, $3, $4)
		on conflict (identity_id) do update
		set secret=excluded.secret, is_verified=excluded.is_verified
	`, secret.IdentityID, secret.Secret, secret.Verified, secret.CreatedAt)
	if err != nil {
		return fmt.Errorf("save totp secret: %w", err)
	}
	return nil
}

func (s *Store) DeleteTOTPSecret(ctx context.Context, identityID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`delete from totp_secrets where identity_id=$1`, identityID); err != nil {
		return fmt.Errorf("delete totp secret: %w", err)
	}
	return nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, identityID int64, hashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace backup codes: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from backup_codes where identity_id=$1`, identityID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}
	for _, hash := range hashes {
		if _, err := tx.ExecContext(ctx,
			`insert into backup_codes (identity_id, code_hash) values ($1, $2)`,
			identityID, hash); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace backup codes: %w", err)
	}
	return nil
}

func (s *Store) UnusedBackupCodes(ctx context.Context, identityID int64) ([]store.BackupCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, identity_id, code_hash, is_used
		from backup_codes where identity_id=$1 and not is_used
		order by id
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("query backup codes: %w", err)
	}
	defer rows.Close()

	var out []store.BackupCode
	for rows.Next() {
		var code store.BackupCode
		if err := rows.Scan(&code.ID, &code.IdentityID, &code.CodeHash, &code.Used); err != nil {
			return nil, fmt.Errorf("scan backup code: %w", err)
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// ConsumeBackupCode admits at most one caller per code: the conditional
// UPDATE matches zero rows for every redemption after the first.
func (s *Store) ConsumeBackupCode(ctx context.Context, codeID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update backup_codes set is_used=true where id=$1 and not is_used`, codeID)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) DeleteBackupCodes(ctx context.Context, identityID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`delete from backup_codes where identity_id=$1`, identityID); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}
	return nil
}
