// Package memstore is an in-memory implementation of the store contract.
// Single-node only: all state lives behind one mutex, which also supplies
// the rotation atomicity the contract demands. Intended for tests and
// embedded setups.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/s3csys/authcore/store"
)

// Store implements store.Store with mutex-guarded maps.
type Store struct {
	mu sync.Mutex

	identities     map[int64]*store.Identity
	sessions       map[int64]*store.Session
	sessionByToken map[string]int64
	secrets        map[int64]*store.TOTPSecret
	backupCodes    map[int64]*store.BackupCode

	nextIdentityID   int64
	nextSessionID    int64
	nextBackupCodeID int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		identities:     make(map[int64]*store.Identity),
		sessions:       make(map[int64]*store.Session),
		sessionByToken: make(map[string]int64),
		secrets:        make(map[int64]*store.TOTPSecret),
		backupCodes:    make(map[int64]*store.BackupCode),
	}
}

func cloneIdentity(identity *store.Identity) *store.Identity {
	clone := *identity
	clone.Overrides = append([]string(nil), identity.Overrides...)
	return &clone
}

func cloneSession(session *store.Session) *store.Session {
	clone := *session
	return &clone
}

// CreateIdentity implements store.IdentityStore.
func (s *Store) CreateIdentity(_ context.Context, identity *store.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.identities {
		if strings.EqualFold(existing.Username, identity.Username) ||
			strings.EqualFold(existing.Email, identity.Email) {
			return store.ErrDuplicate
		}
	}

	s.nextIdentityID++
	identity.ID = s.nextIdentityID
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	s.identities[identity.ID] = cloneIdentity(identity)
	return nil
}

func (s *Store) IdentityByID(_ context.Context, id int64) (*store.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneIdentity(identity), nil
}

func (s *Store) IdentityByUsername(ctx context.Context, username string) (*store.Identity, error) {
	return s.findIdentity(func(identity *store.Identity) bool {
		return strings.EqualFold(identity.Username, username)
	})
}

func (s *Store) IdentityByEmail(ctx context.Context, email string) (*store.Identity, error) {
	return s.findIdentity(func(identity *store.Identity) bool {
		return strings.EqualFold(identity.Email, email)
	})
}

func (s *Store) IdentityByVerificationToken(ctx context.Context, token string) (*store.Identity, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return s.findIdentity(func(identity *store.Identity) bool {
		return identity.VerificationToken == token
	})
}

func (s *Store) IdentityByResetToken(ctx context.Context, token string) (*store.Identity, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return s.findIdentity(func(identity *store.Identity) bool {
		return identity.ResetToken == token
	})
}

func (s *Store) findIdentity(match func(*store.Identity) bool) (*store.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, identity := range s.identities {
		if match(identity) {
			return cloneIdentity(identity), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateIdentity(_ context.Context, identity *store.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[identity.ID]; !ok {
		return store.ErrNotFound
	}
	s.identities[identity.ID] = cloneIdentity(identity)
	return nil
}

// CreateSession implements store.SessionStore.
func (s *Store) CreateSession(_ context.Context, session *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createSessionLocked(session)
}

func (s *Store) createSessionLocked(session *store.Session) error {
	if _, taken := s.sessionByToken[session.RefreshToken]; taken {
		return store.ErrDuplicate
	}

	s.nextSessionID++
	session.ID = s.nextSessionID
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	s.sessions[session.ID] = cloneSession(session)
	s.sessionByToken[session.RefreshToken] = session.ID
	return nil
}

func (s *Store) ActiveSessions(_ context.Context, identityID int64) ([]store.Session, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Session
	for _, session := range s.sessions {
		if session.IdentityID == identityID && session.Active && session.ExpiresAt.After(now) {
			out = append(out, *cloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) SessionByToken(_ context.Context, refreshToken string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.activeSessionByTokenLocked(refreshToken)
	if session == nil {
		return nil, store.ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) activeSessionByTokenLocked(refreshToken string) *store.Session {
	id, ok := s.sessionByToken[refreshToken]
	if !ok {
		return nil
	}
	session := s.sessions[id]
	if session == nil || !session.Active || !session.ExpiresAt.After(time.Now()) {
		return nil
	}
	return session
}

func (s *Store) RevokeSession(_ context.Context, sessionID, identityID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.IdentityID != identityID || !session.Active {
		return false, nil
	}
	session.Active = false
	return true, nil
}

func (s *Store) RevokeAllExcept(_ context.Context, identityID int64, keepToken string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, session := range s.sessions {
		if session.IdentityID != identityID || !session.Active {
			continue
		}
		if keepToken != "" && session.RefreshToken == keepToken {
			continue
		}
		session.Active = false
		revoked++
	}
	return revoked, nil
}

// RotateSession holds the store lock across the revoke and the create, so
// of two concurrent rotations of the same token exactly one succeeds.
func (s *Store) RotateSession(_ context.Context, staleToken string, next *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := s.activeSessionByTokenLocked(staleToken)
	if stale == nil {
		return store.ErrNotFound
	}
	stale.Active = false

	return s.createSessionLocked(next)
}

// TOTPSecretByIdentity implements store.TwoFAStore.
func (s *Store) TOTPSecretByIdentity(_ context.Context, identityID int64) (*store.TOTPSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[identityID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *secret
	return &clone, nil
}

func (s *Store) SaveTOTPSecret(_ context.Context, secret *store.TOTPSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *secret
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.secrets[secret.IdentityID] = &clone
	return nil
}

func (s *Store) DeleteTOTPSecret(_ context.Context, identityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.secrets, identityID)
	return nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, identityID int64, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteBackupCodesLocked(identityID)
	for _, hash := range hashes {
		s.nextBackupCodeID++
		s.backupCodes[s.nextBackupCodeID] = &store.BackupCode{
			ID:         s.nextBackupCodeID,
			IdentityID: identityID,
			CodeHash:   hash,
		}
	}
	return nil
}

func (s *Store) UnusedBackupCodes(_ context.Context, identityID int64) ([]store.BackupCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.BackupCode
	for _, code := range s.backupCodes {
		if code.IdentityID == identityID && !code.Used {
			out = append(out, *code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, codeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.backupCodes[codeID]
	if !ok || code.Used {
		return false, nil
	}
	code.Used = true
	return true, nil
}

func (s *Store) DeleteBackupCodes(_ context.Context, identityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteBackupCodesLocked(identityID)
	return nil
}

func (s *Store) deleteBackupCodesLocked(identityID int64) {
	for id, code := range s.backupCodes {
		if code.IdentityID == identityID {
			delete(s.backupCodes, id)
		}
	}
}

var _ store.Store = (*Store)(nil)
