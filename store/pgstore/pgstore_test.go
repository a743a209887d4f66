package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/s3csys/authcore/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewWithDB(db), mock
}

func identityRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "is_active", "is_verified",
		"verification_token", "reset_token", "reset_token_expires_at",
		"role", "is_2fa_enabled", "created_at",
	})
}

func TestCreateIdentity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("insert into identities").
		WithArgs("alice", "alice@x.com", "hash", true, false, "vtok", "viewer", false, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	identity := &store.Identity{
		Username:          "alice",
		Email:             "alice@x.com",
		PasswordHash:      "hash",
		Active:            true,
		VerificationToken: "vtok",
		Role:              "viewer",
	}
	if err := s.CreateIdentity(context.Background(), identity); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if identity.ID != 7 {
		t.Fatalf("expected assigned ID 7, got %d", identity.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateIdentityDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("insert into identities").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := s.CreateIdentity(context.Background(), &store.Identity{Username: "alice"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestIdentityByUsername(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectQuery("select (.+) from identities where lower\\(username\\)").
		WithArgs("alice").
		WillReturnRows(identityRows().AddRow(
			int64(7), "alice", "alice@x.com", "hash", true, true,
			"", "", time.Unix(0, 0), "editor", false, created,
		))
	mock.ExpectQuery("select capability from identity_capabilities").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"capability"}).AddRow("view_audit_logs"))

	identity, err := s.IdentityByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("IdentityByUsername: %v", err)
	}
	if identity.Role != "editor" {
		t.Fatalf("unexpected role %q", identity.Role)
	}
	if len(identity.Overrides) != 1 || identity.Overrides[0] != "view_audit_logs" {
		t.Fatalf("unexpected overrides %v", identity.Overrides)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIdentityNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from identities where id").
		WithArgs(int64(404)).
		WillReturnRows(identityRows())

	_, err := s.IdentityByID(context.Background(), 404)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateSessionSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update sessions set is_active=false").
		WithArgs("stale-token").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into sessions").
		WithArgs(int64(7), "next-token", "fp", "test-browser", "203.0.113.1", sqlmock.AnyArg(), true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	next := &store.Session{
		IdentityID:   7,
		RefreshToken: "next-token",
		Fingerprint:  "fp",
		UserAgent:    "test-browser",
		Origin:       "203.0.113.1",
		ExpiresAt:    time.Now().Add(time.Hour),
		Active:       true,
	}
	if err := s.RotateSession(context.Background(), "stale-token", next); err != nil {
		t.Fatalf("RotateSession: %v", err)
	}
	if next.ID != 42 {
		t.Fatalf("expected assigned session ID 42, got %d", next.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRotateSessionLostRace(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update sessions set is_active=false").
		WithArgs("stale-token").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RotateSession(context.Background(), "stale-token", &store.Session{
		IdentityID:   7,
		RefreshToken: "next-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		Active:       true,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when the stale row was already consumed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRevokeAllExcept(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update sessions set is_active=false").
		WithArgs(int64(7), "keep-token").
		WillReturnResult(sqlmock.NewResult(0, 3))

	revoked, err := s.RevokeAllExcept(context.Background(), 7, "keep-token")
	if err != nil {
		t.Fatalf("RevokeAllExcept: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revoked, got %d", revoked)
	}
}

func TestRevokeSessionNotOwned(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update sessions set is_active=false").
		WithArgs(int64(9), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.RevokeSession(context.Background(), 9, 7)
	if err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if ok {
		t.Fatal("expected no-op for a session the identity does not own")
	}
}

func TestConsumeBackupCodeSingleUse(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update backup_codes set is_used=true").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update backup_codes set is_used=true").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ConsumeBackupCode(context.Background(), 3)
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = s.ConsumeBackupCode(context.Background(), 3)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok {
		t.Fatal("expected second consume to fail")
	}
}

func TestReplaceBackupCodes(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from backup_codes").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 10))
	for i := 0; i < 2; i++ {
		mock.ExpectExec("insert into backup_codes").
			WithArgs(int64(7), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
	}
	mock.ExpectCommit()

	if err := s.ReplaceBackupCodes(context.Background(), 7, []string{"h1", "h2"}); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
