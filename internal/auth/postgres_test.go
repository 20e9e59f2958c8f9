package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

var userCols = []string{"id", "username", "email", "hashed_password", "is_active", "is_admin", "created_at", "updated_at", "last_login"}

func TestPGUserCreateMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("insert into users").
		WithArgs("alice", "alice@example.com", "hash", true, false, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("insert into users").
		WithArgs("alice", "alice@example.com", "hash", true, false, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	users := NewPGStore(db).Users(context.Background())
	u := &User{Username: "alice", Email: "alice@example.com", PasswordHash: "hash", IsActive: true, CreatedAt: now}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID != 1 {
		t.Fatalf("expected id 1, got %d", u.ID)
	}
	dup := &User{Username: "alice", Email: "alice@example.com", PasswordHash: "hash", IsActive: true, CreatedAt: now}
	if err := users.Create(context.Background(), dup); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUserFindByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("select id, username, email.*from users where username=\\$1").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(int64(4), "alice", "alice@example.com", "hash", true, false, now, now, now))
	mock.ExpectQuery("select id, username, email.*from users where username=\\$1").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	users := NewPGStore(db).Users(context.Background())
	u, err := users.FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if u.ID != 4 || u.LastLogin == nil || !u.LastLogin.Equal(now) {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := users.FindByUsername(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRevocationStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	exp := now.Add(30 * time.Minute)
	mock.ExpectExec("insert into token_blacklist.*on conflict \\(jti\\) do nothing").
		WithArgs("jti-1", int64(9), now, exp).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("select exists\\(select 1 from token_blacklist where jti=\\$1 and expires_at > \\$2\\)").
		WithArgs("jti-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("delete from token_blacklist where expires_at <= \\$1").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	revs := NewPGStore(db).RevokedTokens(context.Background())
	if err := revs.Revoke(context.Background(), RevokedToken{JTI: "jti-1", UserID: 9, RevokedAt: now, ExpiresAt: exp}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	ok, err := revs.IsRevoked(context.Background(), "jti-1", now)
	if err != nil || !ok {
		t.Fatalf("IsRevoked: ok=%v err=%v", ok, err)
	}
	n, err := revs.DeleteExpired(context.Background(), now)
	if err != nil || n != 3 {
		t.Fatalf("DeleteExpired: n=%d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGTouchLoginMissingUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("update users set last_login").
		WithArgs(int64(77), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPGStore(db).Users(context.Background()).TouchLogin(context.Background(), 77, now)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
