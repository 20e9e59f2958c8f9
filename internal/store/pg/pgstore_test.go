package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var testNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func TestCheckPingsPool(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	s := New(db)
	defer s.Close()

	mock.ExpectPing()
	if err := s.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	if err := s.Check(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoresShareThePool(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	s := New(db)
	if s.DB() != db {
		t.Fatal("DB should return the wrapped pool")
	}
	if s.Auth() == nil || s.History() == nil || s.Audit() == nil {
		t.Fatal("expected all table stores")
	}

	mock.ExpectExec(`delete from token_blacklist`).WillReturnResult(sqlmock.NewResult(0, 2))
	n, err := s.Auth().RevokedTokens(context.Background()).DeleteExpired(context.Background(), testNow)
	if err != nil || n != 2 {
		t.Fatalf("DeleteExpired = %d, %v", n, err)
	}
	mock.ExpectClose()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
