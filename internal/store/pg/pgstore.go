// Package pg opens the Postgres pool and hands out the per-table stores.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"nasmusic.dev/internal/audit"
	"nasmusic.dev/internal/auth"
	"nasmusic.dev/internal/history"
)

// Store owns the connection pool shared by the users, download_history,
// audit_logs and token_blacklist stores.
type Store struct {
	db      *sql.DB
	auth    *auth.PGStore
	history *history.PGStore
	audit   *audit.PGStore
}

// Open connects through the pgx stdlib driver and pings once.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return New(db), nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store {
	return &Store{
		db:      db,
		auth:    auth.NewPGStore(db),
		history: history.NewPGStore(db),
		audit:   audit.NewPGStore(db),
	}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Auth() *auth.PGStore { return s.auth }

func (s *Store) History() *history.PGStore { return s.history }

func (s *Store) Audit() *audit.PGStore { return s.audit }

// Check implements the readiness probe.
func (s *Store) Check(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
