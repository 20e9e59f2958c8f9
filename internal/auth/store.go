package auth

import (
	"context"
	"time"

	"nasmusic.dev/internal/paging"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	RevokedTokens(ctx context.Context) RevocationStore
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	// FindByUsernameOrEmail returns any user holding either value.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*User, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
	SetFlags(ctx context.Context, id int64, flags Flags, at time.Time) (*User, error)
	List(ctx context.Context, page paging.Page) ([]User, int, error)
}

// RevocationStore manages the token blacklist.
type RevocationStore interface {
	// Revoke is idempotent on jti.
	Revoke(ctx context.Context, tok RevokedToken) error
	IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
