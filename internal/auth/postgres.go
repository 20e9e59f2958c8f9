package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"nasmusic.dev/internal/paging"
)

var _ Store = (*PGStore)(nil)

const uniqueViolation = "23505"

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &userStore{db: s.db} }
func (s *PGStore) RevokedTokens(context.Context) RevocationStore {
	return &revocationStore{db: s.db}
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, username, email, hashed_password, is_active, is_admin, created_at, updated_at, last_login`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt, &lastLogin); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	row := s.db.QueryRowContext(ctx,
		`insert into users(username, email, hashed_password, is_active, is_admin, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$6) returning id`,
		u.Username, u.Email, u.PasswordHash, u.IsActive, u.IsAdmin, u.CreatedAt,
	)
	if err := row.Scan(&u.ID); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	u.UpdatedAt = u.CreatedAt
	return nil
}

func (s *userStore) FindByID(ctx context.Context, id int64) (*User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where id=$1`, id)
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where username=$1`, username)
}

func (s *userStore) FindByUsernameOrEmail(ctx context.Context, username, email string) (*User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where username=$1 or email=$2 limit 1`, username, email)
}

func (s *userStore) findOne(ctx context.Context, query string, args ...any) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *userStore) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login=$2, updated_at=$2 where id=$1`, id, at)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *userStore) SetFlags(ctx context.Context, id int64, flags Flags, at time.Time) (*User, error) {
	return s.findOne(ctx,
		`update users set is_active=coalesce($2, is_active), is_admin=coalesce($3, is_admin), updated_at=$4
		 where id=$1 returning `+userColumns,
		id, flags.IsActive, flags.IsAdmin, at,
	)
}

func (s *userStore) List(ctx context.Context, page paging.Page) ([]User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by id asc limit $1 offset $2`,
		page.Limit(), page.Offset(),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res := make([]User, 0, page.Limit())
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, *u)
	}
	return res, total, rows.Err()
}

// Revocation store ---------------------------------------------------------
type revocationStore struct{ db *sql.DB }

func (s *revocationStore) Revoke(ctx context.Context, tok RevokedToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into token_blacklist(jti, user_id, revoked_at, expires_at) values($1,$2,$3,$4)
		 on conflict (jti) do nothing`,
		tok.JTI, tok.UserID, tok.RevokedAt, tok.ExpiresAt,
	)
	return err
}

func (s *revocationStore) IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from token_blacklist where jti=$1 and expires_at > $2)`, jti, now,
	).Scan(&exists)
	return exists, err
}

func (s *revocationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from token_blacklist where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return strings.Contains(err.Error(), "duplicate key")
}
