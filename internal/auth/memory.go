package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"nasmusic.dev/internal/paging"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]*User
	revoked map[string]RevokedToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[int64]*User{}, revoked: map[string]RevokedToken{}}
}

func (s *MemoryStore) Users(context.Context) UserStore              { return (*memUsers)(s) }
func (s *MemoryStore) RevokedTokens(context.Context) RevocationStore { return (*memRevoked)(s) }

// UserCount reports how many users exist.
func (s *MemoryStore) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

type memUsers MemoryStore

func (s *memUsers) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return ErrAlreadyExists
		}
	}
	s.nextID++
	u.ID = s.nextID
	u.UpdatedAt = u.CreatedAt
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memUsers) FindByID(_ context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	return s.find(func(u *User) bool { return u.Username == username })
}

func (s *memUsers) FindByUsernameOrEmail(_ context.Context, username, email string) (*User, error) {
	return s.find(func(u *User) bool { return u.Username == username || u.Email == email })
}

func (s *memUsers) find(match func(*User) bool) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUsers) TouchLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastLogin = &t
	u.UpdatedAt = at
	return nil
}

func (s *memUsers) SetFlags(_ context.Context, id int64, flags Flags, at time.Time) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if flags.IsActive != nil {
		u.IsActive = *flags.IsActive
	}
	if flags.IsAdmin != nil {
		u.IsAdmin = *flags.IsAdmin
	}
	u.UpdatedAt = at
	cp := *u
	return &cp, nil
}

func (s *memUsers) List(_ context.Context, page paging.Page) ([]User, int, error) {
	s.mu.Lock()
	all := make([]User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *u)
	}
	s.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	start, end := page.Window(len(all))
	return all[start:end], len(all), nil
}

type memRevoked MemoryStore

func (s *memRevoked) Revoke(_ context.Context, tok RevokedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revoked[tok.JTI]; !ok {
		s.revoked[tok.JTI] = tok
	}
	return nil
}

func (s *memRevoked) IsRevoked(_ context.Context, jti string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.revoked[jti]
	return ok && tok.ExpiresAt.After(now), nil
}

func (s *memRevoked) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for jti, tok := range s.revoked {
		if !tok.ExpiresAt.After(now) {
			delete(s.revoked, jti)
			n++
		}
	}
	return n, nil
}
