package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"nasmusic.dev/internal/audit"
	"nasmusic.dev/internal/obs"
	"nasmusic.dev/internal/paging"
)

const (
	maxUsernameLen = 50
	maxEmailLen    = 100
)

// Recorder appends account events to the audit log.
type Recorder interface {
	UserAction(ctx context.Context, userID *int64, action, details string, origin audit.Origin, status string) error
}

// Service implements registration, login, logout and bearer authentication.
type Service struct {
	store  Store
	tokens *Tokens
	audit  Recorder
	cache  RevocationCache
	now    func() time.Time
	log    *zap.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRevocationCache enables the cache consulted before the blacklist table.
func WithRevocationCache(c RevocationCache) ServiceOption {
	return func(s *Service) error {
		s.cache = c
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
			s.tokens.now = fn
		}
		return nil
	}
}

// WithLogger overrides the logger; defaults to obs.Logger().
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *Tokens, recorder Recorder, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil || recorder == nil {
		return nil, errors.New("auth: store, tokens and audit recorder are required")
	}
	svc := &Service{
		store:  store,
		tokens: tokens,
		audit:  recorder,
		now:    time.Now,
		log:    obs.Logger(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Register creates an active, non-admin account.
func (s *Service) Register(ctx context.Context, reg Registration, origin audit.Origin) (*User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}

	users := s.store.Users(ctx)
	if _, err := users.FindByUsernameOrEmail(ctx, reg.Username, reg.Email); err == nil {
		return nil, s.registerConflict(ctx, reg, origin)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := HashPassword(reg.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, s.registerConflict(ctx, reg, origin)
		}
		return nil, err
	}
	if err := s.audit.UserAction(ctx, &user.ID, audit.ActionRegisterSuccess,
		"New user registered: "+user.Username, origin, audit.StatusSuccess); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.String("username", user.Username), zap.Int64("user_id", user.ID))
	return user, nil
}

func (s *Service) registerConflict(ctx context.Context, reg Registration, origin audit.Origin) error {
	if err := s.audit.UserAction(ctx, nil, audit.ActionRegisterFailed,
		"User already exists: "+reg.Username, origin, audit.StatusFailed); err != nil {
		return err
	}
	return ErrAlreadyExists
}

func validateRegistration(reg Registration) error {
	switch {
	case reg.Username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	case utf8.RuneCountInString(reg.Username) > maxUsernameLen:
		return fmt.Errorf("%w: username exceeds %d characters", ErrInvalidInput, maxUsernameLen)
	case reg.Email == "":
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	case utf8.RuneCountInString(reg.Email) > maxEmailLen:
		return fmt.Errorf("%w: email exceeds %d characters", ErrInvalidInput, maxEmailLen)
	case reg.Password == "":
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	case len(reg.Password) > maxPasswordBytes:
		return fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	if addr, err := mail.ParseAddress(reg.Email); err != nil || addr.Address != reg.Email {
		return fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	return nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string, origin audit.Origin) (string, TokenInfo, error) {
	users := s.store.Users(ctx)
	user, err := users.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", TokenInfo{}, err
	}
	if !passwordMatches(user, password) {
		var uid *int64
		if user != nil {
			uid = &user.ID
		}
		if err := s.audit.UserAction(ctx, uid, audit.ActionLoginFailed,
			"Failed login attempt for: "+username, origin, audit.StatusFailed); err != nil {
			return "", TokenInfo{}, err
		}
		return "", TokenInfo{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		if err := s.audit.UserAction(ctx, &user.ID, audit.ActionLoginFailed,
			"Inactive user login attempt: "+username, origin, audit.StatusFailed); err != nil {
			return "", TokenInfo{}, err
		}
		return "", TokenInfo{}, ErrInactiveUser
	}

	if err := users.TouchLogin(ctx, user.ID, s.now().UTC()); err != nil {
		return "", TokenInfo{}, err
	}
	token, info, err := s.tokens.Issue(user.Username)
	if err != nil {
		return "", TokenInfo{}, err
	}
	if err := s.audit.UserAction(ctx, &user.ID, audit.ActionLoginSuccess,
		"User logged in: "+user.Username, origin, audit.StatusSuccess); err != nil {
		return "", TokenInfo{}, err
	}
	s.log.Info("user logged in", zap.String("username", user.Username))
	return token, info, nil
}

// Authenticate resolves a bearer token into an Identity. Checks run in order:
// signature and expiry, jti, subject, revocation, user lookup, active flag.
func (s *Service) Authenticate(ctx context.Context, raw string) (Identity, error) {
	info, err := s.tokens.Parse(raw)
	if err != nil {
		return Identity{}, err
	}
	revoked, err := s.isRevoked(ctx, info.ID)
	if err != nil {
		return Identity{}, err
	}
	if revoked {
		return Identity{}, ErrTokenRevoked
	}
	user, err := s.store.Users(ctx).FindByUsername(ctx, info.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrUserNotFound
		}
		return Identity{}, err
	}
	if !user.IsActive {
		return Identity{}, ErrInactiveUser
	}
	return Identity{User: *user, Token: info}, nil
}

func (s *Service) isRevoked(ctx context.Context, jti string) (bool, error) {
	if s.cache != nil {
		hit, err := s.cache.IsRevoked(ctx, jti)
		if err == nil && hit {
			return true, nil
		}
		if err != nil {
			s.log.Warn("revocation cache lookup failed", zap.Error(err))
		}
	}
	return s.store.RevokedTokens(ctx).IsRevoked(ctx, jti, s.now().UTC())
}

// Logout blacklists the identity's token until its natural expiry.
func (s *Service) Logout(ctx context.Context, id Identity, origin audit.Origin) error {
	if id.Token.ID == "" {
		return ErrMalformedToken
	}
	tok := RevokedToken{
		JTI:       id.Token.ID,
		UserID:    id.User.ID,
		ExpiresAt: id.Token.ExpiresAt,
		RevokedAt: s.now().UTC(),
	}
	if err := s.store.RevokedTokens(ctx).Revoke(ctx, tok); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.MarkRevoked(ctx, tok.JTI, tok.ExpiresAt); err != nil {
			s.log.Warn("revocation cache write failed", zap.Error(err), zap.String("jti", tok.JTI))
		}
	}
	if err := s.audit.UserAction(ctx, id.UserID(), audit.ActionLogout,
		"User logged out: "+id.User.Username, origin, audit.StatusSuccess); err != nil {
		return err
	}
	s.log.Info("user logged out", zap.String("username", id.User.Username))
	return nil
}

// SetFlags toggles is_active/is_admin on a user.
func (s *Service) SetFlags(ctx context.Context, userID int64, flags Flags) (*User, error) {
	if flags.IsActive == nil && flags.IsAdmin == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	return s.store.Users(ctx).SetFlags(ctx, userID, flags, s.now().UTC())
}

// ListUsers returns a page of users ordered by id.
func (s *Service) ListUsers(ctx context.Context, page paging.Page) ([]User, int, error) {
	return s.store.Users(ctx).List(ctx, page)
}

// PruneRevoked removes blacklist rows whose tokens have expired.
func (s *Service) PruneRevoked(ctx context.Context) (int64, error) {
	return s.store.RevokedTokens(ctx).DeleteExpired(ctx, s.now().UTC())
}
