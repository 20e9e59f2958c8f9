package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Tokens issues and verifies HMAC signed access tokens.
type Tokens struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens constructs a token codec. alg is one of HS256, HS384 or HS512.
func NewTokens(secret, alg, issuer string, ttl time.Duration) (*Tokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	method, ok := jwt.GetSigningMethod(strings.ToUpper(strings.TrimSpace(alg))).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token ttl must be positive")
	}
	return &Tokens{
		secret: []byte(secret),
		method: method,
		issuer: strings.TrimSpace(issuer),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL returns the configured access token lifetime.
func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue signs a token for subject with a fresh jti.
func (t *Tokens) Issue(subject string) (string, TokenInfo, error) {
	now := t.now().UTC().Truncate(time.Second)
	info := TokenInfo{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(t.ttl),
	}
	claims := jwt.RegisteredClaims{
		ID:        info.ID,
		Subject:   subject,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(info.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(info.ExpiresAt),
	}
	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
	if err != nil {
		return "", TokenInfo{}, err
	}
	return signed, info, nil
}

// Parse verifies signature, issuer and expiry and returns the claims.
func (t *Tokens) Parse(raw string) (TokenInfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TokenInfo{}, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenInfo{}, ErrTokenExpired
		}
		return TokenInfo{}, ErrInvalidToken
	}
	if claims.ID == "" {
		return TokenInfo{}, ErrMalformedToken
	}
	if claims.Subject == "" {
		return TokenInfo{}, ErrInvalidToken
	}
	info := TokenInfo{ID: claims.ID, Subject: claims.Subject}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
