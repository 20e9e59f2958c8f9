package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokensIssueAndParse(t *testing.T) {
	tokens, err := NewTokens("secret", "hs256", "nasmusic", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	raw, info, err := tokens.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if info.ID == "" {
		t.Fatal("expected jti to be set")
	}
	got, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Subject != "alice" || got.ID != info.ID {
		t.Fatalf("unexpected claims: %+v", got)
	}
	if !got.ExpiresAt.Equal(info.ExpiresAt) {
		t.Fatalf("expiry mismatch: %v vs %v", got.ExpiresAt, info.ExpiresAt)
	}
}

func TestTokensParseExpired(t *testing.T) {
	tokens, err := NewTokens("secret", "HS256", "", time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	start := time.Now()
	tokens.now = func() time.Time { return start }
	raw, _, err := tokens.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	tokens.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := tokens.Parse(raw); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokensRejectWrongSecretAndAlgorithm(t *testing.T) {
	a, _ := NewTokens("secret-a", "HS256", "", time.Minute)
	b, _ := NewTokens("secret-b", "HS256", "", time.Minute)
	raw, _, err := a.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	c, _ := NewTokens("secret-a", "HS512", "", time.Minute)
	if _, err := c.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected algorithm mismatch to be rejected, got %v", err)
	}
	if _, err := NewTokens("secret", "RS256", "", time.Minute); err == nil {
		t.Fatal("expected RS256 to be rejected")
	}
}

func TestTokensRequireJTI(t *testing.T) {
	tokens, _ := NewTokens("secret", "HS256", "", time.Minute)
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := tokens.Parse(raw); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}
}
