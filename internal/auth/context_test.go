package auth

import (
	"context"
	"errors"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatal("expected no identity on empty context")
	}
	id := Identity{User: User{ID: 7, Username: "alice"}, Token: TokenInfo{ID: "jti"}}
	ctx := ContextWithIdentity(context.Background(), id)
	got, ok := IdentityFromContext(ctx)
	if !ok || got.User.ID != 7 || got.Token.ID != "jti" {
		t.Fatalf("unexpected identity: %+v ok=%v", got, ok)
	}
	if err := got.RequireAdmin(); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	got.User.IsAdmin = true
	if err := got.RequireAdmin(); err != nil {
		t.Fatalf("admin rejected: %v", err)
	}
	if *got.UserID() != 7 {
		t.Fatalf("unexpected user id pointer: %d", *got.UserID())
	}
}
