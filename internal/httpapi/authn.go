package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"nasmusic.dev/internal/auth"
	"nasmusic.dev/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errNotAuthenticated = errors.New("Not authenticated")

// requireAuth resolves the bearer token into an auth.Identity on the context.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		id, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

// requireAdmin must run after requireAuth.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, errNotAuthenticated.Error())
			return
		}
		if err := id.RequireAdmin(); err != nil {
			writeError(w, r, http.StatusForbidden, "Not enough permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNotAuthenticated
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errNotAuthenticated
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNotAuthenticated
	}
	return token, nil
}

// writeAuthError maps auth sentinels to status codes and client messages.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	unauthorized := func(msg string) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, msg)
	}
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		unauthorized("Token expired")
	case errors.Is(err, auth.ErrMalformedToken):
		unauthorized("Malformed token")
	case errors.Is(err, auth.ErrTokenRevoked):
		unauthorized("Token has been revoked")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUserNotFound):
		unauthorized("Could not validate credentials")
	case errors.Is(err, auth.ErrInvalidCredentials):
		unauthorized("Incorrect username or password")
	case errors.Is(err, auth.ErrInactiveUser):
		writeError(w, r, http.StatusBadRequest, "Inactive user")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusBadRequest, "Username or email already registered")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "auth: invalid input: "))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "User not found")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "Not enough permissions")
	default:
		obs.Logger().Error("auth failure",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
