package httpapi

import (
	"net/http"
	"strings"

	"nasmusic.dev/internal/auth"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.Registration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.Register(r.Context(), req, origin(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleLogin accepts the OAuth2 password form: username and password.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid form body")
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}
	token, _, err := a.auth.Login(r.Context(), username, password, origin(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), id, origin(r)); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, id.User)
}
