package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"nasmusic.dev/internal/audit"
	"nasmusic.dev/internal/auth"
	"nasmusic.dev/internal/paging"
)

type userList struct {
	Users   []auth.User `json:"users"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

type auditList struct {
	Entries []audit.Entry `json:"entries"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page := paging.FromQuery(r.URL.Query())
	users, total, err := a.auth.ListUsers(r.Context(), page)
	if err != nil {
		writeInternal(w, r, "list users", err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, userList{Users: users, Total: total, Page: page.Number, PerPage: page.PerPage})
}

// handleUpdateUser toggles is_active / is_admin.
func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}
	var flags auth.Flags
	if err := decodeJSON(r, &flags); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.SetFlags(r.Context(), userID, flags)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	page := paging.FromQuery(r.URL.Query())
	entries, total, err := a.audit.List(r.Context(), page)
	if err != nil {
		writeInternal(w, r, "list audit", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, auditList{Entries: entries, Total: total, Page: page.Number, PerPage: page.PerPage})
}
