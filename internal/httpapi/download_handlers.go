package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"nasmusic.dev/internal/auth"
	"nasmusic.dev/internal/download"
	"nasmusic.dev/internal/history"
	"nasmusic.dev/internal/obs"
	"nasmusic.dev/internal/paging"
)

type downloadRequest struct {
	URL string `json:"url"`
}

type downloadFailure struct {
	Detail    string          `json:"detail"`
	RequestID string          `json:"request_id,omitempty"`
	Download  *history.Record `json:"download,omitempty"`
}

type downloadList struct {
	Downloads []history.Record `json:"downloads"`
	Total     int              `json:"total"`
	Page      int              `json:"page"`
	PerPage   int              `json:"per_page"`
}

// handleDownload runs the attempt inline; the response carries the terminal record.
func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	rec, err := a.downloads.Download(r.Context(), id, req.URL, origin(r))
	if err != nil {
		var failure *download.Failure
		switch {
		case errors.Is(err, download.ErrEmptyURL):
			writeError(w, r, http.StatusBadRequest, "URL is required")
		case errors.As(err, &failure):
			writeJSON(w, http.StatusInternalServerError, downloadFailure{
				Detail:    failure.Message,
				RequestID: RequestIDFromContext(r.Context()),
				Download:  failure.Record,
			})
		default:
			obs.Logger().Error("download",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.Int64("user_id", id.User.ID),
				zap.Error(err),
			)
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	page := paging.FromQuery(r.URL.Query())
	recs, total, err := a.downloads.List(r.Context(), id, page)
	if err != nil {
		writeInternal(w, r, "list downloads", err)
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, downloadList{
		Downloads: recs,
		Total:     total,
		Page:      page.Number,
		PerPage:   page.PerPage,
	})
}

func (a *API) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	recordID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || recordID <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid download id")
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	rec, err := a.downloads.Get(r.Context(), id, recordID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Download not found")
			return
		}
		writeInternal(w, r, "get download", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeInternal(w http.ResponseWriter, r *http.Request, op string, err error) {
	obs.Logger().Error(op,
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.Error(err),
	)
	writeError(w, r, http.StatusInternalServerError, "Internal server error")
}
