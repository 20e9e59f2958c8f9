package audit

import (
	"context"
	"time"

	"nasmusic.dev/internal/paging"
)

// Actions recorded in the audit log.
const (
	ActionRegisterFailed    = "register_failed"
	ActionRegisterSuccess   = "register_success"
	ActionLoginFailed       = "login_failed"
	ActionLoginSuccess      = "login_success"
	ActionLogout            = "logout"
	ActionDownloadStarted   = "download_started"
	ActionDownloadCompleted = "download_completed"
	ActionDownloadFailed    = "download_failed"
)

// Outcome values stored in Entry.Status.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

// ResourceDownload is the resource type of download lifecycle entries.
const ResourceDownload = "download"

// Entry is an append-only fact. Empty optional strings are stored as NULL.
type Entry struct {
	ID           int64     `json:"id"`
	UserID       *int64    `json:"user_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Details      string    `json:"details,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Origin identifies the client a request came from.
type Origin struct {
	IP        string
	UserAgent string
}

// Store persists entries. Implementations never update or delete.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, page paging.Page) ([]Entry, int, error)
}
