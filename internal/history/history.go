// Package history is the download ledger: one record per attempt, advancing
// pending -> downloading -> completed|failed and never backwards.
package history

import (
	"context"
	"errors"
	"time"

	"nasmusic.dev/internal/paging"
)

var (
	ErrNotFound          = errors.New("history: record not found")
	ErrInvalidTransition = errors.New("history: invalid status transition")
)

// Status is the lifecycle state of a download record.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s may advance to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusDownloading
	case StatusDownloading:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Record is a download_history row.
type Record struct {
	ID                  int64      `json:"id"`
	UserID              int64      `json:"user_id"`
	URL                 string     `json:"url"`
	Title               *string    `json:"title"`
	Artist              *string    `json:"artist"`
	Duration            *float64   `json:"duration"`
	FileSize            *int64     `json:"file_size"`
	FilePath            *string    `json:"file_path"`
	Status              Status     `json:"status"`
	ErrorMessage        *string    `json:"error_message"`
	DownloadStartedAt   *time.Time `json:"download_started_at"`
	DownloadCompletedAt *time.Time `json:"download_completed_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Completion carries what a successful attempt learned about the file.
type Completion struct {
	Title    string
	Artist   string
	Duration float64
	FilePath string
	FileSize int64
	At       time.Time
}

// Store persists the ledger. Every update is conditional on the expected
// current status; a mismatch yields ErrInvalidTransition.
type Store interface {
	Create(ctx context.Context, userID int64, url string, at time.Time) (*Record, error)
	MarkDownloading(ctx context.Context, id int64, at time.Time) (*Record, error)
	MarkCompleted(ctx context.Context, id int64, c Completion) (*Record, error)
	MarkFailed(ctx context.Context, id int64, message string, at time.Time) (*Record, error)
	// Find is owner scoped: another user's record is ErrNotFound.
	Find(ctx context.Context, userID, id int64) (*Record, error)
	ListByUser(ctx context.Context, userID int64, page paging.Page) ([]Record, int, error)
	// FailStuck fails records left in downloading since before olderThan.
	FailStuck(ctx context.Context, olderThan time.Time, message string, at time.Time) (int64, error)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
