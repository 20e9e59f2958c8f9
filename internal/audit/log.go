package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"nasmusic.dev/internal/obs"
	"nasmusic.dev/internal/paging"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger appends entries to the store and mirrors them to the structured log.
// A failed append is returned to the caller: audit writes are not best-effort.
type Logger struct {
	store Store
	now   func() time.Time
}

// NewLogger constructs a Logger over store.
func NewLogger(store Store) *Logger {
	return &Logger{store: store, now: time.Now}
}

// WithClock overrides the time source.
func (l *Logger) WithClock(now func() time.Time) *Logger {
	if now != nil {
		l.now = now
	}
	return l
}

// Record validates and appends entry.
func (l *Logger) Record(ctx context.Context, entry *Entry) error {
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		return errors.New("audit: action is required")
	}
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("action", entry.Action),
		zap.String("status", entry.Status),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if entry.UserID != nil {
		fields = append(fields, zap.Int64("user_id", *entry.UserID))
	}
	if entry.ResourceType != "" {
		fields = append(fields, zap.String("resource_type", entry.ResourceType), zap.String("resource_id", entry.ResourceID))
	}

	if err := l.store.Append(ctx, entry); err != nil {
		obs.IncAuditFailure()
		obs.Logger().Error("audit append failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("audit %s: %w", entry.Action, err)
	}
	obs.Logger().Info("audit", append(fields, zap.Int64("audit_id", entry.ID))...)
	return nil
}

// UserAction records an account level event such as login or logout.
func (l *Logger) UserAction(ctx context.Context, userID *int64, action, details string, origin Origin, status string) error {
	return l.Record(ctx, &Entry{
		UserID:    userID,
		Action:    action,
		Details:   details,
		IPAddress: origin.IP,
		UserAgent: origin.UserAgent,
		Status:    status,
	})
}

// DownloadAction records a download lifecycle event keyed by the source URL.
func (l *Logger) DownloadAction(ctx context.Context, userID int64, action, url string, details map[string]any, origin Origin, status string) error {
	var encoded string
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("audit %s: encode details: %w", action, err)
		}
		encoded = string(raw)
	}
	uid := userID
	return l.Record(ctx, &Entry{
		UserID:       &uid,
		Action:       action,
		ResourceType: ResourceDownload,
		ResourceID:   url,
		Details:      encoded,
		IPAddress:    origin.IP,
		UserAgent:    origin.UserAgent,
		Status:       status,
	})
}

// List returns entries newest first.
func (l *Logger) List(ctx context.Context, page paging.Page) ([]Entry, int, error) {
	return l.store.List(ctx, page)
}
