package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"nasmusic.dev/internal/audit"
	"nasmusic.dev/internal/auth"
	"nasmusic.dev/internal/history"
	"nasmusic.dev/internal/ids"
	"nasmusic.dev/internal/obs"
	"nasmusic.dev/internal/paging"
)

const incomingDir = ".incoming"

// ErrEmptyURL is returned when the requested URL is blank.
var ErrEmptyURL = errors.New("download: url is required")

// Failure reports a download that ran and failed. The ledger record has
// already been moved to failed and audited.
type Failure struct {
	Record  *history.Record
	Message string
}

func (f *Failure) Error() string { return f.Message }

// Auditor appends download lifecycle events.
type Auditor interface {
	DownloadAction(ctx context.Context, userID int64, action, url string, details map[string]any, origin audit.Origin, status string) error
}

// Service runs one download per call, synchronously, and keeps the ledger and
// audit log in step with it.
type Service struct {
	ledger    history.Store
	exec      Executor
	audit     Auditor
	outputDir string
	timeout   time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// Option configures Service.
type Option func(*Service)

// WithTimeout bounds each attempt. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(ledger history.Store, exec Executor, auditor Auditor, outputDir string, opts ...Option) *Service {
	s := &Service{
		ledger:    ledger,
		exec:      exec,
		audit:     auditor,
		outputDir: outputDir,
		now:       time.Now,
		log:       obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PrepareOutputDir creates the library directory and its scratch area.
func (s *Service) PrepareOutputDir() error {
	return os.MkdirAll(filepath.Join(s.outputDir, incomingDir), 0o755)
}

// Download records a pending attempt, runs it, and files the result. On an
// extractor failure, or when the completion cannot be recorded, it returns the
// failed record wrapped in *Failure. Other ledger and audit write errors are
// returned as they are.
func (s *Service) Download(ctx context.Context, id auth.Identity, rawURL string, origin audit.Origin) (*history.Record, error) {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		return nil, ErrEmptyURL
	}
	uid := id.User.ID
	started := s.now()

	rec, err := s.ledger.Create(ctx, uid, url, started.UTC())
	if err != nil {
		return nil, fmt.Errorf("create download record: %w", err)
	}
	if err := s.audit.DownloadAction(ctx, uid, audit.ActionDownloadStarted, url,
		map[string]any{"download_id": rec.ID}, origin, audit.StatusPending); err != nil {
		return nil, err
	}
	if rec, err = s.ledger.MarkDownloading(ctx, rec.ID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("mark downloading: %w", err)
	}

	log := s.log.With(zap.Int64("download_id", rec.ID), zap.Int64("user_id", uid), zap.String("url", url))
	log.Info("download started")

	completion, failMsg := s.run(ctx, url, log)
	// The terminal transition must land even if the client has gone away.
	ctx = context.WithoutCancel(ctx)
	if failMsg != "" {
		obs.ObserveDownload(string(history.StatusFailed), time.Since(started))
		return s.fail(ctx, rec, failMsg, origin, log)
	}

	done, err := s.ledger.MarkCompleted(ctx, rec.ID, completion)
	if err != nil {
		// Nothing will point at the filed audio, so it goes.
		if rmErr := os.Remove(completion.FilePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("remove unrecorded file", zap.String("file_path", completion.FilePath), zap.Error(rmErr))
		}
		if errors.Is(err, history.ErrInvalidTransition) {
			return nil, fmt.Errorf("mark completed: %w", err)
		}
		obs.ObserveDownload(string(history.StatusFailed), time.Since(started))
		return s.fail(ctx, rec, err.Error(), origin, log)
	}
	obs.ObserveDownload(string(history.StatusCompleted), time.Since(started))
	details := map[string]any{
		"download_id": done.ID,
		"title":       completion.Title,
		"file_path":   completion.FilePath,
		"file_size":   completion.FileSize,
	}
	if err := s.audit.DownloadAction(ctx, uid, audit.ActionDownloadCompleted, url, details, origin, audit.StatusSuccess); err != nil {
		return nil, err
	}
	log.Info("download completed", zap.String("file_path", completion.FilePath), zap.Int64("file_size", completion.FileSize))
	return done, nil
}

// run performs the attempt and moves the produced file into the library. A
// non-empty message means the attempt failed.
func (s *Service) run(ctx context.Context, url string, log *zap.Logger) (history.Completion, string) {
	workDir := filepath.Join(s.outputDir, incomingDir, ids.New())
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("remove work dir", zap.Error(err))
		}
	}()

	attemptCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.attempt(attemptCtx, url, workDir, log)
	if err != nil {
		log.Error("download attempt fault", zap.Error(err))
		return history.Completion{}, err.Error()
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "download failed"
		}
		return history.Completion{}, msg
	}

	finalPath, size, err := s.file(res)
	if err != nil {
		log.Error("file download", zap.Error(err))
		return history.Completion{}, err.Error()
	}
	return history.Completion{
		Title:    res.Title,
		Artist:   res.Artist,
		Duration: res.DurationSeconds,
		FilePath: finalPath,
		FileSize: size,
		At:       s.now().UTC(),
	}, ""
}

// attempt calls the executor, turning a panic into an error so the record
// still reaches failed.
func (s *Service) attempt(ctx context.Context, url, workDir string, log *zap.Logger) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("download attempt panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res, err = Result{}, fmt.Errorf("download aborted: %v", r)
		}
	}()
	return s.exec.Attempt(ctx, url, workDir)
}

// file moves the produced file to <outputDir>/<sanitized title><ext>.
func (s *Service) file(res Result) (string, int64, error) {
	ext := filepath.Ext(res.FilePath)
	title := res.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(res.FilePath), ext)
	}
	dest, err := Claim(s.outputDir, Sanitize(title)+ext)
	if err != nil {
		return "", 0, err
	}
	if err := os.Rename(res.FilePath, dest); err != nil {
		_ = os.Remove(dest)
		return "", 0, fmt.Errorf("move %s: %w", filepath.Base(res.FilePath), err)
	}
	st, err := os.Stat(dest)
	if err != nil {
		return "", 0, err
	}
	return dest, st.Size(), nil
}

func (s *Service) fail(ctx context.Context, rec *history.Record, msg string, origin audit.Origin, log *zap.Logger) (*history.Record, error) {
	failed, err := s.ledger.MarkFailed(ctx, rec.ID, msg, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	if err := s.audit.DownloadAction(ctx, rec.UserID, audit.ActionDownloadFailed, rec.URL,
		map[string]any{"download_id": rec.ID, "error": msg}, origin, audit.StatusFailed); err != nil {
		return nil, err
	}
	log.Warn("download failed", zap.String("error", msg))
	return failed, &Failure{Record: failed, Message: msg}
}

// Get returns one of the caller's records.
func (s *Service) Get(ctx context.Context, id auth.Identity, recordID int64) (*history.Record, error) {
	return s.ledger.Find(ctx, id.User.ID, recordID)
}

// List returns the caller's records newest first.
func (s *Service) List(ctx context.Context, id auth.Identity, page paging.Page) ([]history.Record, int, error) {
	return s.ledger.ListByUser(ctx, id.User.ID, page)
}
