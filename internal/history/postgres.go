package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"nasmusic.dev/internal/paging"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on the download_history table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const recordColumns = `id, user_id, url, title, artist, duration, file_size, file_path, status, error_message,
	download_started_at, download_completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r                  Record
		title, artist      sql.NullString
		path, errMsg       sql.NullString
		duration           sql.NullFloat64
		size               sql.NullInt64
		started, completed sql.NullTime
		status             string
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.URL, &title, &artist, &duration, &size, &path, &status, &errMsg,
		&started, &completed, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if title.Valid {
		r.Title = &title.String
	}
	if artist.Valid {
		r.Artist = &artist.String
	}
	if duration.Valid {
		r.Duration = &duration.Float64
	}
	if size.Valid {
		r.FileSize = &size.Int64
	}
	if path.Valid {
		r.FilePath = &path.String
	}
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	if started.Valid {
		r.DownloadStartedAt = &started.Time
	}
	if completed.Valid {
		r.DownloadCompletedAt = &completed.Time
	}
	return &r, nil
}

func (s *PGStore) Create(ctx context.Context, userID int64, url string, at time.Time) (*Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`insert into download_history(user_id, url, status, created_at, updated_at)
		 values($1,$2,$3,$4,$4) returning `+recordColumns,
		userID, url, string(StatusPending), at,
	))
}

func (s *PGStore) MarkDownloading(ctx context.Context, id int64, at time.Time) (*Record, error) {
	return s.transition(ctx, id,
		`update download_history set status=$3, download_started_at=$4, updated_at=$4
		 where id=$1 and status=$2 returning `+recordColumns,
		id, string(StatusPending), string(StatusDownloading), at,
	)
}

func (s *PGStore) MarkCompleted(ctx context.Context, id int64, c Completion) (*Record, error) {
	return s.transition(ctx, id,
		`update download_history set status=$3, title=$4, artist=$5, duration=$6, file_path=$7, file_size=$8,
		 download_completed_at=$9, updated_at=$9
		 where id=$1 and status=$2 returning `+recordColumns,
		id, string(StatusDownloading), string(StatusCompleted),
		optString(c.Title), optString(c.Artist), c.Duration, c.FilePath, c.FileSize, c.At,
	)
}

func (s *PGStore) MarkFailed(ctx context.Context, id int64, message string, at time.Time) (*Record, error) {
	return s.transition(ctx, id,
		`update download_history set status=$3, error_message=$4, download_completed_at=$5, updated_at=$5
		 where id=$1 and status=$2 returning `+recordColumns,
		id, string(StatusDownloading), string(StatusFailed), message, at,
	)
}

// transition runs a compare-and-set update. When no row matches it tells a
// missing record apart from one in the wrong state.
func (s *PGStore) transition(ctx context.Context, id int64, query string, args ...any) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from download_history where id=$1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrInvalidTransition
}

func (s *PGStore) Find(ctx context.Context, userID, id int64) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`select `+recordColumns+` from download_history where id=$1 and user_id=$2`, id, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *PGStore) ListByUser(ctx context.Context, userID int64, page paging.Page) ([]Record, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from download_history where user_id=$1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+recordColumns+` from download_history where user_id=$1
		 order by created_at desc, id desc limit $2 offset $3`,
		userID, page.Limit(), page.Offset(),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res := make([]Record, 0, page.Limit())
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, *rec)
	}
	return res, total, rows.Err()
}

func (s *PGStore) FailStuck(ctx context.Context, olderThan time.Time, message string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update download_history set status=$1, error_message=$2, download_completed_at=$3, updated_at=$3
		 where status=$4 and coalesce(download_started_at, created_at) < $5`,
		string(StatusFailed), message, at, string(StatusDownloading), olderThan,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
