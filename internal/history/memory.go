package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"nasmusic.dev/internal/paging"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used by tests. It also keeps the status
// sequence each record went through.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*Record
	trail   map[int64][]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[int64]*Record{}, trail: map[int64][]Status{}}
}

func (s *MemoryStore) Create(_ context.Context, userID int64, url string, at time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := &Record{
		ID:        s.nextID,
		UserID:    userID,
		URL:       url,
		Status:    StatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	s.records[rec.ID] = rec
	s.trail[rec.ID] = []Status{StatusPending}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) MarkDownloading(_ context.Context, id int64, at time.Time) (*Record, error) {
	return s.transition(id, StatusPending, StatusDownloading, func(r *Record) {
		t := at
		r.DownloadStartedAt = &t
		r.UpdatedAt = at
	})
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id int64, c Completion) (*Record, error) {
	return s.transition(id, StatusDownloading, StatusCompleted, func(r *Record) {
		r.Title = optString(c.Title)
		r.Artist = optString(c.Artist)
		d, size, path, at := c.Duration, c.FileSize, c.FilePath, c.At
		r.Duration = &d
		r.FileSize = &size
		r.FilePath = &path
		r.DownloadCompletedAt = &at
		r.UpdatedAt = at
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, message string, at time.Time) (*Record, error) {
	return s.transition(id, StatusDownloading, StatusFailed, func(r *Record) {
		msg, t := message, at
		r.ErrorMessage = &msg
		r.DownloadCompletedAt = &t
		r.UpdatedAt = at
	})
}

func (s *MemoryStore) transition(id int64, from, to Status, apply func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != from || !from.CanTransition(to) {
		return nil, ErrInvalidTransition
	}
	rec.Status = to
	apply(rec)
	s.trail[id] = append(s.trail[id], to)
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Find(_ context.Context, userID, id int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID int64, page paging.Page) ([]Record, int, error) {
	s.mu.Lock()
	var owned []Record
	for _, rec := range s.records {
		if rec.UserID == userID {
			owned = append(owned, *rec)
		}
	}
	s.mu.Unlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	start, end := page.Window(len(owned))
	return owned[start:end], len(owned), nil
}

func (s *MemoryStore) FailStuck(_ context.Context, olderThan time.Time, message string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.records {
		if rec.Status != StatusDownloading {
			continue
		}
		since := rec.CreatedAt
		if rec.DownloadStartedAt != nil {
			since = *rec.DownloadStartedAt
		}
		if !since.Before(olderThan) {
			continue
		}
		msg, t := message, at
		rec.Status = StatusFailed
		rec.ErrorMessage = &msg
		rec.DownloadCompletedAt = &t
		rec.UpdatedAt = at
		s.trail[id] = append(s.trail[id], StatusFailed)
		n++
	}
	return n, nil
}

// Trail returns the statuses record id has passed through, in order.
func (s *MemoryStore) Trail(id int64) []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.trail[id]...)
}

// Len returns the number of records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
