package audit

import (
	"context"
	"sort"
	"sync"

	"nasmusic.dev/internal/paging"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps entries in process. Used by tests and local runs without a database.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	// FailWith, when set, is returned by Append.
	FailWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	entry.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *MemoryStore) List(_ context.Context, page paging.Page) ([]Entry, int, error) {
	s.mu.Lock()
	sorted := append([]Entry(nil), s.entries...)
	s.mu.Unlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	start, end := page.Window(len(sorted))
	return sorted[start:end], len(sorted), nil
}

// Entries returns a copy of everything appended so far, oldest first.
func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Actions returns the recorded action names, oldest first.
func (s *MemoryStore) Actions() []string {
	entries := s.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}
