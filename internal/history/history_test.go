package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"nasmusic.dev/internal/paging"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusDownloading, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusDownloading, StatusCompleted, true},
		{StatusDownloading, StatusFailed, true},
		{StatusDownloading, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusDownloading, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
	if StatusPending.Terminal() || !StatusFailed.Terminal() || !StatusCompleted.Terminal() {
		t.Fatal("unexpected terminal classification")
	}
}

func TestMemoryLifecycleNeverRegresses(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	rec, err := store.Create(ctx, 1, "https://example.com/a", now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.MarkCompleted(ctx, rec.ID, Completion{At: now}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed must be rejected, got %v", err)
	}
	if _, err := store.MarkDownloading(ctx, rec.ID, now); err != nil {
		t.Fatalf("MarkDownloading: %v", err)
	}
	done, err := store.MarkCompleted(ctx, rec.ID, Completion{Title: "Song", FilePath: "/music/Song.mp3", FileSize: 42, Duration: 3.5, At: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if done.Title == nil || *done.Title != "Song" || done.Artist != nil {
		t.Fatalf("unexpected metadata: title=%v artist=%v", done.Title, done.Artist)
	}
	if _, err := store.MarkFailed(ctx, rec.ID, "late", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed -> failed must be rejected, got %v", err)
	}
	trail := store.Trail(rec.ID)
	want := []Status{StatusPending, StatusDownloading, StatusCompleted}
	if len(trail) != len(want) {
		t.Fatalf("unexpected trail %v", trail)
	}
	for i := range want {
		if trail[i] != want[i] {
			t.Fatalf("unexpected trail %v", trail)
		}
	}
	if _, err := store.MarkDownloading(ctx, 999, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryFindIsOwnerScoped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec, _ := store.Create(ctx, 1, "https://example.com/a", time.Now())
	if _, err := store.Find(ctx, 2, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
	if _, err := store.Find(ctx, 1, rec.ID); err != nil {
		t.Fatalf("Find: %v", err)
	}
}

func TestMemoryListByUserPagesNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 12; i++ {
		if _, err := store.Create(ctx, 1, "https://example.com/"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := store.Create(ctx, 2, "https://example.com/other", base.Add(time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recs, total, err := store.ListByUser(ctx, 1, paging.New(2, 5))
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if total != 12 || len(recs) != 5 {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(recs))
	}
	// Newest first: ids 12..1, page 2 holds the 6th..10th newest.
	for i, rec := range recs {
		if want := int64(12 - 5 - i); rec.ID != want {
			t.Fatalf("position %d: got id %d want %d", i, rec.ID, want)
		}
	}
}

func TestMemoryFailStuck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	old, _ := store.Create(ctx, 1, "https://example.com/old", now.Add(-3*time.Hour))
	_, _ = store.MarkDownloading(ctx, old.ID, now.Add(-3*time.Hour))
	fresh, _ := store.Create(ctx, 1, "https://example.com/new", now.Add(-time.Minute))
	_, _ = store.MarkDownloading(ctx, fresh.ID, now.Add(-time.Minute))
	pending, _ := store.Create(ctx, 1, "https://example.com/pending", now.Add(-3*time.Hour))

	n, err := store.FailStuck(ctx, now.Add(-time.Hour), "download interrupted", now)
	if err != nil {
		t.Fatalf("FailStuck: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reconciled record, got %d", n)
	}
	got, _ := store.Find(ctx, 1, old.ID)
	if got.Status != StatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != "download interrupted" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got, _ := store.Find(ctx, 1, fresh.ID); got.Status != StatusDownloading {
		t.Fatalf("fresh record touched: %s", got.Status)
	}
	if got, _ := store.Find(ctx, 1, pending.ID); got.Status != StatusPending {
		t.Fatalf("pending record touched: %s", got.Status)
	}
}
