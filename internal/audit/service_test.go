package audit

import (
	"context"
	"testing"
	"time"

	_ "github.com/cantoria/cantoria/testing"
)

type stubTimelineRepo struct {
	Repository

	rows       []Entry
	lastLimit  int
	lastOffset int
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	s.lastLimit = limit
	s.lastOffset = offset
	if limit > len(s.rows) {
		limit = len(s.rows)
	}
	return s.rows[:limit], nil
}

func entryAt(ts string) Entry {
	at, _ := time.Parse(time.RFC3339, ts)
	return Entry{Action: ActionRoleUpdate, Entity: "role", EntityID: "1", At: at}
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []Entry{
		entryAt("2026-08-10T10:00:00Z"),
		entryAt("2026-08-09T09:00:00Z"),
		entryAt("2026-08-08T08:00:00Z"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page, got %+v", result.Paging)
	}
	if repo.lastLimit != 3 {
		t.Fatalf("expected limit 3 (page size plus one), got %d", repo.lastLimit)
	}
	if repo.lastOffset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastOffset)
	}
}

func TestTimelineDefaultsAndClamping(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	if _, err := svc.Timeline(context.Background(), TimelineFilters{}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != 21 {
		t.Fatalf("expected default page size 20 plus one, got %d", repo.lastLimit)
	}

	if _, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500, Page: 3}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != 51 {
		t.Fatalf("expected clamped page size 50 plus one, got %d", repo.lastLimit)
	}
	if repo.lastOffset != 100 {
		t.Fatalf("expected offset 100, got %d", repo.lastOffset)
	}
}

func TestTimelineLastPage(t *testing.T) {
	repo := &stubTimelineRepo{rows: []Entry{entryAt("2026-08-10T10:00:00Z")}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 5})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if result.Paging.HasNext {
		t.Fatalf("expected no next page")
	}
	if result.Paging.PrevPage != 1 {
		t.Fatalf("expected prev page 1, got %d", result.Paging.PrevPage)
	}
}
