package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubTimelineRepo struct {
	rows      []TimelineRow
	lastQuery Query
}

func (s *stubTimelineRepo) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	s.lastQuery = q
	if q.Limit > 0 && len(s.rows) > q.Limit {
		return s.rows[:q.Limit], nil
	}
	return s.rows, nil
}

func row(at, actor, action, entityID string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, Actor: actor, Action: action, Entity: "transaction", EntityID: entityID}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		row("2024-03-10T10:00:00Z", "bursar", "transaction.post", "t-1"),
		row("2024-03-09T09:00:00Z", "bursar", "transaction.approve", "t-1"),
		row("2024-03-08T08:00:00Z", "clerk", "transaction.create", "t-1"),
	}}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		InstitutionID: " greenfield-academy ",
		EntityID:      "t-1",
		Page:          1,
		PageSize:      2,
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected a next page, got %+v", result.Paging)
	}
	if repo.lastQuery.Limit != 3 || repo.lastQuery.Offset != 0 {
		t.Fatalf("expected limit 3 offset 0, got %d/%d", repo.lastQuery.Limit, repo.lastQuery.Offset)
	}
	if repo.lastQuery.InstitutionID != "greenfield-academy" {
		t.Fatalf("institution not trimmed: %q", repo.lastQuery.InstitutionID)
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{InstitutionID: "greenfield-academy", Page: 3, PageSize: 1000})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if result.Paging.PageSize != maxPageSize || result.Paging.PrevPage != 2 {
		t.Fatalf("unexpected paging %+v", result.Paging)
	}
	if repo.lastQuery.Offset != 2*maxPageSize {
		t.Fatalf("expected offset %d, got %d", 2*maxPageSize, repo.lastQuery.Offset)
	}
	if result.Rows == nil {
		t.Fatalf("rows must encode as an empty list")
	}
}

func TestServiceRequiresInstitution(t *testing.T) {
	svc := NewService(&stubTimelineRepo{})
	if _, err := svc.Timeline(context.Background(), TimelineFilters{}); !errors.Is(err, ErrInstitutionRequired) {
		t.Fatalf("expected ErrInstitutionRequired, got %v", err)
	}
	if _, err := svc.Export(context.Background(), TimelineFilters{InstitutionID: "  "}); !errors.Is(err, ErrInstitutionRequired) {
		t.Fatalf("expected ErrInstitutionRequired, got %v", err)
	}
}

func TestServiceExportCapsRows(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{row("2024-03-10T10:00:00Z", "bursar", "transaction.post", "t-1")}}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{InstitutionID: "greenfield-academy"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 1 || repo.lastQuery.Limit != maxExportRows {
		t.Fatalf("unexpected export: %d rows, limit %d", len(rows), repo.lastQuery.Limit)
	}
}

func TestWriteCSV(t *testing.T) {
	r := row("2024-03-10T10:00:00Z", "bursar, head", "transaction.reverse", "t-1")
	r.Meta = map[string]any{"reason": "duplicate"}
	out, err := WriteCSV([]TimelineRow{r})
	if err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", out)
	}
	if lines[0] != "at,actor,action,entity,entity_id,meta" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	want := `2024-03-10T10:00:00Z,"bursar, head",transaction.reverse,transaction,t-1,"{""reason"":""duplicate""}"`
	if lines[1] != want {
		t.Fatalf("unexpected row\n got %s\nwant %s", lines[1], want)
	}
}
