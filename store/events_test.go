package store

import (
	"testing"

	"github.com/previewd/previewd/models"
)

func TestAppendEventRequiresExistingPreview(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendEvent("ghost", models.EventSystem, "hello", nil)
	if err != ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("branch-main")
	if err := s.CreatePreview(p); err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}

	if err := s.AppendEvent("branch-main", models.EventSystem, "Starting preview creation", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent("branch-main", models.EventBuild, "pulling image", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := s.ListEvents("branch-main", EventFilters{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// newest first
	if events[0].Message != "pulling image" {
		t.Fatalf("expected newest-first order, got %q first", events[0].Message)
	}
}

func TestListEventsFilteredByType(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("branch-main")
	if err := s.CreatePreview(p); err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	if err := s.AppendEvent("branch-main", models.EventSystem, "a", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent("branch-main", models.EventBuild, "b", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := s.ListEvents("branch-main", EventFilters{Type: models.EventBuild})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Message != "b" {
		t.Fatalf("unexpected filtered events: %+v", events)
	}
}

func TestPaginateEvents(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("branch-main")
	if err := s.CreatePreview(p); err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.AppendEvent("branch-main", models.EventSystem, "event", nil); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	page, err := s.PaginateEvents("branch-main", 1, 2)
	if err != nil {
		t.Fatalf("PaginateEvents: %v", err)
	}
	if page.TotalCount != 5 || page.PageCount != 3 || len(page.Events) != 2 {
		t.Fatalf("unexpected pagination: %+v", page)
	}
}

func TestStatsEvents(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("branch-main")
	if err := s.CreatePreview(p); err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	if err := s.AppendEvent("branch-main", models.EventBuild, "a", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent("branch-main", models.EventBuild, "b", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent("branch-main", models.EventDeploy, "c", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	stats, err := s.StatsEvents("branch-main")
	if err != nil {
		t.Fatalf("StatsEvents: %v", err)
	}
	if stats[models.EventBuild] != 2 || stats[models.EventDeploy] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDeleteAllEventsFor(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("branch-main")
	if err := s.CreatePreview(p); err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	if err := s.AppendEvent("branch-main", models.EventSystem, "a", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.DeleteAllEventsFor("branch-main"); err != nil {
		t.Fatalf("DeleteAllEventsFor: %v", err)
	}
	events, err := s.ListEvents("branch-main", EventFilters{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events after delete, got %d", len(events))
	}
}
