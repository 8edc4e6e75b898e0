package store

import (
	"io"
	"log/slog"
	"testing"

	"github.com/previewd/previewd/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	s, err := Open(":memory:", logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePreview(id string) *models.Preview {
	return &models.Preview{
		PreviewId: id,
		OwnerId:   "owner-1",
		Kind:      models.KindBranch,
		RepoOwner: "acme",
		RepoName:  "app",
		Branch:    "main",
		CommitSha: "abc123",
		Status:    models.StatusCreating,
		Services:  []models.ServiceInstance{},
		Urls:      map[string]string{},
		Env:       map[string]string{},
	}
}

func TestCreateAndGetPreview(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("branch-main")

	if err := s.CreatePreview(p); err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}

	got, err := s.GetPreview("branch-main")
	if err != nil {
		t.Fatalf("GetPreview: %v", err)
	}
	if got.PreviewId != "branch-main" || got.Status != models.StatusCreating {
		t.Fatalf("unexpected preview: %+v", got)
	}
	if !got.LastAccessedAt.Equal(got.CreatedAt) && got.LastAccessedAt.Before(got.CreatedAt) {
		t.Fatalf("lastAccessedAt must be >= createdAt")
	}
}

func TestCreatePreviewDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("branch-main")
	if err := s.CreatePreview(p); err != nil {
		t.Fatalf("first CreatePreview: %v", err)
	}
	if err := s.CreatePreview(samplePreview("branch-main")); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetPreviewNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetPreview("nope"); err != ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestSavePreviewRoundTripsServicesAndUrls(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("branch-main")
	if err := s.CreatePreview(p); err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}

	p.Status = models.StatusRunning
	p.Services = []models.ServiceInstance{
		{Name: "api", ContainerId: "c1", ImageTag: "reg/api:abc", Port: 8080, Url: "http://x", Status: models.ServiceRunning},
	}
	p.Urls = map[string]string{"api": "http://x"}
	p.Database = &models.PreviewDatabase{Engine: models.EngineRelationalA, Name: "branch_main_db", ConnectionString: "postgres://..."}

	if err := s.SavePreview(p); err != nil {
		t.Fatalf("SavePreview: %v", err)
	}

	got, err := s.GetPreview("branch-main")
	if err != nil {
		t.Fatalf("GetPreview: %v", err)
	}
	if len(got.Services) != 1 || got.Services[0].Name != "api" {
		t.Fatalf("services did not round-trip: %+v", got.Services)
	}
	if got.Urls["api"] != "http://x" {
		t.Fatalf("urls did not round-trip: %+v", got.Urls)
	}
	if got.Database == nil || got.Database.Name != "branch_main_db" {
		t.Fatalf("database did not round-trip: %+v", got.Database)
	}
}

func TestSavePreviewNotFound(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("ghost")
	if err := s.SavePreview(p); err != ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestListByStatuses(t *testing.T) {
	s := newTestStore(t)
	running := samplePreview("branch-a")
	running.Status = models.StatusRunning
	creating := samplePreview("branch-b")
	creating.Status = models.StatusCreating
	destroyed := samplePreview("branch-c")
	destroyed.Status = models.StatusDestroyed

	for _, p := range []*models.Preview{running, creating, destroyed} {
		if err := s.CreatePreview(p); err != nil {
			t.Fatalf("CreatePreview: %v", err)
		}
	}

	got, err := s.ListByStatuses(models.StatusRunning, models.StatusCreating)
	if err != nil {
		t.Fatalf("ListByStatuses: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 previews, got %d", len(got))
	}
}

func TestCountActiveForOwner(t *testing.T) {
	s := newTestStore(t)
	for i, status := range []models.PreviewStatus{models.StatusRunning, models.StatusCreating, models.StatusDestroyed} {
		p := samplePreview("branch-" + string(rune('a'+i)))
		p.Status = status
		if err := s.CreatePreview(p); err != nil {
			t.Fatalf("CreatePreview: %v", err)
		}
	}
	count, err := s.CountActiveForOwner("owner-1")
	if err != nil {
		t.Fatalf("CountActiveForOwner: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 active previews, got %d", count)
	}
}

func TestDeletePreview(t *testing.T) {
	s := newTestStore(t)
	p := samplePreview("branch-main")
	if err := s.CreatePreview(p); err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	if err := s.DeletePreview("branch-main"); err != nil {
		t.Fatalf("DeletePreview: %v", err)
	}
	if _, err := s.GetPreview("branch-main"); err != ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound after delete, got %v", err)
	}
}
