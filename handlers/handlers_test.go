package handlers

// handlers_test.go holds the fake collaborators shared by every *_test.go file in this
// package: a fake container runtime, a fake provisioner factory, and a no-op quota gate,
// so previews_test.go and webhooks_test.go can each build a real *orchestrator.Orchestrator
// over a real in-memory *store.Store instead of re-deriving their own mocks, the same
// "one shared fake set per package" convention orchestrator_test.go itself follows.

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/previewd/previewd/accesstrack"
	"github.com/previewd/previewd/models"
	"github.com/previewd/previewd/orchestrator"
	"github.com/previewd/previewd/provision"
	"github.com/previewd/previewd/runtime"
	"github.com/previewd/previewd/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", testLogger())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeRuntime struct{}

func (f *fakeRuntime) PullImage(ctx context.Context, tag string, onProgress func(string)) error {
	return nil
}

func (f *fakeRuntime) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	return "container-" + spec.Name, nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, containerID string) error { return nil }

func (f *fakeRuntime) StopContainer(ctx context.Context, containerID string, graceSeconds int) error {
	return nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	return nil
}

func (f *fakeRuntime) RemoveImage(ctx context.Context, tag string, force bool) error { return nil }

type fakeProvisioner struct{}

func (f *fakeProvisioner) CreateDatabase(ctx context.Context, previewId, dbName string) (string, error) {
	return "postgres://fake/" + dbName, nil
}

func (f *fakeProvisioner) RunMigrations(ctx context.Context, connectionString, migrationsDir string) error {
	return nil
}

func (f *fakeProvisioner) DestroyDatabase(ctx context.Context, previewId, dbName string) error {
	return nil
}

func (f *fakeProvisioner) DatabaseExists(ctx context.Context, dbName string) (bool, error) {
	return false, nil
}

func (f *fakeProvisioner) ConnectionStringFor(dbName string) string {
	return "postgres://fake/" + dbName
}

func (f *fakeProvisioner) Close() error { return nil }

type fakeFactory struct{}

func (f *fakeFactory) Get(ctx context.Context, engine models.DatabaseEngine) (provision.Provisioner, error) {
	return &fakeProvisioner{}, nil
}

type fakeQuota struct{}

func (f *fakeQuota) Check(owner string) error { return nil }

// accessTrackerFor builds a Redis-less (in-process-only) access tracker over s, the same
// degraded mode accesstrack.Tracker runs in whenever REDIS_URL is unset.
func accessTrackerFor(t *testing.T, s *store.Store) *accesstrack.Tracker {
	t.Helper()
	return accesstrack.New(nil, s, testLogger())
}

// newTestOrchestrator builds a real *orchestrator.Orchestrator over s, backed by the fakes
// above, so handler tests exercise Create/Destroy/ResolveIdentifier end to end rather than
// stubbing the orchestrator itself.
func newTestOrchestrator(t *testing.T, s *store.Store) *orchestrator.Orchestrator {
	t.Helper()
	access := accesstrack.New(nil, s, testLogger())
	return orchestrator.New(s, s, &fakeRuntime{}, &fakeFactory{}, &fakeQuota{}, access, testLogger(), orchestrator.Config{
		BaseDomain:  "previews.test",
		EdgeNetwork: "previewd-edge-test",
	})
}
