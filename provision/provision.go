// Package provision implements the database provisioner abstraction described in
// SPEC_FULL.md §4.3: a uniform capability (create, migrate, destroy, exists,
// connection-string-for, close) over three interchangeable database engines. each engine
// keeps its own pooled admin connection, opened once and reused across every preview that
// engine provisions for -- creating/dropping a per-preview database is cheap DDL against
// that admin connection, not a fresh connection per call.
package provision

import (
	"context"
	"fmt"
	"sync"

	"github.com/previewd/previewd/apierror"
	"github.com/previewd/previewd/config"
	"github.com/previewd/previewd/models"
)

// Provisioner is the uniform capability every engine implements. the orchestrator never
// type-switches on engine; it resolves a Provisioner once via the Factory and calls these
// six methods for every preview regardless of which engine backs it.
type Provisioner interface {
	// CreateDatabase provisions (or, if it already exists, simply returns the connection
	// string for) the named database and returns a connection string the orchestrator
	// hands to the preview's containers as DATABASE_URL.
	CreateDatabase(ctx context.Context, previewId, dbName string) (string, error)

	// RunMigrations executes every migration file under migrationsDir, in the order the
	// engine defines (lexicographic .sql for the relational engines; lexicographic .json
	// seed files for the document engine), against the database identified by
	// connectionString.
	RunMigrations(ctx context.Context, connectionString, migrationsDir string) error

	// DestroyDatabase drops the named database. missing databases are not an error --
	// the preview is being torn down regardless of whether its database still exists.
	DestroyDatabase(ctx context.Context, previewId, dbName string) error

	// DatabaseExists reports whether dbName currently exists on the admin connection.
	DatabaseExists(ctx context.Context, dbName string) (bool, error)

	// ConnectionStringFor returns the connection string a caller would use to reach
	// dbName directly, without creating or checking for its existence.
	ConnectionStringFor(dbName string) string

	// Close releases the engine's pooled admin connection. called once at shutdown.
	Close() error
}

// Factory memoizes one Provisioner instance per engine so the admin connection pool for
// each engine is opened at most once, however many previews request that engine.
// concurrent Create calls across previews share the same memoized provisioner safely --
// *sql.DB and mongo.Client are both safe for concurrent use.
type Factory struct {
	mu           sync.Mutex
	cfg          *config.AppConfig
	provisioners map[models.DatabaseEngine]Provisioner
}

// NewFactory returns a Factory that lazily opens an admin connection for each engine the
// first time that engine is requested via Get.
func NewFactory(cfg *config.AppConfig) *Factory {
	return &Factory{
		cfg:          cfg,
		provisioners: make(map[models.DatabaseEngine]Provisioner),
	}
}

// Get returns the memoized Provisioner for engine, opening its admin connection on first
// use. it is safe to call concurrently from multiple orchestrator goroutines.
func (f *Factory) Get(ctx context.Context, engine models.DatabaseEngine) (Provisioner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.provisioners[engine]; ok {
		return p, nil
	}

	var (
		p   Provisioner
		err error
	)
	switch engine {
	case models.EngineRelationalA:
		p, err = newRelationalAProvisioner(ctx, f.cfg)
	case models.EngineRelationalB:
		p, err = newRelationalBProvisioner(ctx, f.cfg)
	case models.EngineDocument:
		p, err = newDocumentProvisioner(ctx, f.cfg)
	default:
		return nil, fmt.Errorf("%w: unrecognized database engine %q", apierror.ErrProvision, engine)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open admin connection for engine %q: %v", apierror.ErrProvision, engine, err)
	}

	f.provisioners[engine] = p
	return p, nil
}

// CloseAll releases every admin connection this factory has opened. called once from
// main.go during graceful shutdown.
func (f *Factory) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for engine, p := range f.provisioners {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close provisioner for engine %q: %w", engine, err)
		}
	}
	return firstErr
}
