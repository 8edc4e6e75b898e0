package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/previewd/previewd/apierror"
	"github.com/previewd/previewd/config"
)

// documentProvisioner provisions mongo-style databases. it wraps mongo.Connect with the
// same ping-on-construct idiom the runtime package's NewClient uses for the Docker daemon
// connection: dial once, ping immediately, and fail construction if the engine is
// unreachable. the Factory constructs it lazily, so that failure surfaces on the first
// preview that requests the document engine, not at process start.
type documentProvisioner struct {
	client *mongo.Client
	uri    string
}

// seedDocument is the shape of one *.json migration file: a target collection name and
// the literal documents to insert into it. "arbitrary code" migrations (the host-supplied
// adapter SPEC_FULL.md §4.3 also allows for) are out of scope here -- this module only
// implements the seed-document half, since no corpus example shows a plugin-style code
// loader to ground the other half on.
type seedDocument struct {
	Collection string           `json:"collection"`
	Documents  []map[string]any `json:"documents"`
}

func newDocumentProvisioner(ctx context.Context, cfg *config.AppConfig) (*documentProvisioner, error) {
	uri := documentURI(cfg.DocumentHost, cfg.DocumentPort, cfg.DocumentUser, cfg.DocumentPassword)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to document engine: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	defer cancelPing()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping document engine: %w", err)
	}

	return &documentProvisioner{client: client, uri: uri}, nil
}

func documentURI(host, port, user, pass string) string {
	if user == "" {
		return fmt.Sprintf("mongodb://%s:%s", host, port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%s", user, pass, host, port)
}

// CreateDatabase materializes dbName by inserting one document into a sentinel collection
// -- mongo databases and collections are created lazily on first write, so an empty
// database is indistinguishable from a nonexistent one until something is written into
// it. a database that already exists is left untouched and its connection string is
// returned. previewId is otherwise used only in error messages.
func (p *documentProvisioner) CreateDatabase(ctx context.Context, previewId, dbName string) (string, error) {
	exists, err := p.DatabaseExists(ctx, dbName)
	if err != nil {
		return "", err
	}
	if exists {
		return p.ConnectionStringFor(dbName), nil
	}

	sentinel := p.client.Database(dbName).Collection("_previewd_sentinel")
	if _, err := sentinel.InsertOne(ctx, bson.M{"created_at": time.Now().UTC()}); err != nil {
		return "", fmt.Errorf("%w: materialize document database %q for preview %q: %v", apierror.ErrProvision, dbName, previewId, err)
	}
	return p.ConnectionStringFor(dbName), nil
}

// RunMigrations iterates *.json seed files in lexicographic order and inserts each one's
// documents into its named collection.
func (p *documentProvisioner) RunMigrations(ctx context.Context, connectionString, migrationsDir string) error {
	if migrationsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(migrationsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: list document migrations in %q: %v", apierror.ErrMigration, migrationsDir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(migrationsDir, entry.Name()))
	}
	sort.Strings(files)

	dbName := dbNameFromMongoURI(connectionString)
	database := p.client.Database(dbName)

	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("%w: read seed file %q: %v", apierror.ErrMigration, file, err)
		}

		var seed seedDocument
		if err := json.Unmarshal(body, &seed); err != nil {
			return fmt.Errorf("%w: parse seed file %q: %v", apierror.ErrMigration, file, err)
		}
		if len(seed.Documents) == 0 {
			continue
		}

		toInsert := make([]any, 0, len(seed.Documents))
		for _, doc := range seed.Documents {
			toInsert = append(toInsert, doc)
		}
		if _, err := database.Collection(seed.Collection).InsertMany(ctx, toInsert); err != nil {
			return fmt.Errorf("%w: seed collection %q from %q: %v", apierror.ErrMigration, seed.Collection, file, err)
		}
	}
	return nil
}

func (p *documentProvisioner) DestroyDatabase(ctx context.Context, previewId, dbName string) error {
	if err := p.client.Database(dbName).Drop(ctx); err != nil {
		return fmt.Errorf("%w: drop document database %q for preview %q: %v", apierror.ErrProvision, dbName, previewId, err)
	}
	return nil
}

func (p *documentProvisioner) DatabaseExists(ctx context.Context, dbName string) (bool, error) {
	names, err := p.client.ListDatabaseNames(ctx, bson.M{"name": dbName})
	if err != nil {
		return false, fmt.Errorf("%w: check existence of document database %q: %v", apierror.ErrProvision, dbName, err)
	}
	return len(names) > 0, nil
}

func (p *documentProvisioner) ConnectionStringFor(dbName string) string {
	return p.uri + "/" + dbName
}

func (p *documentProvisioner) Close() error {
	return p.client.Disconnect(context.Background())
}

// dbNameFromMongoURI extracts the trailing path segment a ConnectionStringFor call
// appended -- a small local helper rather than a general URI parser, since the only
// input this ever receives is a string this same package produced.
func dbNameFromMongoURI(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx == -1 || idx == len(uri)-1 {
		return ""
	}
	return uri[idx+1:]
}
