package provision

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/previewd/previewd/apierror"
	"github.com/previewd/previewd/config"
)

// relationalAProvisioner provisions postgres-style databases over a pooled admin
// connection. the admin connection pattern (sql.Open + context-bounded PingContext +
// close-on-ping-failure) is lifted from the r3e-network-service_layer database package's
// Open(ctx, dsn) helper, re-targeted here from a single application connection to a
// long-lived admin pool that issues CREATE DATABASE / DROP DATABASE / session-termination
// DDL against arbitrary target database names rather than connecting to one directly.
type relationalAProvisioner struct {
	admin *sql.DB
	host  string
	port  string
	user  string
	pass  string
}

func newRelationalAProvisioner(ctx context.Context, cfg *config.AppConfig) (*relationalAProvisioner, error) {
	adminDSN := relationalADSN(cfg.RelationalAHost, cfg.RelationalAPort, cfg.RelationalAUser, cfg.RelationalAPassword, "postgres")

	admin, err := sql.Open("postgres", adminDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres admin connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := admin.PingContext(pingCtx); err != nil {
		admin.Close()
		return nil, fmt.Errorf("ping postgres admin connection: %w", err)
	}

	return &relationalAProvisioner{
		admin: admin,
		host:  cfg.RelationalAHost,
		port:  cfg.RelationalAPort,
		user:  cfg.RelationalAUser,
		pass:  cfg.RelationalAPassword,
	}, nil
}

func relationalADSN(host, port, user, pass, dbName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%s user=%s dbname=%s sslmode=disable", host, port, user, dbName)
	if pass != "" {
		fmt.Fprintf(&b, " password=%s", pass)
	}
	return b.String()
}

func (p *relationalAProvisioner) CreateDatabase(ctx context.Context, previewId, dbName string) (string, error) {
	exists, err := p.DatabaseExists(ctx, dbName)
	if err != nil {
		return "", err
	}
	if exists {
		return p.ConnectionStringFor(dbName), nil
	}

	// postgres does not support parameterized identifiers in DDL; dbName is always
	// produced by naming.DatabaseName, which sanitizes to [a-z0-9_] only, so this is not
	// attacker-controlled free text reaching the query string.
	_, err = p.admin.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE %s`, quoteIdent(dbName)))
	if err != nil {
		return "", fmt.Errorf("%w: create postgres database %q for preview %q: %v", apierror.ErrProvision, dbName, previewId, err)
	}

	return p.ConnectionStringFor(dbName), nil
}

func (p *relationalAProvisioner) RunMigrations(ctx context.Context, connectionString, migrationsDir string) error {
	files, err := sqlMigrationFiles(migrationsDir)
	if err != nil {
		return fmt.Errorf("%w: list postgres migrations in %q: %v", apierror.ErrMigration, migrationsDir, err)
	}
	if len(files) == 0 {
		return nil
	}

	conn, err := sql.Open("postgres", connectionString)
	if err != nil {
		return fmt.Errorf("%w: open dedicated migration connection: %v", apierror.ErrMigration, err)
	}
	defer conn.Close()

	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("%w: read migration file %q: %v", apierror.ErrMigration, file, err)
		}
		if _, err := conn.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("%w: execute migration file %q: %v", apierror.ErrMigration, file, err)
		}
	}
	return nil
}

func (p *relationalAProvisioner) DestroyDatabase(ctx context.Context, previewId, dbName string) error {
	// terminate every other backend connected to the target database before dropping it
	// -- postgres refuses DROP DATABASE while any session (eg a leftover container that
	// was slow to shut down) still holds a connection open against it.
	terminateQuery := `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`
	if _, err := p.admin.ExecContext(ctx, terminateQuery, dbName); err != nil {
		return fmt.Errorf("%w: terminate sessions on postgres database %q: %v", apierror.ErrProvision, dbName, err)
	}

	_, err := p.admin.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, quoteIdent(dbName)))
	if err != nil {
		return fmt.Errorf("%w: drop postgres database %q for preview %q: %v", apierror.ErrProvision, dbName, previewId, err)
	}
	return nil
}

func (p *relationalAProvisioner) DatabaseExists(ctx context.Context, dbName string) (bool, error) {
	var exists bool
	err := p.admin.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, dbName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: check existence of postgres database %q: %v", apierror.ErrProvision, dbName, err)
	}
	return exists, nil
}

func (p *relationalAProvisioner) ConnectionStringFor(dbName string) string {
	return "postgres://" + relationalAURLAuth(p.user, p.pass) + p.host + ":" + p.port + "/" + dbName + "?sslmode=disable"
}

func (p *relationalAProvisioner) Close() error {
	return p.admin.Close()
}

func relationalAURLAuth(user, pass string) string {
	if pass == "" {
		return user + "@"
	}
	return user + ":" + pass + "@"
}

// quoteIdent double-quotes a postgres identifier. dbName always comes from
// naming.DatabaseName, which restricts output to [a-z0-9_], so this is a defensive
// second layer rather than the only thing standing between untrusted input and DDL.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// sqlMigrationFiles returns every *.sql file directly under dir, sorted lexicographically
// -- shared by both relational engines since relational-B splits each file's body on ";"
// but still executes files in the same lexicographic order.
func sqlMigrationFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
