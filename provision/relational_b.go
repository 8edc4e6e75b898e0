package provision

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/previewd/previewd/apierror"
	"github.com/previewd/previewd/config"
)

// relationalBProvisioner provisions mysql-style databases. it follows the identical
// admin-pool shape as relationalAProvisioner (see relational_a.go's doc comment for the
// source this pattern is lifted from), re-targeted to the go-sql-driver/mysql DSN format.
type relationalBProvisioner struct {
	admin *sql.DB
	host  string
	port  string
	user  string
	pass  string
}

func newRelationalBProvisioner(ctx context.Context, cfg *config.AppConfig) (*relationalBProvisioner, error) {
	adminCfg := mysqldriver.NewConfig()
	adminCfg.Net = "tcp"
	adminCfg.Addr = cfg.RelationalBHost + ":" + cfg.RelationalBPort
	adminCfg.User = cfg.RelationalBUser
	adminCfg.Passwd = cfg.RelationalBPassword
	adminCfg.ParseTime = true

	admin, err := sql.Open("mysql", adminCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql admin connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := admin.PingContext(pingCtx); err != nil {
		admin.Close()
		return nil, fmt.Errorf("ping mysql admin connection: %w", err)
	}

	return &relationalBProvisioner{
		admin: admin,
		host:  cfg.RelationalBHost,
		port:  cfg.RelationalBPort,
		user:  cfg.RelationalBUser,
		pass:  cfg.RelationalBPassword,
	}, nil
}

func (p *relationalBProvisioner) CreateDatabase(ctx context.Context, previewId, dbName string) (string, error) {
	exists, err := p.DatabaseExists(ctx, dbName)
	if err != nil {
		return "", err
	}
	if exists {
		return p.ConnectionStringFor(dbName), nil
	}

	_, err = p.admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", quoteIdentBacktick(dbName)))
	if err != nil {
		return "", fmt.Errorf("%w: create mysql database %q for preview %q: %v", apierror.ErrProvision, dbName, previewId, err)
	}
	return p.ConnectionStringFor(dbName), nil
}

// RunMigrations splits each migration file's body on ";" and executes the resulting
// statements sequentially, per SPEC_FULL.md §4.3's relational-B migration semantics --
// this is the one place relational-B diverges from relational-A's whole-file ExecContext.
func (p *relationalBProvisioner) RunMigrations(ctx context.Context, connectionString, migrationsDir string) error {
	files, err := sqlMigrationFiles(migrationsDir)
	if err != nil {
		return fmt.Errorf("%w: list mysql migrations in %q: %v", apierror.ErrMigration, migrationsDir, err)
	}
	if len(files) == 0 {
		return nil
	}

	conn, err := sql.Open("mysql", connectionString)
	if err != nil {
		return fmt.Errorf("%w: open dedicated migration connection: %v", apierror.ErrMigration, err)
	}
	defer conn.Close()

	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("%w: read migration file %q: %v", apierror.ErrMigration, file, err)
		}
		for _, statement := range strings.Split(string(body), ";") {
			statement = strings.TrimSpace(statement)
			if statement == "" {
				continue
			}
			if _, err := conn.ExecContext(ctx, statement); err != nil {
				return fmt.Errorf("%w: execute statement from %q: %v", apierror.ErrMigration, file, err)
			}
		}
	}
	return nil
}

func (p *relationalBProvisioner) DestroyDatabase(ctx context.Context, previewId, dbName string) error {
	_, err := p.admin.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteIdentBacktick(dbName)))
	if err != nil {
		return fmt.Errorf("%w: drop mysql database %q for preview %q: %v", apierror.ErrProvision, dbName, previewId, err)
	}
	return nil
}

func (p *relationalBProvisioner) DatabaseExists(ctx context.Context, dbName string) (bool, error) {
	var name string
	err := p.admin.QueryRowContext(ctx, `SELECT schema_name FROM information_schema.schemata WHERE schema_name = ?`, dbName).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check existence of mysql database %q: %v", apierror.ErrProvision, dbName, err)
	}
	return true, nil
}

func (p *relationalBProvisioner) ConnectionStringFor(dbName string) string {
	userinfo := p.user
	if p.pass != "" {
		userinfo += ":" + p.pass
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?parseTime=true", userinfo, p.host, p.port, dbName)
}

func (p *relationalBProvisioner) Close() error {
	return p.admin.Close()
}

func quoteIdentBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
