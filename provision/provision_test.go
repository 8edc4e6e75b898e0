package provision

import "testing"

func TestRelationalADSNIncludesPassword(t *testing.T) {
	dsn := relationalADSN("db.local", "5432", "previewd", "s3cret", "postgres")
	if dsn != "host=db.local port=5432 user=previewd dbname=postgres sslmode=disable password=s3cret" {
		t.Fatalf("unexpected dsn: %q", dsn)
	}
}

func TestRelationalADSNOmitsEmptyPassword(t *testing.T) {
	dsn := relationalADSN("db.local", "5432", "previewd", "", "postgres")
	if dsn != "host=db.local port=5432 user=previewd dbname=postgres sslmode=disable" {
		t.Fatalf("unexpected dsn: %q", dsn)
	}
}

func TestQuoteIdentEscapesDoubleQuotes(t *testing.T) {
	if got := quoteIdent(`foo"bar`); got != `"foo""bar"` {
		t.Fatalf("unexpected quoted ident: %q", got)
	}
}

func TestQuoteIdentBacktickEscapesBackticks(t *testing.T) {
	if got := quoteIdentBacktick("foo`bar"); got != "`foo``bar`" {
		t.Fatalf("unexpected quoted ident: %q", got)
	}
}

func TestRelationalAURLAuthWithPassword(t *testing.T) {
	if got := relationalAURLAuth("previewd", "s3cret"); got != "previewd:s3cret@" {
		t.Fatalf("unexpected auth segment: %q", got)
	}
}

func TestRelationalAURLAuthWithoutPassword(t *testing.T) {
	if got := relationalAURLAuth("previewd", ""); got != "previewd@" {
		t.Fatalf("unexpected auth segment: %q", got)
	}
}

func TestDocumentURIWithUser(t *testing.T) {
	uri := documentURI("doc.local", "27017", "admin", "pw")
	if uri != "mongodb://admin:pw@doc.local:27017" {
		t.Fatalf("unexpected uri: %q", uri)
	}
}

func TestDocumentURIWithoutUser(t *testing.T) {
	uri := documentURI("doc.local", "27017", "", "")
	if uri != "mongodb://doc.local:27017" {
		t.Fatalf("unexpected uri: %q", uri)
	}
}

func TestDbNameFromMongoURI(t *testing.T) {
	if got := dbNameFromMongoURI("mongodb://doc.local:27017/preview_abcd"); got != "preview_abcd" {
		t.Fatalf("unexpected db name: %q", got)
	}
}

func TestDbNameFromMongoURINoSlash(t *testing.T) {
	if got := dbNameFromMongoURI("mongodb://doc.local:27017"); got != "" {
		t.Fatalf("expected empty db name, got %q", got)
	}
}

func TestSqlMigrationFilesEmptyDirReturnsNil(t *testing.T) {
	files, err := sqlMigrationFiles("")
	if err != nil {
		t.Fatalf("sqlMigrationFiles: %v", err)
	}
	if files != nil {
		t.Fatalf("expected nil files for empty dir, got %v", files)
	}
}

func TestSqlMigrationFilesMissingDirReturnsNilNoError(t *testing.T) {
	files, err := sqlMigrationFiles("/nonexistent/path/that/should/not/exist")
	if err != nil {
		t.Fatalf("sqlMigrationFiles on missing dir should not error, got %v", err)
	}
	if files != nil {
		t.Fatalf("expected nil files for missing dir, got %v", files)
	}
}
