package storage

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_ReopenKeepsVersion(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	v1, err := s1.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v1 < 1 {
		t.Fatalf("SchemaVersion = %d after Open, want >= 1", v1)
	}
	if _, err := s1.DB().Exec(`INSERT INTO datasets (id, owner_id, name, driver, dsn, schema_json, analyzed_at, created_at, updated_at)
		VALUES ('hr', 'alice', 'HR', 'sqlite', ':memory:', '{}', 'now', 'now', 'now')`); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	v2, _ := s2.SchemaVersion(ctx)
	if v2 != v1 {
		t.Errorf("version changed on reopen: %d -> %d", v1, v2)
	}
	var rows int
	s2.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows)
	if rows != v1 {
		t.Errorf("schema_version has %d rows, want %d", rows, v1)
	}
	var n int
	s2.DB().QueryRow("SELECT COUNT(*) FROM datasets").Scan(&n)
	if n != 1 {
		t.Errorf("datasets = %d after reopen, want 1", n)
	}
}

func TestOpen_ForeignKeysEnforced(t *testing.T) {
	s := openTestStore(t)
	_, err := s.DB().Exec(`INSERT INTO document_chunks (id, document_id, chunk_index, text, created_at)
		VALUES ('c1', 'missing-doc', 0, 'orphan', 'now')`)
	if err == nil {
		t.Error("chunk without a document was accepted")
	}
}

func TestTablesAndIndexesExist(t *testing.T) {
	s := openTestStore(t)

	objects := map[string]string{
		"datasets":                         "table",
		"documents":                        "table",
		"document_chunks":                  "table",
		"query_cache":                      "table",
		"query_history":                    "table",
		"jobs":                             "table",
		"idx_query_cache_expires":          "index",
		"idx_query_history_caller_created": "index",
		"idx_jobs_status_run_after":        "index",
		"idx_document_chunks_document":     "index",
	}
	for name, typ := range objects {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", typ, name).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", name, err)
		}
		if count != 1 {
			t.Errorf("%s %q not found in sqlite_master", typ, name)
		}
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_later.sql": {Data: []byte("CREATE TABLE b (x);")},
		"m/002_first.sql": {Data: []byte("CREATE TABLE a (x);")},
		"m/README.md":     {Data: []byte("ignored")},
	}
	ms, err := loadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(ms) != 2 || ms[0].version != 2 || ms[1].version != 10 {
		t.Fatalf("migrations = %+v", ms)
	}

	fsys["m/002_again.sql"] = &fstest.MapFile{Data: []byte("SELECT 1;")}
	if _, err := loadMigrations(fsys, "m"); err == nil || !strings.Contains(err.Error(), "share version 2") {
		t.Errorf("err = %v, want duplicate version error", err)
	}
}

func TestMigrate_AppliesOnlyNewer(t *testing.T) {
	s := openTestStore(t)
	base, _ := s.SchemaVersion(ctx)

	extra := []migration{
		{version: base, name: "old.sql", sql: "THIS IS NOT SQL"},
		{version: base + 1, name: "new.sql", sql: "CREATE TABLE extra (x INTEGER);"},
	}
	if err := s.migrate(ctx, extra); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if v, _ := s.SchemaVersion(ctx); v != base+1 {
		t.Errorf("SchemaVersion = %d, want %d", v, base+1)
	}

	bad := []migration{{version: base + 2, name: "bad.sql", sql: "CREATE TABLE (;"}}
	if err := s.migrate(ctx, bad); err == nil || !strings.Contains(err.Error(), "bad.sql") {
		t.Errorf("err = %v, want failure naming bad.sql", err)
	}
	if v, _ := s.SchemaVersion(ctx); v != base+1 {
		t.Errorf("failed migration was recorded: version %d", v)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("007_add_things.sql")
	if err != nil {
		t.Fatalf("parseMigrationVersion: %v", err)
	}
	if v != 7 {
		t.Errorf("version = %d, want 7", v)
	}
	if _, err := parseMigrationVersion("nope.sql"); err == nil {
		t.Error("expected error for filename without version prefix")
	}
}
