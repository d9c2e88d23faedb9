// Package db tests for database migration management.
package db

import (
	"strings"
	"testing"
	"testing/fstest"
)

// openMemoryDB opens an empty in-memory SQLite database.
func openMemoryDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openMemoryDB(t)
	m := NewMigrator(db)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", version)
	}

	_, err = db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "test_migration", strings.Repeat("a", 64))
	if err != nil {
		t.Errorf("Failed to insert test row: %v", err)
	}
}

// TestMigrate_embeddedSchema verifies the embedded schema applies and is recorded once.
func TestMigrate_embeddedSchema(t *testing.T) {
	db := openMemoryDB(t)

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() second run failed: %v", err)
	}

	for _, table := range []string{
		"connections", "entity_mappings", "sync_logs", "pending_sync_queue",
		"oauth_states", "conflict_log", "local_records",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	applied, err := NewMigrator(db).GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 1 || applied[0].Description != "initial_schema" || len(applied[0].Checksum) != 64 {
		t.Errorf("unexpected applied migrations: %+v", applied)
	}
}

// TestUpDown_fromFS verifies ordering, skipping and rollback with an in-memory FS.
func TestUpDown_fromFS(t *testing.T) {
	db := openMemoryDB(t)
	fsys := fstest.MapFS{
		"m/V2__add_b.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER PRIMARY KEY);")},
		"m/V2__add_b.down.sql": {Data: []byte("DROP TABLE b;")},
		"m/V1__add_a.up.sql": {Data: []byte(`-- first table
CREATE TABLE a (id INTEGER PRIMARY KEY);
CREATE INDEX idx_a ON a (id);`)},
		"m/README.md":      {Data: []byte("ignored")},
		"m/Vx__bad.up.sql": {Data: []byte("ignored")},
	}

	m := NewMigratorFS(db, fsys, "m")
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	version, _ := m.CurrentVersion()
	if version != 2 {
		t.Fatalf("CurrentVersion() = %d, want 2", version)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	version, _ = m.CurrentVersion()
	if version != 1 {
		t.Errorf("CurrentVersion() after Down = %d, want 1", version)
	}

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='b'").Scan(&name); err == nil {
		t.Error("table b should be dropped after Down()")
	}

	// V1 has no down file
	if err := m.Down(); err == nil || !strings.Contains(err.Error(), "no rollback migration found") {
		t.Errorf("Down() without down file error = %v", err)
	}
}

// TestDown_noMigrations verifies error when no migrations to rollback.
func TestDown_noMigrations(t *testing.T) {
	m := NewMigrator(openMemoryDB(t))
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	err := m.Down()
	if err == nil || !strings.Contains(err.Error(), "no migrations to rollback") {
		t.Errorf("Down() error = %v, want 'no migrations to rollback'", err)
	}
}

// TestSplitStatements verifies comment stripping and statement boundaries.
func TestSplitStatements(t *testing.T) {
	script := `-- header
CREATE TABLE x (
    id INTEGER
);

CREATE INDEX i ON x (id);
SELECT 1`
	stmts := splitStatements(script)
	if len(stmts) != 3 {
		t.Fatalf("splitStatements() = %d statements, want 3: %q", len(stmts), stmts)
	}
	if strings.HasSuffix(stmts[0], ";") || !strings.HasPrefix(stmts[0], "CREATE TABLE x") {
		t.Errorf("first statement = %q", stmts[0])
	}
}
