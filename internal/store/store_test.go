package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"managed_records", "local_records", "remote_records", "remote_files", "managed_accounts", "store_metadata"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	pragmas := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, p := range pragmas {
		if err := s.verifyPragma(p.name, p.want); err != nil {
			t.Error(err)
		}
	}
}

// Schema tests

func TestSchema_LocalRecordsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "local_records")
	for _, col := range []string{
		"record_type", "record_identifier", "locator", "status", "modification_date",
		"sha1_hash", "version_identifier", "version_date", "additional_properties",
		"remote_relationships", "row_version",
	} {
		if !slices.Contains(columns, col) {
			t.Errorf("local_records missing column %q", col)
		}
	}
}

func TestSchema_RemoteFilesCascade(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	stmts := []string{
		`INSERT INTO managed_records (record_type, record_identifier) VALUES ('Game', 'g1')`,
		`INSERT INTO local_records (record_type, record_identifier, locator, status, modification_date, sha1_hash)
		 VALUES ('Game', 'g1', 'x', 0, 0, '')`,
		`INSERT INTO remote_files VALUES ('Game', 'g1', 'game', 'h', 1, 'r', 'v')`,
		`DELETE FROM managed_records`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM remote_files").Scan(&count); err != nil {
		t.Fatalf("count remote files: %v", err)
	}
	if count != 0 {
		t.Errorf("remote_files has %d rows after owner deleted, want 0", count)
	}
}

func TestSchema_RemoteFileRequiresOwner(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO remote_files VALUES ('Game', 'missing', 'game', 'h', 1, 'r', 'v')`)
	if err == nil {
		t.Error("expected foreign key violation for remote file without local record")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	indexes := getTableIndexes(t, s.db, "remote_files")
	if !slices.Contains(indexes, "idx_remote_files_remote_identifier") {
		t.Errorf("expected remote identifier index after migration, got indexes: %v", indexes)
	}
}

// Metadata tests

func TestSeededFlag(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seeded, err := s.IsSeeded(ctx)
	if err != nil {
		t.Fatalf("IsSeeded() failed: %v", err)
	}
	if seeded {
		t.Error("new store reports seeded")
	}

	if err := s.SetSeeded(ctx, true); err != nil {
		t.Fatalf("SetSeeded() failed: %v", err)
	}
	seeded, err = s.IsSeeded(ctx)
	if err != nil {
		t.Fatalf("IsSeeded() failed: %v", err)
	}
	if !seeded {
		t.Error("store not seeded after SetSeeded(true)")
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	seeded, _ = s.IsSeeded(ctx)
	if seeded {
		t.Error("store still seeded after Reset")
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}
