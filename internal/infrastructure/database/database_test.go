package database

import (
	"context"
	"embed"
	"os"
	"path/filepath"
	"testing"
	"time"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations points the package at the journal schema fixtures
// under testdata for the duration of a test.
func useTestMigrations(t *testing.T) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = testMigrationsFS
	MigrationsDir = "testdata"
}

// openTestDB opens a fresh database under t.TempDir.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

// openJournalDB opens a database with the journal schema applied.
func openJournalDB(t *testing.T) *DB {
	t.Helper()
	useTestMigrations(t)
	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestOpenCreatesFileAndDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state", "journal.db")

	db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file missing: %v", err)
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on closed DB error = %v", err)
	}
}

func TestJournalRowRoundtrip(t *testing.T) {
	db := openJournalDB(t)
	ctx := context.Background()

	res, err := db.ExecContext(ctx, `
		INSERT INTO device_journal (device_id, kind, from_state, to_state, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		"0.0.1234", "transition", "offline", "online",
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("insert journal row: %v", err)
	}
	if id, _ := res.LastInsertId(); id != 1 {
		t.Errorf("LastInsertId() = %d, want 1", id)
	}

	var kind, to string
	err = db.QueryRowContext(ctx,
		"SELECT kind, to_state FROM device_journal WHERE device_id = ?", "0.0.1234",
	).Scan(&kind, &to)
	if err != nil {
		t.Fatalf("read journal row: %v", err)
	}
	if kind != "transition" || to != "online" {
		t.Errorf("row = (%s, %s), want (transition, online)", kind, to)
	}
}

func TestTransactionRollbackLeavesJournalUntouched(t *testing.T) {
	db := openJournalDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_journal (device_id, kind, occurred_at)
		VALUES (?, ?, ?)`,
		"0.0.5678", "registered", time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM device_journal WHERE device_id = ?", "0.0.5678",
	).Scan(&count)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("rolled back insert left %d rows", count)
	}
}

func TestStatsSingleWriter(t *testing.T) {
	db := openTestDB(t)
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}
