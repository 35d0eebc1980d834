package database

import (
	"context"
	"embed"
	"testing"
)

// schemaHas reports whether a table or index is present in the schema
// catalogue.
func schemaHas(t *testing.T, db *DB, kind, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("schema query: %v", err)
	}
	return count > 0
}

func TestMigrateAppliesJournalSchema(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if !schemaHas(t, db, "table", "device_journal") {
		t.Error("device_journal table not created")
	}
	if !schemaHas(t, db, "index", "idx_device_journal_kind") {
		t.Error("second migration did not run")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
	if len(applied) == 2 && applied[0].Version > applied[1].Version {
		t.Error("migrations applied out of version order")
	}

	// Idempotent: nothing left to do.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDownRollsBackLatestOnly(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if schemaHas(t, db, "index", "idx_device_journal_kind") {
		t.Error("latest migration not rolled back")
	}
	if !schemaHas(t, db, "table", "device_journal") {
		t.Error("rollback dropped more than the latest migration")
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("second MigrateDown() error = %v", err)
	}
	if schemaHas(t, db, "table", "device_journal") {
		t.Error("device_journal survived its down migration")
	}

	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %d after full rollback, want 0", len(applied))
	}
}

func TestMigrateWithoutEmbeddedFiles(t *testing.T) {
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = embed.FS{}
	MigrationsDir = "."

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestGetMigrationStatusBeforeMigrate(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.ensureMigrationsTable(ctx); err != nil {
		t.Fatalf("ensureMigrationsTable() error = %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %d, want 0", len(applied))
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}

func TestSplitMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOk      bool
	}{
		{"20260601_120000_device_journal.up.sql", "20260601_120000", "device_journal", true, true},
		{"20260601_120000_device_journal.down.sql", "20260601_120000", "device_journal", false, true},
		{"20260715_090000_journal_kind_index.up.sql", "20260715_090000", "journal_kind_index", true, true},
		{"readme.txt", "", "", false, false},
		{"20260601_120000_device_journal.sql", "", "", false, false},
		{"notaversion.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := splitMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if up != tt.wantUp {
				t.Errorf("up = %v, want %v", up, tt.wantUp)
			}
		})
	}
}
