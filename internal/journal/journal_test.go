package journal

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupJournalTestDB creates an in-memory SQLite database with the device_journal table.
func setupJournalTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE device_journal (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			from_state  TEXT,
			to_state    TEXT,
			occurred_at TEXT NOT NULL
		);
		CREATE INDEX idx_device_journal_device ON device_journal(device_id, occurred_at);
		CREATE INDEX idx_device_journal_occurred ON device_journal(occurred_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// insertJournalRow inserts a journal row with a specific timestamp.
func insertJournalRow(t *testing.T, db *sql.DB, deviceID string, kind Kind, from, to string, occurredAt time.Time) {
	t.Helper()

	var fromVal, toVal any
	if from != "" {
		fromVal = from
	}
	if to != "" {
		toVal = to
	}
	_, err := db.Exec(
		"INSERT INTO device_journal (device_id, kind, from_state, to_state, occurred_at) VALUES (?, ?, ?, ?, ?)",
		deviceID, string(kind), fromVal, toVal, occurredAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("failed to insert journal row: %v", err)
	}
}

// TestRecordAndHistory verifies journal writes and per-device retrieval.
func TestRecordAndHistory(t *testing.T) {
	db := setupJournalTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	err := repo.Record(ctx, Entry{
		DeviceID:  "0.0.1234",
		Kind:      KindTransition,
		FromState: "offline",
		ToState:   "online",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.History(ctx, "0.0.1234", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.DeviceID != "0.0.1234" {
		t.Errorf("DeviceID = %q, want %q", entry.DeviceID, "0.0.1234")
	}
	if entry.Kind != KindTransition {
		t.Errorf("Kind = %q, want %q", entry.Kind, KindTransition)
	}
	if entry.FromState != "offline" || entry.ToState != "online" {
		t.Errorf("states = %q -> %q, want offline -> online", entry.FromState, entry.ToState)
	}
	if entry.OccurredAt.IsZero() {
		t.Error("OccurredAt is zero, want non-zero")
	}
}

// TestRecordValidation verifies required fields are enforced.
func TestRecordValidation(t *testing.T) {
	db := setupJournalTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	if err := repo.Record(ctx, Entry{Kind: KindRegistered}); err == nil {
		t.Error("Record() with empty device id succeeded, want error")
	}
	if err := repo.Record(ctx, Entry{DeviceID: "0.0.1234"}); err == nil {
		t.Error("Record() with empty kind succeeded, want error")
	}
}

// TestHistoryOrderingAndLimit verifies newest-first ordering and limit enforcement.
func TestHistoryOrderingAndLimit(t *testing.T) {
	db := setupJournalTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertJournalRow(t, db, "0.0.1234", KindRegistered, "", "", now.Add(-2*time.Hour))
	insertJournalRow(t, db, "0.0.1234", KindTransition, "offline", "online", now.Add(-1*time.Hour))
	insertJournalRow(t, db, "0.0.1234", KindTransition, "online", "offline", now)
	insertJournalRow(t, db, "0.0.5678", KindRegistered, "", "", now)

	entries, err := repo.History(ctx, "0.0.1234", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
	if !entries[0].OccurredAt.Equal(now) {
		t.Errorf("entry[0] OccurredAt = %s, want %s", entries[0].OccurredAt, now)
	}
	if !entries[1].OccurredAt.Equal(now.Add(-1 * time.Hour)) {
		t.Errorf("entry[1] OccurredAt = %s, want %s", entries[1].OccurredAt, now.Add(-1*time.Hour))
	}
}

// TestRecentSpansDevices verifies Recent covers all devices.
func TestRecentSpansDevices(t *testing.T) {
	db := setupJournalTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertJournalRow(t, db, "0.0.1234", KindRegistered, "", "", now.Add(-time.Hour))
	insertJournalRow(t, db, "0.0.5678", KindRegistered, "", "", now)

	entries, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
	if entries[0].DeviceID != "0.0.5678" {
		t.Errorf("entry[0] DeviceID = %q, want newest device first", entries[0].DeviceID)
	}
}

// TestPrune verifies old entries are removed.
func TestPrune(t *testing.T) {
	db := setupJournalTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertJournalRow(t, db, "0.0.1234", KindTransition, "offline", "online", now.Add(-40*24*time.Hour))
	insertJournalRow(t, db, "0.0.1234", KindTransition, "online", "offline", now.Add(-12*time.Hour))

	deleted, err := repo.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	entries, err := repo.History(ctx, "0.0.1234", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
}

// TestRecorderFlushesOnShutdown verifies queued entries reach the
// database before Run returns.
func TestRecorderFlushesOnShutdown(t *testing.T) {
	db := setupJournalTestDB(t)
	repo := NewRepository(db)
	rec := NewRecorder(repo)

	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)

	rec.enqueue(Entry{DeviceID: "0.0.1234", Kind: KindRegistered})
	rec.enqueue(Entry{DeviceID: "0.0.1234", Kind: KindTransition, FromState: "offline", ToState: "online"})

	cancel()
	rec.Wait()

	entries, err := repo.History(context.Background(), "0.0.1234", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
}
