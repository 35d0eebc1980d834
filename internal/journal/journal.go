package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Kind classifies a journal entry.
type Kind string

const (
	// KindRegistered: a device became visible to the subsystem.
	KindRegistered Kind = "registered"
	// KindUnregistered: a device was removed.
	KindUnregistered Kind = "unregistered"
	// KindTransition: a state-machine transition.
	KindTransition Kind = "transition"
)

// Entry is one row of the device lifecycle journal.
type Entry struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Kind       Kind      `json:"kind"`
	FromState  string    `json:"from_state,omitempty"`
	ToState    string    `json:"to_state,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Repository persists lifecycle journal entries in the device_journal
// table.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a journal repository on an open SQLite
// connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one journal entry. A zero OccurredAt is stamped with
// the current time.
func (r *Repository) Record(ctx context.Context, e Entry) error {
	if e.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if e.Kind == "" {
		return fmt.Errorf("entry kind is required")
	}
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_journal (device_id, kind, from_state, to_state, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.DeviceID,
		string(e.Kind),
		nullable(e.FromState),
		nullable(e.ToState),
		occurred.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// History returns recent entries for one device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Device bus id ("0.0.1234")
//   - limit: Maximum entries to return (default 50, max 200)
func (r *Repository) History(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	return r.query(ctx,
		`SELECT id, device_id, kind, from_state, to_state, occurred_at
		 FROM device_journal
		 WHERE device_id = ?
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ?`,
		deviceID, clampLimit(limit))
}

// Recent returns the newest entries across all devices.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return r.query(ctx,
		`SELECT id, device_id, kind, from_state, to_state, occurred_at
		 FROM device_journal
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ?`,
		clampLimit(limit))
}

// Prune deletes entries older than the given duration and reports how
// many rows went away.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_journal WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting journal entries: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var from, to sql.NullString
		var occurred string
		if err := rows.Scan(&e.ID, &e.DeviceID, &kind, &from, &to, &occurred); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		e.Kind = Kind(kind)
		e.FromState = from.String
		e.ToState = to.String
		ts, err := time.Parse(time.RFC3339, occurred)
		if err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		e.OccurredAt = ts
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
