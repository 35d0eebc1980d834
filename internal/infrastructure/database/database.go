package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirMode  = 0750
	fileMode = 0600

	// openPingTimeout bounds the connectivity check in Open.
	openPingTimeout = 5 * time.Second
)

// DB is the daemon's SQLite handle. The embedded sql.DB carries the
// query API; this wrapper adds migrations, a health probe and
// journal-friendly connection settings.
type DB struct {
	*sql.DB
	path string
}

// Config is the database section of config.yaml.
type Config struct {
	// Path to the SQLite file. The parent directory is created on open.
	Path string

	// WALMode turns on write-ahead logging so journal reads do not
	// block the recorder's inserts.
	WALMode bool

	// BusyTimeout is the lock wait in seconds before SQLITE_BUSY.
	BusyTimeout int
}

// dsn builds the go-sqlite3 connection string. Foreign keys are always
// enforced; WAL and relaxed sync are opt-in.
func (cfg Config) dsn() string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Open connects to the journal database, creating the file and its
// directory as needed, and verifies the connection with a ping.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer. The journal recorder is the only
	// steady writer, so a single pooled connection is enough.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Lifecycle history is operator data; keep it owner-only. The file
	// may not exist yet on a fresh WAL database, so ignore the error.
	_ = os.Chmod(cfg.Path, fileMode)

	return db, nil
}

// Close releases the connection. Safe on a DB that never opened.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string { return db.path }

// HealthCheck runs a trivial query to prove the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats exposes pool statistics for the metrics endpoint.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}
